package service

import (
	"context"
	"sync"

	"github.com/duosync/duosync-go/pkg/role"
	"github.com/duosync/duosync-go/pkg/sheet"
	"github.com/duosync/duosync-go/pkg/transport"
	"github.com/duosync/duosync-go/pkg/version"
	"github.com/duosync/duosync-go/pkg/wire"
)

// session is one attached link. It ends when the link goes down.
type session struct {
	link   transport.Link
	connID string
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	negotiated bool
	beaconing  bool
	peer       wire.Hello
	assignment role.Assignment
	version    version.ProtocolVersion

	// answered is the last losing peer version we sent our header for.
	answered     sheetPair
	haveAnswered bool
}

type sheetPair struct {
	remote, local sheet.Header
}

func (s *session) close() {
	s.cancel()
	_ = s.link.Close()
}

func (s *session) isNegotiated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.negotiated
}

// negotiate records the outcome of a Hello and reports whether it was the
// first one of the session.
func (s *session) negotiate(peer wire.Hello, a role.Assignment, v version.ProtocolVersion) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	first := !s.negotiated
	s.negotiated = true
	s.peer = peer
	s.assignment = a
	s.version = v
	return first
}

// startBeacons reports whether the caller should start the beacon loop.
func (s *session) startBeacons() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.beaconing {
		return false
	}
	s.beaconing = true
	return true
}

// answer reports whether the local header should go back to the peer for
// a remote version that lost against it. Each pair is answered once, so two
// peers that disagree on roles cannot bounce headers forever.
func (s *session) answer(remote, local sheet.Header) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := sheetPair{remote: remote, local: local}
	if s.haveAnswered && s.answered == p {
		return false
	}
	s.answered = p
	s.haveAnswered = true
	return true
}

func (s *session) primary() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assignment.Role == role.Primary
}

func (s *session) peerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer.DeviceID
}

func (s *session) current() (role.Assignment, version.ProtocolVersion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assignment, s.version, s.negotiated
}

func (s *session) stopBeacons() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beaconing = false
}
