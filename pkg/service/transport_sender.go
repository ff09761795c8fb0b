package service

import (
	"fmt"

	dlog "github.com/duosync/duosync-go/pkg/log"
	"github.com/duosync/duosync-go/pkg/version"
	"github.com/duosync/duosync-go/pkg/wire"
)

// send encodes msg and writes it to the session link. Logging waits until
// the payload is out so sync send stamps stay close to the wire.
func (s *DeviceService) send(sess *session, msg wire.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type(), err)
	}
	if err := sess.link.Send(data); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type(), err)
	}
	s.logMessage(sess, dlog.DirectionOut, msg)
	return nil
}

// sendMessage is the sync engine's sender. Messages go to the current
// session; with no peer attached they fail with ErrNotConnected.
func (s *DeviceService) sendMessage(msg wire.Message) error {
	sess := s.currentSession()
	if sess == nil {
		return ErrNotConnected
	}
	return s.send(sess, msg)
}

func (s *DeviceService) sendHello(sess *session, reply bool) {
	s.mu.RLock()
	promoted := s.promoted
	s.mu.RUnlock()

	err := s.send(sess, &wire.Hello{
		DeviceID:        s.deviceID,
		PowerBudget:     s.cfg.PowerBudget,
		ProtocolVersion: version.Current,
		Failover:        promoted,
		Reply:           reply,
	})
	if err != nil {
		s.logger.Debug("hello not sent", "conn", sess.connID, "error", err)
	}
}
