package transport

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/duosync/duosync-go/pkg/clock"
)

const (
	// LinkKeySize is the derived key length.
	LinkKeySize = chacha20poly1305.KeySize

	// MinSecretSize is the minimum pairing secret length.
	MinSecretSize = 16

	// sealHeaderSize is session(8) || counter(8).
	sealHeaderSize = 16

	linkKeySalt = "duosync link key v1"
)

// Sealing errors.
var (
	ErrShortSecret = errors.New("pairing secret too short")
	ErrOpen        = errors.New("payload authentication failed")
	ErrReplay      = errors.New("replayed or stale payload")
)

// DeriveLinkKey derives the link key for a device pair from the shared
// pairing secret. pairID names the pair so the same secret yields
// distinct keys per pair.
func DeriveLinkKey(secret []byte, pairID string) ([]byte, error) {
	if len(secret) < MinSecretSize {
		return nil, fmt.Errorf("%w: %d < %d", ErrShortSecret, len(secret), MinSecretSize)
	}
	r := hkdf.New(sha256.New, secret, []byte(linkKeySalt), []byte(pairID))
	key := make([]byte, LinkKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}

// SecureLink seals every payload of an inner Link with
// XChaCha20-Poly1305. Each sender picks a random session ID and numbers
// its payloads; the receiver drops any counter it has already passed
// within the current session.
type SecureLink struct {
	inner  Link
	logger *slog.Logger
	aead   cipher.AEAD

	session [8]byte
	counter atomic.Uint64

	mu          sync.Mutex
	handler     Handler
	peerSession [8]byte
	peerCounter uint64
	havePeer    bool

	rejected atomic.Uint64
}

// NewSecureLink wraps inner with key, which must be LinkKeySize bytes.
// It takes over inner's receive handler.
func NewSecureLink(inner Link, key []byte, logger *slog.Logger) (*SecureLink, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("link cipher: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &SecureLink{inner: inner, logger: logger, aead: aead}
	if _, err := io.ReadFull(rand.Reader, s.session[:]); err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}
	inner.SetHandler(s.receive)
	return s, nil
}

// Send seals payload and sends it on the inner link.
func (s *SecureLink) Send(payload []byte) error {
	n := s.counter.Add(1)

	hdr := make([]byte, sealHeaderSize)
	copy(hdr, s.session[:])
	binary.BigEndian.PutUint64(hdr[8:], n)

	out := make([]byte, 0, sealHeaderSize+len(payload)+s.aead.Overhead())
	out = append(out, hdr...)
	out = s.aead.Seal(out, s.nonce(hdr), payload, hdr)
	return s.inner.Send(out)
}

// SetHandler installs the handler for opened payloads.
func (s *SecureLink) SetHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Rejected returns how many payloads failed to open or were replays.
func (s *SecureLink) Rejected() uint64 {
	return s.rejected.Load()
}

// Done is closed when the inner link stops.
func (s *SecureLink) Done() <-chan struct{} {
	return s.inner.Done()
}

// Close closes the inner link.
func (s *SecureLink) Close() error {
	return s.inner.Close()
}

// Open authenticates and decrypts one sealed payload without replay
// tracking.
func (s *SecureLink) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < sealHeaderSize+s.aead.Overhead() {
		return nil, fmt.Errorf("%w: short payload", ErrOpen)
	}
	hdr := sealed[:sealHeaderSize]
	plain, err := s.aead.Open(nil, s.nonce(hdr), sealed[sealHeaderSize:], hdr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	return plain, nil
}

func (s *SecureLink) receive(sealed []byte, rx clock.Micros) {
	plain, err := s.Open(sealed)
	if err != nil {
		s.rejected.Add(1)
		s.logger.Warn("dropping unauthenticated payload", "error", err)
		return
	}

	var session [8]byte
	copy(session[:], sealed[:8])
	n := binary.BigEndian.Uint64(sealed[8:sealHeaderSize])

	s.mu.Lock()
	if s.havePeer && session == s.peerSession && n <= s.peerCounter {
		s.mu.Unlock()
		s.rejected.Add(1)
		s.logger.Warn("dropping replayed payload", "error", ErrReplay, "counter", n, "last", s.peerCounter)
		return
	}
	s.peerSession = session
	s.peerCounter = n
	s.havePeer = true
	h := s.handler
	s.mu.Unlock()

	if h != nil {
		h(plain, rx)
	}
}

// nonce expands the 16-byte header to the 24-byte XChaCha nonce.
func (s *SecureLink) nonce(hdr []byte) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	copy(nonce, hdr)
	return nonce
}
