package transport

import (
	"errors"

	"github.com/duosync/duosync-go/pkg/clock"
)

// Link errors.
var (
	ErrClosed   = errors.New("link closed")
	ErrLinkDown = errors.New("link down")
)

// Handler receives one payload. rx is the local clock reading at receipt.
// Handlers run on the link's receive goroutine and must not block for
// long.
type Handler func(payload []byte, rx clock.Micros)

// Link is a bidirectional payload pipe to the peer.
type Link interface {
	// Send transmits one payload.
	Send(payload []byte) error

	// SetHandler installs the receive handler. Payloads arriving with no
	// handler set are dropped.
	SetHandler(h Handler)

	// Done is closed when the link is closed or fails.
	Done() <-chan struct{}

	// Close shuts the link down.
	Close() error
}

// Compile-time interface satisfaction checks.
var (
	_ Link = (*StreamLink)(nil)
	_ Link = (*Loopback)(nil)
	_ Link = (*SecureLink)(nil)
)
