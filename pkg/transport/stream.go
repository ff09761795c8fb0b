package transport

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/duosync/duosync-go/pkg/clock"
	dlog "github.com/duosync/duosync-go/pkg/log"
)

// StreamConfig configures a StreamLink.
type StreamConfig struct {
	// Clock stamps received payloads. Required.
	Clock clock.Source

	// MaxFrameSize bounds a single frame. Defaults to DefaultMaxFrameSize.
	MaxFrameSize uint32

	// IdleTimeout closes the link when nothing arrives for this long.
	// Zero disables it.
	IdleTimeout time.Duration

	// WriteTimeout bounds each write. Zero disables it.
	WriteTimeout time.Duration

	ConnectionID   string
	Logger         *slog.Logger
	ProtocolLogger dlog.Logger

	// EventClock stamps protocol log events. Defaults to the real clock.
	EventClock clockwork.Clock
}

// StreamLink is a Link over a stream connection.
type StreamLink struct {
	conn   net.Conn
	cfg    StreamConfig
	logger *slog.Logger
	reader *FrameReader
	writer *FrameWriter

	mu      sync.RWMutex
	handler Handler

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
	errMu     sync.Mutex
	err       error
}

// NewStreamLink wraps conn. Call Start to begin reading.
func NewStreamLink(conn net.Conn, cfg StreamConfig) *StreamLink {
	if cfg.Clock == nil {
		panic("transport: StreamConfig.Clock is required")
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = DefaultMaxFrameSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	l := &StreamLink{
		conn:   conn,
		cfg:    cfg,
		logger: logger,
		reader: NewFrameReader(conn),
		writer: NewFrameWriter(conn),
		done:   make(chan struct{}),
	}
	l.reader.SetMaxFrameSize(cfg.MaxFrameSize)
	l.writer.maxSize = cfg.MaxFrameSize
	if cfg.ProtocolLogger != nil {
		l.reader.SetLogger(cfg.ProtocolLogger, cfg.EventClock, cfg.ConnectionID)
		l.writer.SetLogger(cfg.ProtocolLogger, cfg.EventClock, cfg.ConnectionID)
	}
	return l
}

// Start launches the receive goroutine. Calling it again is a no-op.
func (l *StreamLink) Start() {
	l.startOnce.Do(func() { go l.readLoop() })
}

// RemoteAddr returns the peer address.
func (l *StreamLink) RemoteAddr() net.Addr {
	return l.conn.RemoteAddr()
}

// SetHandler installs the receive handler.
func (l *StreamLink) SetHandler(h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = h
}

// Send writes one frame.
func (l *StreamLink) Send(payload []byte) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	if l.cfg.WriteTimeout > 0 {
		_ = l.conn.SetWriteDeadline(time.Now().Add(l.cfg.WriteTimeout))
	}
	if err := l.writer.WriteFrame(payload); err != nil {
		if errors.Is(err, ErrFrameTooLarge) || errors.Is(err, ErrFrameEmpty) {
			return err
		}
		l.fail(err)
		return err
	}
	return nil
}

// Done is closed when the link stops.
func (l *StreamLink) Done() <-chan struct{} {
	return l.done
}

// Err returns the error that stopped the link, or nil after a clean close.
func (l *StreamLink) Err() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.err
}

// Close closes the connection.
func (l *StreamLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.conn.Close()
		close(l.done)
	})
	return err
}

func (l *StreamLink) fail(err error) {
	l.errMu.Lock()
	if l.err == nil {
		l.err = err
	}
	l.errMu.Unlock()
	_ = l.Close()
}

func (l *StreamLink) readLoop() {
	for {
		if l.cfg.IdleTimeout > 0 {
			_ = l.conn.SetReadDeadline(time.Now().Add(l.cfg.IdleTimeout))
		}
		payload, err := l.reader.ReadFrame()
		if err != nil {
			select {
			case <-l.done:
				return
			default:
			}
			if errors.Is(err, io.EOF) {
				l.logger.Debug("peer closed link", "conn", l.cfg.ConnectionID)
				l.fail(ErrLinkDown)
				return
			}
			l.logger.Warn("link read failed", "conn", l.cfg.ConnectionID, "error", err)
			l.fail(err)
			return
		}
		rx := l.cfg.Clock.Now()

		l.mu.RLock()
		h := l.handler
		l.mu.RUnlock()
		if h != nil {
			h(payload, rx)
		}
	}
}
