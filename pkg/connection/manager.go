package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/duosync/duosync-go/pkg/transport"
)

// ErrClosed is returned by Run when the manager was already run.
var ErrClosed = errors.New("connection manager closed")

// DefaultAttemptTimeout bounds one dial attempt.
const DefaultAttemptTimeout = 10 * time.Second

// State represents the connection state.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// DialFunc establishes a link to the peer.
type DialFunc func(ctx context.Context) (transport.Link, error)

// Config configures a Manager.
type Config struct {
	Backoff        BackoffConfig
	AttemptTimeout time.Duration

	// Clock drives backoff waits. Defaults to the real clock.
	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Manager dials the peer and redials whenever the link drops.
type Manager struct {
	dial    DialFunc
	cfg     Config
	backoff *Backoff
	logger  *slog.Logger

	mu             sync.RWMutex
	state          State
	ran            bool
	onStateChange  func(old, new State)
	onConnected    func(transport.Link)
	onDisconnected func()
	onReconnecting func(attempt int, delay time.Duration)
}

// NewManager creates a manager using dial.
func NewManager(dial DialFunc, cfg Config) *Manager {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		dial:    dial,
		cfg:     cfg,
		backoff: NewBackoff(cfg.Backoff),
		logger:  logger,
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Attempts returns the failed attempts since the last connection.
func (m *Manager) Attempts() int {
	return m.backoff.Attempts()
}

// Run keeps the link up until ctx is done. It may be called once.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.ran {
		m.mu.Unlock()
		return ErrClosed
	}
	m.ran = true
	m.mu.Unlock()

	defer m.setState(StateClosed)

	m.setState(StateConnecting)
	for {
		link, err := m.attempt(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			delay := m.backoff.Next()
			m.logger.Debug("dial failed", "attempt", m.backoff.Attempts(), "retry_in", delay, "error", err)
			m.setState(StateReconnecting)
			m.notifyReconnecting(m.backoff.Attempts(), delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-m.cfg.Clock.After(delay):
			}
			continue
		}

		m.backoff.Reset()
		m.setState(StateConnected)
		m.notifyConnected(link)

		select {
		case <-ctx.Done():
			_ = link.Close()
			m.notifyDisconnected()
			return ctx.Err()
		case <-link.Done():
		}

		m.logger.Info("peer link lost; reconnecting")
		m.setState(StateReconnecting)
		m.notifyDisconnected()
	}
}

func (m *Manager) attempt(ctx context.Context) (transport.Link, error) {
	actx, cancel := context.WithTimeout(ctx, m.cfg.AttemptTimeout)
	defer cancel()
	return m.dial(actx)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	old := m.state
	if old == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	fn := m.onStateChange
	m.mu.Unlock()

	if fn != nil {
		fn(old, s)
	}
}

func (m *Manager) notifyConnected(l transport.Link) {
	m.mu.RLock()
	fn := m.onConnected
	m.mu.RUnlock()
	if fn != nil {
		fn(l)
	}
}

func (m *Manager) notifyDisconnected() {
	m.mu.RLock()
	fn := m.onDisconnected
	m.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (m *Manager) notifyReconnecting(attempt int, delay time.Duration) {
	m.mu.RLock()
	fn := m.onReconnecting
	m.mu.RUnlock()
	if fn != nil {
		fn(attempt, delay)
	}
}

// OnStateChange sets a callback for state changes.
func (m *Manager) OnStateChange(fn func(old, new State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// OnConnected sets a callback receiving each new link.
func (m *Manager) OnConnected(fn func(transport.Link)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = fn
}

// OnDisconnected sets a callback for link loss.
func (m *Manager) OnDisconnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnected = fn
}

// OnReconnecting sets a callback for scheduled retries.
func (m *Manager) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnecting = fn
}
