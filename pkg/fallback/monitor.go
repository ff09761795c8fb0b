package fallback

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	dlog "github.com/duosync/duosync-go/pkg/log"
)

// Timing defaults.
const (
	DefaultPhase1Duration  = 2 * time.Minute
	DefaultSurvivorTimeout = 30 * time.Second
)

// Phase is the fallback phase.
type Phase uint8

const (
	// PhaseConnected means the peer link is up.
	PhaseConnected Phase = iota

	// PhaseSynchronized means the link is down but the held timebase is
	// still trusted.
	PhaseSynchronized

	// PhaseRoleOnly means the link has been down long enough that only the
	// role and zone are kept.
	PhaseRoleOnly
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseConnected:
		return "CONNECTED"
	case PhaseSynchronized:
		return "PHASE1_SYNC"
	case PhaseRoleOnly:
		return "PHASE2_ROLE_ONLY"
	default:
		return "UNKNOWN"
	}
}

// Config holds monitor configuration.
type Config struct {
	Phase1Duration  time.Duration
	SurvivorTimeout time.Duration

	// Clock drives the timers. Defaults to the real clock.
	Clock clockwork.Clock

	Logger         *slog.Logger
	ProtocolLogger dlog.Logger
}

// DefaultConfig returns the standard timings.
func DefaultConfig() Config {
	return Config{
		Phase1Duration:  DefaultPhase1Duration,
		SurvivorTimeout: DefaultSurvivorTimeout,
	}
}

// Monitor runs the disconnection timers.
type Monitor struct {
	mu sync.Mutex

	cfg    Config
	logger *slog.Logger
	plog   dlog.Logger

	phase          Phase
	disconnectedAt time.Time
	survivorFired  bool

	phaseTimer    clockwork.Timer
	survivorTimer clockwork.Timer

	onPhaseChange func(old, new Phase)
	onSurvivor    func()
}

// NewMonitor creates a monitor in the connected phase.
func NewMonitor(cfg Config) *Monitor {
	if cfg.Phase1Duration <= 0 {
		cfg.Phase1Duration = DefaultPhase1Duration
	}
	if cfg.SurvivorTimeout <= 0 {
		cfg.SurvivorTimeout = DefaultSurvivorTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:    cfg,
		logger: logger,
		plog:   dlog.OrNoop(cfg.ProtocolLogger),
	}
}

// Phase returns the current phase.
func (m *Monitor) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Disconnected returns how long the link has been down, or zero.
func (m *Monitor) Disconnected() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == PhaseConnected {
		return 0
	}
	return m.cfg.Clock.Since(m.disconnectedAt)
}

// SurvivorElapsed reports whether the survivor timeout has passed during
// the current disconnection.
func (m *Monitor) SurvivorElapsed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.survivorFired
}

// LinkLost starts the fallback timers. It is a no-op when already
// disconnected.
func (m *Monitor) LinkLost() {
	m.mu.Lock()
	if m.phase != PhaseConnected {
		m.mu.Unlock()
		return
	}

	m.disconnectedAt = m.cfg.Clock.Now()
	m.survivorFired = false
	m.phaseTimer = m.cfg.Clock.AfterFunc(m.cfg.Phase1Duration, m.enterRoleOnly)
	m.survivorTimer = m.cfg.Clock.AfterFunc(m.cfg.SurvivorTimeout, m.survivorExpired)
	fn := m.setPhaseLocked(PhaseSynchronized, "link lost")
	m.mu.Unlock()

	fn()
}

// LinkRestored cancels the timers and returns to the connected phase.
func (m *Monitor) LinkRestored() {
	m.mu.Lock()
	if m.phase == PhaseConnected {
		m.mu.Unlock()
		return
	}
	m.stopTimersLocked()
	down := m.cfg.Clock.Since(m.disconnectedAt)
	fn := m.setPhaseLocked(PhaseConnected, "link restored")
	m.mu.Unlock()

	m.logger.Info("peer link restored", "down", down)
	fn()
}

// Stop cancels any running timers without changing phase.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimersLocked()
}

func (m *Monitor) stopTimersLocked() {
	if m.phaseTimer != nil {
		m.phaseTimer.Stop()
		m.phaseTimer = nil
	}
	if m.survivorTimer != nil {
		m.survivorTimer.Stop()
		m.survivorTimer = nil
	}
}

func (m *Monitor) enterRoleOnly() {
	m.mu.Lock()
	if m.phase != PhaseSynchronized {
		m.mu.Unlock()
		return
	}
	m.phaseTimer = nil
	fn := m.setPhaseLocked(PhaseRoleOnly, "phase 1 expired")
	m.mu.Unlock()

	fn()
}

func (m *Monitor) survivorExpired() {
	m.mu.Lock()
	if m.phase == PhaseConnected || m.survivorFired {
		m.mu.Unlock()
		return
	}
	m.survivorFired = true
	m.survivorTimer = nil
	fn := m.onSurvivor
	m.mu.Unlock()

	m.logger.Info("survivor timeout reached", "timeout", m.cfg.SurvivorTimeout)
	if fn != nil {
		fn()
	}
}

// setPhaseLocked records the transition and returns the callback to run
// once the lock is released.
func (m *Monitor) setPhaseLocked(p Phase, reason string) func() {
	old := m.phase
	m.phase = p
	m.logger.Info("fallback phase changed", "from", old, "to", p, "reason", reason)
	m.plog.Log(dlog.Event{
		Timestamp: m.cfg.Clock.Now(),
		Direction: dlog.DirectionNone,
		Layer:     dlog.LayerService,
		Category:  dlog.CategoryState,
		StateChange: &dlog.StateChangeEvent{
			Entity:   dlog.StateEntityFallback,
			OldState: old.String(),
			NewState: p.String(),
			Reason:   reason,
		},
	})

	fn := m.onPhaseChange
	return func() {
		if fn != nil {
			fn(old, p)
		}
	}
}

// OnPhaseChange sets a callback for phase transitions.
func (m *Monitor) OnPhaseChange(fn func(old, new Phase)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPhaseChange = fn
}

// OnSurvivorTimeout sets a callback for the survivor timeout.
func (m *Monitor) OnSurvivorTimeout(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSurvivor = fn
}
