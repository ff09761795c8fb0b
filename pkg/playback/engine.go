package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/duosync/duosync-go/pkg/clock"
	dlog "github.com/duosync/duosync-go/pkg/log"
	"github.com/duosync/duosync-go/pkg/sheet"
	"github.com/duosync/duosync-go/pkg/zone"
)

// Defaults.
const (
	DefaultTick        = 10 * time.Millisecond
	DefaultLockTimeout = 2 * time.Millisecond
)

// ErrNotPaused is returned by Resume when playback is not paused.
var ErrNotPaused = errors.New("playback not paused")

// Actuator drives one output channel of a zone.
type Actuator interface {
	SetOutput(z zone.Zone, c sheet.Channel, value uint8)
}

// ActuatorFunc adapts a function to Actuator.
type ActuatorFunc func(z zone.Zone, c sheet.Channel, value uint8)

// SetOutput calls f.
func (f ActuatorFunc) SetOutput(z zone.Zone, c sheet.Channel, value uint8) { f(z, c, value) }

// TimeSource provides the synchronized timebase.
type TimeSource interface {
	TrySynchronizedTime(timeout time.Duration) (clock.Micros, bool)
	LocalTime() clock.Micros
}

// SheetSource provides the sheet to play.
type SheetSource interface {
	Playable() (*sheet.Sheet, bool)
}

// ZoneSource reports the local zone, if resolved.
type ZoneSource interface {
	Zone() (zone.Zone, bool)
}

// State is the playback state.
type State uint8

const (
	StateStopped State = iota
	StatePlaying
	StatePaused
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StatePlaying:
		return "PLAYING"
	case StatePaused:
		return "PAUSED"
	default:
		return "UNKNOWN"
	}
}

// Config configures an Engine.
type Config struct {
	// Tick is the playback period.
	Tick time.Duration

	// LockTimeout bounds the wait for the sync state.
	LockTimeout time.Duration

	// Clock drives the tick. Defaults to the real clock.
	Clock clockwork.Clock

	Logger         *slog.Logger
	ProtocolLogger dlog.Logger
}

// DefaultConfig returns the standard playback configuration.
func DefaultConfig() Config {
	return Config{Tick: DefaultTick, LockTimeout: DefaultLockTimeout}
}

// Status is a snapshot of the playback engine.
type Status struct {
	State      State
	Zone       zone.Zone
	HasZone    bool
	Output     sheet.Output
	Position   Position
	SheetBirth clock.Micros
	Loops      int64
	Ticks      uint64
	LockMisses uint64
	SyncTime   clock.Micros
}

// Engine plays the active sheet for the local zone.
type Engine struct {
	cfg    Config
	times  TimeSource
	sheets SheetSource
	zones  ZoneSource
	act    Actuator
	logger *slog.Logger
	plog   dlog.Logger

	mu         sync.Mutex
	state      State
	anchorSync clock.Micros
	anchorLoc  clock.Micros
	haveAnchor bool

	last      sheet.Output
	lastZone  zone.Zone
	written   bool
	pos       Position
	birth     clock.Micros
	loopBase  int64
	loops     int64
	ticks     uint64
	misses    uint64
	syncTime  clock.Micros
	sheetSeen bool
}

// NewEngine creates a stopped engine.
func NewEngine(cfg Config, times TimeSource, sheets SheetSource, zones ZoneSource, act Actuator) *Engine {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:    cfg,
		times:  times,
		sheets: sheets,
		zones:  zones,
		act:    act,
		logger: logger,
		plog:   dlog.OrNoop(cfg.ProtocolLogger),
	}
}

// Start begins playback. Starting a playing engine is a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StatePlaying {
		return
	}
	e.setStateLocked(StatePlaying, "start")
}

// Stop halts playback and drives the outputs neutral.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateStopped {
		return
	}
	e.setStateLocked(StateStopped, "stop")
	e.loops = 0
	e.sheetSeen = false
	if z, ok := e.zones.Zone(); ok {
		e.writeLocked(z, sheet.Neutral)
	}
}

// Pause holds the current outputs. Position keeps following the shared
// timebase, so Resume rejoins the peer in phase.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StatePlaying {
		e.setStateLocked(StatePaused, "pause")
	}
}

// Resume continues paused playback.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePaused {
		return ErrNotPaused
	}
	e.setStateLocked(StatePlaying, "resume")
	return nil
}

// State returns the playback state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Status returns a snapshot of the engine.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		State:      e.state,
		Zone:       e.lastZone,
		HasZone:    e.written,
		Output:     e.last,
		Position:   e.pos,
		SheetBirth: e.birth,
		Loops:      e.loops,
		Ticks:      e.ticks,
		LockMisses: e.misses,
		SyncTime:   e.syncTime,
	}
}

// Tick runs one playback step.
func (e *Engine) Tick() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ticks++
	if e.state != StatePlaying {
		return
	}

	now, ok := e.syncTimeLocked()
	if !ok {
		return
	}
	e.syncTime = now

	z, ok := e.zones.Zone()
	if !ok {
		return
	}

	s, ok := e.sheets.Playable()
	if !ok {
		e.pos = Position{Segment: -1}
		e.writeLocked(z, sheet.Neutral)
		return
	}

	pos := Locate(s, now)
	e.trackLoopsLocked(s, pos)
	e.pos = pos
	e.writeLocked(z, At(s, pos, z))
}

// syncTimeLocked reads the synchronized time with a bounded wait. On a
// miss it extrapolates the previous anchor with local elapsed time.
func (e *Engine) syncTimeLocked() (clock.Micros, bool) {
	if t, ok := e.times.TrySynchronizedTime(e.cfg.LockTimeout); ok {
		e.anchorSync = t
		e.anchorLoc = e.times.LocalTime()
		e.haveAnchor = true
		return t, true
	}

	e.misses++
	if !e.haveAnchor {
		return 0, false
	}
	return e.anchorSync + (e.times.LocalTime() - e.anchorLoc), true
}

func (e *Engine) trackLoopsLocked(s *sheet.Sheet, pos Position) {
	if !e.sheetSeen || s.BirthTime != e.birth {
		e.sheetSeen = true
		e.birth = s.BirthTime
		e.loopBase = pos.Loop
		e.loops = 0
		return
	}
	if n := pos.Loop - e.loopBase; n > e.loops {
		e.loops = n
		e.logger.Debug("pattern loop", "loop", n, "birth", s.BirthTime)
	}
	if pos.Finished && e.pos.Started && !e.pos.Finished {
		e.logger.Info("pattern complete", "name", s.Name, "birth", s.BirthTime)
		e.eventLocked(e.state.String(), "COMPLETE", "non-looping sheet ended")
	}
}

// writeLocked sends the channels of o that differ from the last write.
func (e *Engine) writeLocked(z zone.Zone, o sheet.Output) {
	fresh := !e.written || z != e.lastZone
	for _, c := range sheet.Channels {
		if fresh || o.Value(c) != e.last.Value(c) {
			e.act.SetOutput(z, c, o.Value(c))
		}
	}
	e.last = o
	e.lastZone = z
	e.written = true
}

func (e *Engine) setStateLocked(s State, reason string) {
	old := e.state
	e.state = s
	e.logger.Info("playback state changed", "from", old, "to", s)
	e.eventLocked(old.String(), s.String(), reason)
}

func (e *Engine) eventLocked(from, to, reason string) {
	e.plog.Log(dlog.Event{
		Timestamp: e.cfg.Clock.Now(),
		Direction: dlog.DirectionNone,
		Layer:     dlog.LayerPlayback,
		Category:  dlog.CategoryState,
		StateChange: &dlog.StateChangeEvent{
			Entity:   dlog.StateEntityPlayback,
			OldState: from,
			NewState: to,
			Reason:   reason,
		},
	})
}

// Run ticks the engine until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	ticker := e.cfg.Clock.NewTicker(e.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			e.Tick()
		}
	}
}
