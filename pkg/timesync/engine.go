package timesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/duosync/duosync-go/pkg/clock"
	dlog "github.com/duosync/duosync-go/pkg/log"
	"github.com/duosync/duosync-go/pkg/role"
	"github.com/duosync/duosync-go/pkg/wire"
)

// Sender transmits a message to the peer.
type Sender interface {
	Send(msg wire.Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(msg wire.Message) error

// Send calls f.
func (f SenderFunc) Send(msg wire.Message) error { return f(msg) }

// Config configures an Engine.
type Config struct {
	// Clock is the local monotonic clock. Required.
	Clock clock.Source

	// Timers drives the beacon loop and event timestamps. Defaults to the
	// real clock.
	Timers clockwork.Clock

	Filter    FilterConfig
	Scheduler SchedulerConfig

	// StarvationMultiple is how many expected intervals may pass without a
	// successful exchange before confidence is degraded.
	StarvationMultiple int

	Logger         *slog.Logger
	ProtocolLogger dlog.Logger
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() Config {
	return Config{
		Filter:             DefaultFilterConfig(),
		Scheduler:          DefaultSchedulerConfig(),
		StarvationMultiple: 3,
	}
}

// Snapshot is a read-only copy of the sync state.
type Snapshot struct {
	Role           role.Role
	Connected      bool
	FilteredOffset clock.Micros
	Delay          clock.Micros

	// Correction is what is subtracted from local time to obtain
	// synchronized time.
	Correction clock.Micros

	// DriftRate is in µs/s and is diagnostic only.
	DriftRate float64

	Quality        uint8
	Interval       time.Duration
	Samples        int
	Rejected       int
	Lost           int
	SequenceErrors int

	ExpectedSequence uint32
	LastExchange     clock.Micros
	HasExchange      bool
	Degraded         bool

	// Provisional is the Secondary's latest one-way estimate. Never applied.
	Provisional    clock.Micros
	HasProvisional bool

	Recent []Sample
}

// Engine owns the sync state of one device.
//
// All state sits behind a single lock. Readers on the playback path use
// TrySynchronizedTime, which bounds the wait for that lock.
type Engine struct {
	cfg    Config
	sender Sender
	logger *slog.Logger
	plog   dlog.Logger

	sem  chan struct{}
	kick chan struct{}

	role      role.Role
	connected bool
	connID    string
	peerID    string
	base      clock.Micros // Primary timebase correction
	filter    *Filter
	sched     *Scheduler

	nextSeq      uint32
	inflight     TimestampSet
	haveInflight bool
	lastSeq      uint32 // highest beacon answered; older ones are stale
	haveLastSeq  bool
	skipGap      bool // next gap after a sequence error is not counted as loss
	peerInterval time.Duration

	since        clock.Micros // start of the current starvation window
	lastExchange clock.Micros
	haveExchange bool
	degraded     bool

	provisional     clock.Micros
	haveProvisional bool
	lost            int
	seqErrors       int
}

// NewEngine creates an engine sending through sender.
func NewEngine(cfg Config, sender Sender) *Engine {
	if cfg.Clock == nil {
		panic("timesync: Config.Clock is required")
	}
	if cfg.Timers == nil {
		cfg.Timers = clockwork.NewRealClock()
	}
	if cfg.StarvationMultiple <= 0 {
		cfg.StarvationMultiple = 3
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		cfg:    cfg,
		sender: sender,
		logger: logger,
		plog:   dlog.OrNoop(cfg.ProtocolLogger),
		sem:    make(chan struct{}, 1),
		kick:   make(chan struct{}, 1),
		filter: NewFilter(cfg.Filter),
		sched:  NewScheduler(cfg.Scheduler),
	}
}

func (e *Engine) lock()   { e.sem <- struct{}{} }
func (e *Engine) unlock() { <-e.sem }

// tryLock waits at most timeout for the state lock. The bound is real time
// because it limits scheduling contention, not protocol time.
func (e *Engine) tryLock(timeout time.Duration) bool {
	select {
	case e.sem <- struct{}{}:
		return true
	default:
	}
	if timeout <= 0 {
		return false
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case e.sem <- struct{}{}:
		return true
	case <-t.C:
		return false
	}
}

// correctionLocked returns the value subtracted from local time.
func (e *Engine) correctionLocked() clock.Micros {
	if e.role == role.Secondary {
		return e.filter.Offset()
	}
	return e.base
}

// SynchronizedTime returns the shared timebase reading.
func (e *Engine) SynchronizedTime() clock.Micros {
	e.lock()
	defer e.unlock()
	return e.cfg.Clock.Now() - e.correctionLocked()
}

// TrySynchronizedTime is SynchronizedTime with a bounded lock wait. The
// second result is false when the lock could not be taken in time.
func (e *Engine) TrySynchronizedTime(timeout time.Duration) (clock.Micros, bool) {
	if !e.tryLock(timeout) {
		return 0, false
	}
	defer e.unlock()
	return e.cfg.Clock.Now() - e.correctionLocked(), true
}

// LocalTime returns the local clock reading.
func (e *Engine) LocalTime() clock.Micros {
	return e.cfg.Clock.Now()
}

// Role returns the current timing role.
func (e *Engine) Role() role.Role {
	e.lock()
	defer e.unlock()
	return e.role
}

// SetRole changes the timing role. The synchronized timebase is carried
// across the change so playback does not jump.
func (e *Engine) SetRole(r role.Role) {
	e.lock()
	defer e.unlock()

	if r == e.role {
		return
	}
	correction := e.correctionLocked()
	old := e.role
	e.role = r

	switch r {
	case role.Primary, role.Unassigned:
		e.base = correction
	case role.Secondary:
		e.filter.Reset(correction)
	}
	e.sched.Reset()
	e.haveInflight = false
	e.haveLastSeq = false
	e.skipGap = false
	e.haveProvisional = false

	e.logger.Info("sync role changed", "old", old, "new", r, "correction", correction)
	e.logState(old.String(), r.String(), "role change")
}

// Connect starts a fresh sync session with a peer. The previous offset is
// kept as holdover until the first new sample arrives.
func (e *Engine) Connect(connID, peerID string) {
	e.lock()
	defer e.unlock()

	e.connID = connID
	e.peerID = peerID
	e.connected = true
	e.filter.Reset(e.filter.Offset())
	e.sched.Reset()
	e.nextSeq = 0
	e.haveInflight = false
	e.haveLastSeq = false
	e.skipGap = false
	e.haveProvisional = false
	e.peerInterval = 0
	e.since = e.cfg.Clock.Now()

	e.logState("DISCONNECTED", "CONNECTED", "")
}

// Freeze stops integrating samples after a disconnection. The last
// correction keeps driving synchronized time.
func (e *Engine) Freeze() {
	e.lock()
	defer e.unlock()

	if !e.connected {
		return
	}
	e.connected = false
	e.haveInflight = false

	e.logger.Info("sync frozen", "offset", e.filter.Offset(), "quality", e.filter.Quality())
	e.logState("CONNECTED", "DISCONNECTED", "frozen")
}

// SendBeacon starts an exchange. Only valid for the Primary.
func (e *Engine) SendBeacon() error {
	e.lock()
	if e.role != role.Primary {
		e.unlock()
		return ErrWrongRole
	}
	e.nextSeq++
	seq := e.nextSeq
	interval := e.sched.Interval()

	t1 := e.cfg.Clock.Now() - e.base
	ts := TimestampSet{Sequence: seq}
	ts.Set(T1, t1)
	e.inflight = ts
	e.haveInflight = true
	e.unlock()

	return e.send(&wire.SyncBeacon{
		Sequence:   seq,
		T1:         int64(t1),
		IntervalMs: uint32(interval / time.Millisecond),
	})
}

// HandleBeacon answers a beacon. rx is the local receive time captured by
// the transport. Only valid for the Secondary.
func (e *Engine) HandleBeacon(b *wire.SyncBeacon, rx clock.Micros) error {
	e.lock()
	if e.role != role.Secondary {
		e.unlock()
		return ErrWrongRole
	}

	if e.haveLastSeq {
		d := int32(b.Sequence - e.lastSeq)
		if d <= 0 {
			e.seqErrors++
			e.skipGap = true
			last := e.lastSeq
			e.unlock()
			e.logger.Debug("beacon rejected", "seq", b.Sequence, "last", last)
			return fmt.Errorf("%w: beacon %d after %d", ErrSequence, b.Sequence, last)
		}
		if d > 1 && !e.skipGap {
			e.lost += int(d - 1)
		}
	}
	e.lastSeq = b.Sequence
	e.haveLastSeq = true
	e.skipGap = false
	if b.IntervalMs > 0 {
		e.peerInterval = time.Duration(b.IntervalMs) * time.Millisecond
	}

	t1 := clock.Micros(b.T1)
	e.provisional = Provisional(t1, rx, e.filter.Delay())
	e.haveProvisional = true

	ts := TimestampSet{Sequence: b.Sequence}
	ts.Set(T1, t1)
	ts.Set(T2, rx)

	t3 := e.cfg.Clock.Now()
	ts.Set(T3, t3)
	e.inflight = ts
	e.haveInflight = true
	e.unlock()

	return e.send(&wire.SyncResponse{
		Sequence: b.Sequence,
		T1:       b.T1,
		T2:       int64(rx),
		T3:       int64(t3),
	})
}

// HandleResponse completes an exchange on the Primary and sends the
// follow-up. Responses that do not match the in-flight beacon are dropped.
func (e *Engine) HandleResponse(r *wire.SyncResponse, rx clock.Micros) error {
	e.lock()
	if e.role != role.Primary {
		e.unlock()
		return ErrWrongRole
	}
	t1, _ := e.inflight.Get(T1)
	if !e.haveInflight || r.Sequence != e.inflight.Sequence || r.T1 != int64(t1) {
		e.seqErrors++
		e.unlock()
		return fmt.Errorf("%w: response %d not in flight", ErrSequence, r.Sequence)
	}

	ts := e.inflight
	e.haveInflight = false
	t4 := rx - e.base
	ts.Set(T2, clock.Micros(r.T2))
	ts.Set(T3, clock.Micros(r.T3))
	ts.Set(T4, t4)

	prev := e.sched.Interval()
	_, err := e.integrateLocked(ts, rx)
	interval := e.sched.Update(e.filter.Quality(), e.filter.Accepted())
	if interval < prev {
		e.signal()
	}
	e.unlock()

	if sendErr := e.send(&wire.SyncFollowUp{Sequence: r.Sequence, T4: int64(t4)}); sendErr != nil {
		return sendErr
	}
	return err
}

// HandleFollowUp completes an exchange on the Secondary.
func (e *Engine) HandleFollowUp(f *wire.SyncFollowUp, rx clock.Micros) error {
	e.lock()
	defer e.unlock()

	if e.role != role.Secondary {
		return ErrWrongRole
	}
	if !e.haveInflight || f.Sequence != e.inflight.Sequence {
		e.seqErrors++
		return fmt.Errorf("%w: follow-up %d not in flight", ErrSequence, f.Sequence)
	}

	ts := e.inflight
	e.haveInflight = false
	ts.Set(T4, clock.Micros(f.T4))

	_, err := e.integrateLocked(ts, rx)
	return err
}

// integrateLocked estimates and filters a completed exchange.
func (e *Engine) integrateLocked(ts TimestampSet, at clock.Micros) (Result, error) {
	s, err := Estimate(ts)
	if err != nil {
		e.logger.Warn("sync exchange discarded", "seq", ts.Sequence, "error", err)
		return Result{}, err
	}
	s.At = at

	res, err := e.filter.Add(s)
	if res.Accepted {
		e.lastExchange = at
		e.haveExchange = true
		e.since = at
		if e.degraded {
			e.degraded = false
			e.logger.Info("sync confidence restored", "quality", res.Quality)
		}
	}
	if res.Reseeded {
		e.logger.Warn("sync filter reseeded after consecutive outliers", "offset", s.Offset)
	}

	ev := &dlog.SyncEvent{
		Sequence:         ts.Sequence,
		OffsetUs:         int64(s.Offset),
		DelayUs:          int64(s.Delay),
		FilteredOffsetUs: int64(res.Filtered),
		Quality:          res.Quality,
		Accepted:         res.Accepted,
		IntervalMs:       uint32(e.sched.Interval() / time.Millisecond),
	}
	ev.T1, ev.T2, ev.T3, ev.T4 = int64(ts.stamps[0]), int64(ts.stamps[1]), int64(ts.stamps[2]), int64(ts.stamps[3])
	if err != nil {
		ev.Reason = err.Error()
		e.logger.Debug("sync sample rejected",
			"seq", ts.Sequence,
			"offset", s.Offset,
			"delay", s.Delay,
			"ceiling", e.filter.Ceiling())
	}
	e.plog.Log(e.eventLocked(dlog.LayerSync, dlog.CategorySync, dlog.DirectionNone, func(ev0 *dlog.Event) { ev0.Sync = ev }))

	return res, err
}

// CheckStarvation raises the confidence-degraded flag when no exchange has
// succeeded for StarvationMultiple expected intervals. It returns
// ErrSyncStarvation only on the transition into the degraded state.
func (e *Engine) CheckStarvation() error {
	e.lock()
	defer e.unlock()

	if e.role == role.Unassigned || e.degraded {
		return nil
	}
	limit := clock.FromDuration(e.expectedIntervalLocked() * time.Duration(e.cfg.StarvationMultiple))
	idle := e.cfg.Clock.Now() - e.since
	if idle <= limit {
		return nil
	}

	e.degraded = true
	e.logger.Warn("sync starved", "idle", idle, "limit", limit, "connected", e.connected)
	e.plog.Log(e.eventLocked(dlog.LayerSync, dlog.CategoryError, dlog.DirectionNone, func(ev *dlog.Event) {
		ev.Error = &dlog.ErrorEventData{Layer: dlog.LayerSync, Message: ErrSyncStarvation.Error(), Context: "starvation check"}
	}))
	return ErrSyncStarvation
}

func (e *Engine) expectedIntervalLocked() time.Duration {
	if e.role == role.Secondary && e.peerInterval > 0 {
		return e.peerInterval
	}
	return e.sched.Interval()
}

// Interval returns the current beacon interval.
func (e *Engine) Interval() time.Duration {
	e.lock()
	defer e.unlock()
	return e.sched.Interval()
}

// Snapshot returns a copy of the sync state.
func (e *Engine) Snapshot() Snapshot {
	e.lock()
	defer e.unlock()

	exp := e.lastSeq + 1
	if !e.haveLastSeq {
		exp = 0
	}
	if e.role == role.Primary {
		exp = e.nextSeq + 1
	}
	return Snapshot{
		Role:             e.role,
		Connected:        e.connected,
		FilteredOffset:   e.filter.Offset(),
		Delay:            e.filter.Delay(),
		Correction:       e.correctionLocked(),
		DriftRate:        e.filter.Drift(),
		Quality:          e.filter.Quality(),
		Interval:         e.expectedIntervalLocked(),
		Samples:          e.filter.Accepted(),
		Rejected:         e.filter.Rejected(),
		Lost:             e.lost,
		SequenceErrors:   e.seqErrors,
		ExpectedSequence: exp,
		LastExchange:     e.lastExchange,
		HasExchange:      e.haveExchange,
		Degraded:         e.degraded,
		Provisional:      e.provisional,
		HasProvisional:   e.haveProvisional,
		Recent:           e.filter.Recent(),
	}
}

// Run sends beacons at the adaptive interval until ctx is done or the
// engine stops being Primary.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if err := e.SendBeacon(); err != nil {
			if errors.Is(err, ErrWrongRole) {
				return nil
			}
			e.logger.Warn("beacon send failed", "error", err)
		}

		t := e.cfg.Timers.NewTimer(e.Interval())
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-e.kick:
			t.Stop()
		case <-t.Chan():
		}
	}
}

// signal wakes the beacon loop after the interval shrank.
func (e *Engine) signal() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

func (e *Engine) send(msg wire.Message) error {
	if e.sender == nil {
		return nil
	}
	if err := e.sender.Send(msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type(), err)
	}
	return nil
}

func (e *Engine) logState(from, to, reason string) {
	e.plog.Log(e.eventLocked(dlog.LayerSync, dlog.CategoryState, dlog.DirectionNone, func(ev *dlog.Event) {
		ev.StateChange = &dlog.StateChangeEvent{Entity: dlog.StateEntitySync, OldState: from, NewState: to, Reason: reason}
	}))
}

func (e *Engine) eventLocked(layer dlog.Layer, cat dlog.Category, dir dlog.Direction, fill func(*dlog.Event)) dlog.Event {
	ev := dlog.Event{
		Timestamp:    e.cfg.Timers.Now(),
		ConnectionID: e.connID,
		Direction:    dir,
		Layer:        layer,
		Category:     cat,
		LocalRole:    logRole(e.role),
		PeerID:       e.peerID,
	}
	fill(&ev)
	return ev
}

func logRole(r role.Role) dlog.Role {
	switch r {
	case role.Primary:
		return dlog.RolePrimary
	case role.Secondary:
		return dlog.RoleSecondary
	default:
		return dlog.RoleUnassigned
	}
}
