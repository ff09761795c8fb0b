package timesync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duosync/duosync-go/pkg/clock"
	"github.com/duosync/duosync-go/pkg/role"
	"github.com/duosync/duosync-go/pkg/wire"
)

// outbox collects messages sent by one engine.
type outbox struct {
	mu   sync.Mutex
	msgs []wire.Message
}

func (o *outbox) Send(msg wire.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msg)
	return nil
}

func (o *outbox) pop(t *testing.T) wire.Message {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.msgs, "no message sent")
	m := o.msgs[0]
	o.msgs = o.msgs[1:]
	return m
}

// pair wires a Primary and a Secondary with a manually driven link.
type pair struct {
	fc        *clockwork.FakeClock
	pClock    clock.Source
	sClock    clock.Source
	primary   *Engine
	secondary *Engine
	toS, toP  *outbox
}

func newPair(t *testing.T, secondaryOffset clock.Micros, ppm float64) *pair {
	t.Helper()
	fc := clockwork.NewFakeClock()
	base := clock.NewMonotonic(fc)

	p := &pair{
		fc:     fc,
		pClock: base,
		sClock: clock.NewDrifting(base, secondaryOffset, ppm),
		toS:    &outbox{},
		toP:    &outbox{},
	}

	pcfg := DefaultConfig()
	pcfg.Clock = p.pClock
	pcfg.Timers = fc
	p.primary = NewEngine(pcfg, p.toS)

	scfg := DefaultConfig()
	scfg.Clock = p.sClock
	scfg.Timers = fc
	p.secondary = NewEngine(scfg, p.toP)

	p.primary.SetRole(role.Primary)
	p.secondary.SetRole(role.Secondary)
	p.primary.Connect("conn", "secondary")
	p.secondary.Connect("conn", "primary")
	return p
}

// exchange runs one full beacon/response/follow-up round with the given
// one-way latencies and returns the Primary's and Secondary's results.
func (p *pair) exchange(t *testing.T, out, back time.Duration) (error, error) {
	t.Helper()
	require.NoError(t, p.primary.SendBeacon())
	beacon := p.toS.pop(t).(*wire.SyncBeacon)

	p.fc.Advance(out)
	require.NoError(t, p.secondary.HandleBeacon(beacon, p.sClock.Now()))
	resp := p.toP.pop(t).(*wire.SyncResponse)

	p.fc.Advance(back)
	pErr := p.primary.HandleResponse(resp, p.pClock.Now())
	follow := p.toS.pop(t).(*wire.SyncFollowUp)

	p.fc.Advance(out)
	sErr := p.secondary.HandleFollowUp(follow, p.sClock.Now())
	return pErr, sErr
}

// phaseError is the difference between the two devices' synchronized time
// read at the same instant.
func (p *pair) phaseError() clock.Micros {
	return p.secondary.SynchronizedTime() - p.primary.SynchronizedTime()
}

func TestEngineConvergesOnOffset(t *testing.T) {
	p := newPair(t, 5*clock.Millis(1000), 0)

	for i := 0; i < 15; i++ {
		pErr, sErr := p.exchange(t, 3*time.Millisecond, 3*time.Millisecond)
		require.NoError(t, pErr)
		require.NoError(t, sErr)
		p.fc.Advance(time.Second)
	}

	ps, ss := p.primary.Snapshot(), p.secondary.Snapshot()
	assert.Equal(t, clock.Millis(5000), ss.FilteredOffset)
	assert.Equal(t, ss.FilteredOffset, ps.FilteredOffset, "both sides compute the same sample")
	assert.Equal(t, clock.Millis(3), ss.Delay)
	assert.Equal(t, 15, ss.Samples)
	assert.True(t, ss.HasExchange)
	assert.True(t, ss.HasProvisional)
	assert.Equal(t, clock.Micros(0), ss.Provisional-ss.FilteredOffset)
	assert.Equal(t, clock.Micros(0), p.phaseError())
	assert.GreaterOrEqual(t, ps.Quality, uint8(85))
	assert.Greater(t, ps.Interval, time.Second, "good quality lengthens the interval")
}

func TestEngineRejectsOutlierExchange(t *testing.T) {
	p := newPair(t, clock.Millis(2), 0)
	for i := 0; i < 20; i++ {
		_, _ = p.exchange(t, 40*time.Millisecond, 40*time.Millisecond)
		p.fc.Advance(time.Second)
	}
	before := p.secondary.Snapshot().FilteredOffset

	pErr, sErr := p.exchange(t, 150*time.Millisecond, 150*time.Millisecond)
	assert.ErrorIs(t, pErr, ErrJitterOutlier)
	assert.ErrorIs(t, sErr, ErrJitterOutlier)

	ss := p.secondary.Snapshot()
	assert.Equal(t, before, ss.FilteredOffset)
	assert.Equal(t, 1, ss.Rejected)
}

// Scenario: the link drops for two minutes while the clocks drift apart at
// 20 ppm. Each device keeps playing on its frozen estimate; the phase error
// accumulated during the outage must not exceed 20 ppm x 120 s.
func TestEngineFrozenOffsetDuringDisconnection(t *testing.T) {
	p := newPair(t, 5*clock.Millis(1000), 20)

	for i := 0; i < 30; i++ {
		pErr, sErr := p.exchange(t, 5*time.Millisecond, 5*time.Millisecond)
		require.NoError(t, pErr)
		require.NoError(t, sErr)
		p.fc.Advance(time.Second)
	}

	atDisconnect := p.phaseError()
	assert.Less(t, atDisconnect.Abs(), clock.Micros(500), "residual before disconnect")

	p.primary.Freeze()
	p.secondary.Freeze()
	frozen := p.secondary.Snapshot().FilteredOffset

	p.fc.Advance(120 * time.Second)

	after := p.phaseError()
	growth := after.Abs() - atDisconnect.Abs()
	bound := clock.Micros(20 * 120) // 20 ppm over 120 s = 2.4 ms

	assert.LessOrEqual(t, growth, bound+1)
	assert.InDelta(t, float64(bound), float64(after-atDisconnect), 2)
	assert.LessOrEqual(t, after.Abs(), atDisconnect.Abs()+bound+1)
	assert.Equal(t, frozen, p.secondary.Snapshot().FilteredOffset, "offset stays frozen")
	assert.False(t, p.secondary.Snapshot().Connected)
}

func TestEngineSequenceHandling(t *testing.T) {
	p := newPair(t, 1000, 0)

	require.NoError(t, p.primary.SendBeacon())
	b1 := p.toS.pop(t).(*wire.SyncBeacon)
	require.NoError(t, p.secondary.HandleBeacon(b1, p.sClock.Now()))
	p.toP.pop(t)

	// Duplicate beacon, twice. Neither copy is answered.
	err := p.secondary.HandleBeacon(b1, p.sClock.Now())
	assert.ErrorIs(t, err, ErrSequence)
	err = p.secondary.HandleBeacon(b1, p.sClock.Now())
	assert.ErrorIs(t, err, ErrSequence)
	assert.Empty(t, p.toP.msgs)

	// The gap right after a sequence error is not counted as loss; the
	// next one is.
	b5 := &wire.SyncBeacon{Sequence: b1.Sequence + 4, T1: b1.T1}
	require.NoError(t, p.secondary.HandleBeacon(b5, p.sClock.Now()))
	p.toP.pop(t)
	b7 := &wire.SyncBeacon{Sequence: b5.Sequence + 2, T1: b1.T1}
	require.NoError(t, p.secondary.HandleBeacon(b7, p.sClock.Now()))
	p.toP.pop(t)

	// A stale beacon after the jump is still rejected.
	err = p.secondary.HandleBeacon(b5, p.sClock.Now())
	assert.ErrorIs(t, err, ErrSequence)

	ss := p.secondary.Snapshot()
	assert.Equal(t, 3, ss.SequenceErrors)
	assert.Equal(t, 1, ss.Lost)
	assert.Equal(t, b7.Sequence+1, ss.ExpectedSequence)

	// A follow-up for an older exchange is discarded.
	err = p.secondary.HandleFollowUp(&wire.SyncFollowUp{Sequence: b5.Sequence, T4: 1}, p.sClock.Now())
	assert.ErrorIs(t, err, ErrSequence)

	// A response that does not match the in-flight beacon is discarded.
	err = p.primary.HandleResponse(&wire.SyncResponse{Sequence: 99}, p.pClock.Now())
	assert.ErrorIs(t, err, ErrSequence)
}

func TestEngineSequenceWraps(t *testing.T) {
	p := newPair(t, 0, 0)

	b := &wire.SyncBeacon{Sequence: ^uint32(0), T1: 0}
	require.NoError(t, p.secondary.HandleBeacon(b, p.sClock.Now()))
	next := &wire.SyncBeacon{Sequence: 0, T1: 0}
	assert.NoError(t, p.secondary.HandleBeacon(next, p.sClock.Now()))
	assert.Equal(t, 0, p.secondary.Snapshot().Lost)
}

func TestEngineWrongRole(t *testing.T) {
	p := newPair(t, 0, 0)
	assert.ErrorIs(t, p.secondary.SendBeacon(), ErrWrongRole)
	assert.ErrorIs(t, p.primary.HandleBeacon(&wire.SyncBeacon{}, 0), ErrWrongRole)
	assert.ErrorIs(t, p.secondary.HandleResponse(&wire.SyncResponse{}, 0), ErrWrongRole)
	assert.ErrorIs(t, p.primary.HandleFollowUp(&wire.SyncFollowUp{}, 0), ErrWrongRole)
}

func TestEngineStarvation(t *testing.T) {
	p := newPair(t, 0, 0)
	_, _ = p.exchange(t, time.Millisecond, time.Millisecond)

	p.fc.Advance(2 * time.Second)
	assert.NoError(t, p.secondary.CheckStarvation())

	p.fc.Advance(2 * time.Second)
	assert.ErrorIs(t, p.secondary.CheckStarvation(), ErrSyncStarvation)
	assert.True(t, p.secondary.Snapshot().Degraded)

	// Raised once per transition.
	assert.NoError(t, p.secondary.CheckStarvation())

	// Playback keeps its timebase while degraded.
	assert.Equal(t, clock.Micros(0), p.phaseError())

	_, sErr := p.exchange(t, time.Millisecond, time.Millisecond)
	require.NoError(t, sErr)
	assert.False(t, p.secondary.Snapshot().Degraded)
}

func TestEngineRoleChangeKeepsTimebase(t *testing.T) {
	p := newPair(t, clock.Millis(700), 0)
	for i := 0; i < 5; i++ {
		_, _ = p.exchange(t, 2*time.Millisecond, 2*time.Millisecond)
	}

	before := p.secondary.SynchronizedTime()
	p.secondary.SetRole(role.Primary)
	assert.Equal(t, before, p.secondary.SynchronizedTime())
	assert.Equal(t, clock.Millis(700), p.secondary.Snapshot().Correction)

	p.secondary.SetRole(role.Secondary)
	assert.Equal(t, before, p.secondary.SynchronizedTime())
}

func TestEngineTrySynchronizedTime(t *testing.T) {
	p := newPair(t, 0, 0)

	_, ok := p.primary.TrySynchronizedTime(time.Millisecond)
	assert.True(t, ok)

	p.primary.lock()
	_, ok = p.primary.TrySynchronizedTime(time.Millisecond)
	assert.False(t, ok)
	_, ok = p.primary.TrySynchronizedTime(0)
	assert.False(t, ok)
	p.primary.unlock()
}

func TestEngineRunSendsBeacons(t *testing.T) {
	fc := clockwork.NewFakeClock()
	sent := make(chan wire.Message, 8)

	cfg := DefaultConfig()
	cfg.Clock = clock.NewMonotonic(fc)
	cfg.Timers = fc
	e := NewEngine(cfg, SenderFunc(func(m wire.Message) error {
		sent <- m
		return nil
	}))
	e.SetRole(role.Primary)
	e.Connect("c", "peer")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	first := (<-sent).(*wire.SyncBeacon)
	assert.Equal(t, uint32(1), first.Sequence)
	assert.Equal(t, uint32(1000), first.IntervalMs)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, fc.BlockUntilContext(waitCtx, 1))
	fc.Advance(time.Second)

	second := (<-sent).(*wire.SyncBeacon)
	assert.Equal(t, uint32(2), second.Sequence)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
