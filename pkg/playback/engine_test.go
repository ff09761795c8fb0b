package playback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/duosync/duosync-go/pkg/clock"
	"github.com/duosync/duosync-go/pkg/sheet"
	"github.com/duosync/duosync-go/pkg/zone"
)

type fakeTime struct {
	mu     sync.Mutex
	local  clock.Micros
	offset clock.Micros
	busy   bool
}

func (f *fakeTime) TrySynchronizedTime(time.Duration) (clock.Micros, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return 0, false
	}
	return f.local - f.offset, true
}

func (f *fakeTime) LocalTime() clock.Micros {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.local
}

func (f *fakeTime) advance(d clock.Micros) {
	f.mu.Lock()
	f.local += d
	f.mu.Unlock()
}

func (f *fakeTime) setBusy(b bool) {
	f.mu.Lock()
	f.busy = b
	f.mu.Unlock()
}

type fixedSheet struct {
	s       *sheet.Sheet
	blocked bool
}

func (f *fixedSheet) Playable() (*sheet.Sheet, bool) {
	if f.s == nil || f.blocked {
		return nil, false
	}
	return f.s, true
}

type write struct {
	zone    zone.Zone
	channel sheet.Channel
	value   uint8
}

type recorder struct {
	mu     sync.Mutex
	writes []write
	state  map[sheet.Channel]uint8
}

func newRecorder() *recorder {
	return &recorder{state: map[sheet.Channel]uint8{}}
}

func (r *recorder) SetOutput(z zone.Zone, c sheet.Channel, v uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, write{z, c, v})
	r.state[c] = v
}

func (r *recorder) value(c sheet.Channel) uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state[c]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.writes)
}

type mockActuator struct {
	mock.Mock
}

func (m *mockActuator) SetOutput(z zone.Zone, c sheet.Channel, v uint8) {
	m.Called(z, c, v)
}

type harness struct {
	clk    *clockwork.FakeClock
	times  *fakeTime
	sheets *fixedSheet
	act    *recorder
	engine *Engine
}

func newHarness(t *testing.T, z zone.Zone) *harness {
	t.Helper()
	b, err := zone.NewManual(z)
	require.NoError(t, err)

	h := &harness{
		clk:    clockwork.NewFakeClock(),
		times:  &fakeTime{},
		sheets: &fixedSheet{s: bilateral(t)},
		act:    newRecorder(),
	}
	cfg := DefaultConfig()
	cfg.Clock = h.clk
	h.engine = NewEngine(cfg, h.times, h.sheets, b, h.act)
	return h
}

func TestEngineDrivesOwnZone(t *testing.T) {
	h := newHarness(t, zone.Right)
	h.engine.Start()

	h.times.local = 2100
	h.engine.Tick()
	assert.Equal(t, uint8(0), h.act.value(sheet.ChannelMotor))

	h.times.advance(500)
	h.engine.Tick()
	assert.Equal(t, uint8(80), h.act.value(sheet.ChannelMotor))
	assert.Equal(t, uint8(100), h.act.value(sheet.ChannelBrightness))

	for _, w := range h.act.writes {
		assert.Equal(t, zone.Right, w.zone)
	}

	st := h.engine.Status()
	assert.Equal(t, StatePlaying, st.State)
	assert.Equal(t, clock.Micros(2600), st.SyncTime)
	assert.Equal(t, 1, st.Position.Segment)
}

func TestEngineWritesOnlyChanges(t *testing.T) {
	h := newHarness(t, zone.Left)
	h.engine.Start()

	h.times.local = 2000
	h.engine.Tick()
	first := h.act.count()
	assert.Equal(t, len(sheet.Channels), first)

	h.times.advance(100)
	h.engine.Tick()
	assert.Equal(t, first, h.act.count(), "same segment, nothing to write")

	h.times.advance(500)
	h.engine.Tick()
	// Motor and brightness change; color is the same palette index.
	assert.Equal(t, first+2, h.act.count())
}

func TestEngineLockMissExtrapolates(t *testing.T) {
	h := newHarness(t, zone.Left)
	h.engine.Start()

	h.times.offset = 1000
	h.times.local = 3100 // sync 2100
	h.engine.Tick()
	assert.Equal(t, uint8(80), h.act.value(sheet.ChannelMotor))

	h.times.setBusy(true)
	h.times.advance(500) // sync would be 2600
	h.engine.Tick()

	st := h.engine.Status()
	assert.Equal(t, uint64(1), st.LockMisses)
	assert.Equal(t, clock.Micros(2600), st.SyncTime)
	assert.Equal(t, uint8(0), h.act.value(sheet.ChannelMotor))
}

func TestEngineMissWithoutAnchorSkipsTick(t *testing.T) {
	h := newHarness(t, zone.Left)
	h.engine.Start()
	h.times.setBusy(true)
	h.times.local = 2100

	h.engine.Tick()
	assert.Zero(t, h.act.count())
	assert.Equal(t, uint64(1), h.engine.Status().LockMisses)
}

func TestEngineBlockedSheetIsNeutral(t *testing.T) {
	h := newHarness(t, zone.Left)
	h.engine.Start()

	h.times.local = 2100
	h.engine.Tick()
	require.Equal(t, uint8(80), h.act.value(sheet.ChannelMotor))

	h.sheets.blocked = true
	h.times.advance(10)
	h.engine.Tick()
	assert.Equal(t, uint8(0), h.act.value(sheet.ChannelMotor))
	assert.Equal(t, -1, h.engine.Status().Position.Segment)
}

func TestEnginePauseResumeStop(t *testing.T) {
	h := newHarness(t, zone.Left)
	h.engine.Start()

	h.times.local = 2100
	h.engine.Tick()
	n := h.act.count()

	h.engine.Pause()
	assert.Equal(t, StatePaused, h.engine.State())
	h.times.advance(500)
	h.engine.Tick()
	assert.Equal(t, n, h.act.count(), "paused engine holds its outputs")
	assert.Equal(t, uint8(80), h.act.value(sheet.ChannelMotor))

	require.NoError(t, h.engine.Resume())
	h.engine.Tick()
	assert.Equal(t, uint8(0), h.act.value(sheet.ChannelMotor), "resume rejoins the shared phase")

	assert.ErrorIs(t, h.engine.Resume(), ErrNotPaused)

	h.times.advance(500)
	h.engine.Tick()
	require.Equal(t, uint8(80), h.act.value(sheet.ChannelMotor))
	h.engine.Stop()
	assert.Equal(t, StateStopped, h.engine.State())
	assert.Equal(t, uint8(0), h.act.value(sheet.ChannelMotor))
	assert.Equal(t, uint8(0), h.act.value(sheet.ChannelBrightness))
}

func TestEngineCountsLoops(t *testing.T) {
	h := newHarness(t, zone.Left)
	h.engine.Start()

	h.times.local = 2100
	for i := 0; i < 350; i++ {
		h.engine.Tick()
		h.times.advance(clock.Millis(10) / 1000)
	}
	// 350 ticks of 10us cover 3.5 ms of a 1 ms sheet.
	assert.Equal(t, int64(3), h.engine.Status().Loops)

	h.sheets.s = bilateral(t)
	h.sheets.s.BirthTime = 5000
	require.NoError(t, h.sheets.s.Seal())
	h.engine.Tick()
	assert.Zero(t, h.engine.Status().Loops, "new sheet restarts the count")
}

func TestEngineRun(t *testing.T) {
	h := newHarness(t, zone.Left)
	h.engine.Start()
	h.times.local = 2100

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()

	require.NoError(t, h.clk.BlockUntilContext(ctx, 1))
	for i := 0; i < 5; i++ {
		h.clk.Advance(DefaultTick)
	}
	require.Eventually(t, func() bool {
		return h.engine.Status().Ticks >= 1
	}, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, uint8(80), h.act.value(sheet.ChannelMotor))
}

func TestEngineActuatorSequence(t *testing.T) {
	b, err := zone.NewManual(zone.Left)
	require.NoError(t, err)

	act := &mockActuator{}
	act.On("SetOutput", zone.Left, sheet.ChannelMotor, uint8(80)).Once()
	act.On("SetOutput", zone.Left, sheet.ChannelBrightness, uint8(100)).Once()
	act.On("SetOutput", zone.Left, sheet.ChannelColor, uint8(1)).Once()
	act.On("SetOutput", zone.Left, sheet.ChannelMotor, uint8(0)).Once()
	act.On("SetOutput", zone.Left, sheet.ChannelBrightness, uint8(0)).Once()
	act.On("SetOutput", zone.Left, sheet.ChannelColor, uint8(0)).Once()

	times := &fakeTime{local: 2100}
	cfg := DefaultConfig()
	cfg.Clock = clockwork.NewFakeClock()
	e := NewEngine(cfg, times, &fixedSheet{s: bilateral(t)}, b, act)
	e.Start()

	e.Tick()
	times.advance(500)
	e.Tick()
	// Stop only has the color left to clear.
	e.Stop()

	act.AssertExpectations(t)
	act.AssertNumberOfCalls(t, "SetOutput", 6)
}
