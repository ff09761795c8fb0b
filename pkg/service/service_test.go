package service

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duosync/duosync-go/pkg/clock"
	"github.com/duosync/duosync-go/pkg/fallback"
	dlog "github.com/duosync/duosync-go/pkg/log"
	"github.com/duosync/duosync-go/pkg/persistence"
	"github.com/duosync/duosync-go/pkg/role"
	"github.com/duosync/duosync-go/pkg/sheet"
	"github.com/duosync/duosync-go/pkg/transport"
	"github.com/duosync/duosync-go/pkg/version"
	"github.com/duosync/duosync-go/pkg/wire"
	"github.com/duosync/duosync-go/pkg/zone"
)

const (
	waitTimeout = 2 * time.Second
	waitTick    = 5 * time.Millisecond
)

type write struct {
	zone    zone.Zone
	channel sheet.Channel
	value   uint8
}

type recorder struct {
	mu     sync.Mutex
	writes []write
}

func (r *recorder) SetOutput(z zone.Zone, c sheet.Channel, v uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, write{z, c, v})
}

func (r *recorder) saw(w write) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, got := range r.writes {
		if got == w {
			return true
		}
	}
	return false
}

func (r *recorder) zones() map[zone.Zone]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[zone.Zone]int)
	for _, w := range r.writes {
		out[w.zone]++
	}
	return out
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) handle(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) has(t EventType) bool {
	_, ok := l.first(t)
	return ok
}

func (l *eventLog) first(t EventType) (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e.Type == t {
			return e, true
		}
	}
	return Event{}, false
}

type testDevice struct {
	*DeviceService
	act    *recorder
	events *eventLog
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(fc *clockwork.FakeClock, id string, budget uint16) Config {
	cfg := DefaultConfig()
	cfg.DeviceID = id
	cfg.PowerBudget = budget
	cfg.Clock = clock.NewMonotonic(fc)
	cfg.Timers = fc
	cfg.SurvivorTimeout = 5 * time.Second
	cfg.Logger = quietLogger()
	return cfg
}

func startDevice(t *testing.T, cfg Config) *testDevice {
	t.Helper()

	act := &recorder{}
	cfg.Actuator = act
	svc, err := NewDeviceService(cfg)
	require.NoError(t, err)

	log := &eventLog{}
	svc.OnEvent(log.handle)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { _ = svc.Stop() })

	return &testDevice{DeviceService: svc, act: act, events: log}
}

func newDevice(t *testing.T, fc *clockwork.FakeClock, id string, budget uint16) *testDevice {
	t.Helper()
	return startDevice(t, testConfig(fc, id, budget))
}

func connect(t *testing.T, fc *clockwork.FakeClock, a, b *testDevice) (*transport.Loopback, *transport.Loopback) {
	t.Helper()

	la, lb := transport.NewLoopbackPair(transport.LoopbackConfig{Timers: fc}, a.cfg.Clock, b.cfg.Clock)
	require.NoError(t, a.Attach(la))
	require.NoError(t, b.Attach(lb))

	require.Eventually(t, func() bool {
		return a.Connected() && b.Connected()
	}, waitTimeout, waitTick, "devices did not negotiate")
	return la, lb
}

func bilateralSheet() *sheet.Sheet {
	return &sheet.Sheet{
		Name:      "test-bilateral",
		LoopPoint: clock.Millis(1000),
		Class:     sheet.ClassBilateral,
		Looping:   true,
		ZoneCount: 2,
		Segments: []sheet.Segment{
			{TimeOffset: 0, Easing: sheet.EaseStep, Outputs: []sheet.Output{
				{Motor: 80, Brightness: 100, Color: sheet.ColorGreen},
				{Color: sheet.ColorGreen},
			}},
			{TimeOffset: clock.Millis(500), Easing: sheet.EaseStep, Outputs: []sheet.Output{
				{Color: sheet.ColorGreen},
				{Motor: 80, Brightness: 100, Color: sheet.ColorGreen},
			}},
		},
	}
}

func TestConfigValidate(t *testing.T) {
	fc := clockwork.NewFakeClock()
	act := &recorder{}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing clock", func(c *Config) { c.Clock = nil }},
		{"missing actuator", func(c *Config) { c.Actuator = nil }},
		{"missing device id", func(c *Config) { c.DeviceID = "" }},
		{"invalid manual zone", func(c *Config) {
			c.ZoneMode = zone.ModeManual
			c.Zone = zone.Zone(7)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(fc, "dev-a", 10)
			cfg.Actuator = act
			tt.mutate(&cfg)
			_, err := NewDeviceService(cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestServiceLifecycle(t *testing.T) {
	fc := clockwork.NewFakeClock()
	cfg := testConfig(fc, "dev-a", 10)
	cfg.Actuator = &recorder{}

	svc, err := NewDeviceService(cfg)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, svc.State())
	assert.ErrorIs(t, svc.Stop(), ErrNotStarted)

	la, _ := transport.NewLoopbackPair(transport.LoopbackConfig{Timers: fc}, cfg.Clock, cfg.Clock)
	assert.ErrorIs(t, svc.Attach(la), ErrNotStarted)

	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, StateRunning, svc.State())
	assert.ErrorIs(t, svc.Start(context.Background()), ErrAlreadyStarted)
	assert.Equal(t, fallback.PhaseSynchronized, svc.Fallback().Phase())

	require.NoError(t, svc.Stop())
	assert.Equal(t, StateStopped, svc.State())
}

func TestNegotiation(t *testing.T) {
	fc := clockwork.NewFakeClock()
	a := newDevice(t, fc, "dev-a", 80)
	b := newDevice(t, fc, "dev-b", 50)

	connect(t, fc, a, b)

	assert.Equal(t, role.Primary, a.Sync().Role())
	assert.Equal(t, role.Secondary, b.Sync().Role())

	da, db := a.Diagnostics(), b.Diagnostics()
	assert.Equal(t, zone.Right, da.Zone)
	assert.Equal(t, zone.Left, db.Zone)
	assert.Equal(t, "dev-b", da.PeerID)
	assert.Equal(t, "dev-a", db.PeerID)
	assert.Equal(t, "1.0", db.ProtocolVersion)
	assert.False(t, da.TiebreakUsed)
	assert.Equal(t, fallback.PhaseConnected, db.Phase)

	// The Primary beacons as soon as roles are settled.
	require.Eventually(t, func() bool {
		return b.Diagnostics().Samples >= 1
	}, waitTimeout, waitTick)
	assert.True(t, b.Diagnostics().Confident)

	ev, ok := b.events.first(EventConnected)
	require.True(t, ok)
	assert.Equal(t, "dev-a", ev.PeerID)
	assert.Equal(t, role.Secondary, ev.Assignment.Role)
}

func TestNegotiationTiebreak(t *testing.T) {
	fc := clockwork.NewFakeClock()
	a := newDevice(t, fc, "dev-b", 50)
	b := newDevice(t, fc, "dev-a", 50)

	connect(t, fc, a, b)

	// Equal budgets: the smaller ID is Primary.
	assert.Equal(t, role.Secondary, a.Sync().Role())
	assert.Equal(t, role.Primary, b.Sync().Role())
	assert.True(t, a.Diagnostics().TiebreakUsed)
}

func TestHelloRetry(t *testing.T) {
	fc := clockwork.NewFakeClock()
	cfgA := testConfig(fc, "dev-a", 80)
	cfgA.SurvivorTimeout = time.Hour
	cfgB := testConfig(fc, "dev-b", 50)
	cfgB.SurvivorTimeout = time.Hour
	a := startDevice(t, cfgA)
	b := startDevice(t, cfgB)

	la, lb := transport.NewLoopbackPair(transport.LoopbackConfig{Timers: fc}, a.cfg.Clock, b.cfg.Clock)
	la.Partition(true)
	require.NoError(t, a.Attach(la))
	require.NoError(t, b.Attach(lb))
	assert.False(t, a.Connected())

	la.Partition(false)
	require.Eventually(t, func() bool {
		fc.Advance(time.Second)
		return a.Connected() && b.Connected()
	}, waitTimeout, 10*time.Millisecond)
}

func TestSheetReconciliationOnConnect(t *testing.T) {
	fc := clockwork.NewFakeClock()
	a := newDevice(t, fc, "dev-a", 80)
	b := newDevice(t, fc, "dev-b", 50)

	hdr, err := a.SelectPattern("alternating")
	require.NoError(t, err)

	connect(t, fc, a, b)

	require.Eventually(t, func() bool {
		got, ok := b.Sheets().Header()
		return ok && got == hdr
	}, waitTimeout, waitTick)
	assert.Equal(t, "alternating", b.Sheets().Active().Name)
	assert.True(t, b.events.has(EventSheetChanged))
}

func TestModeChangePropagates(t *testing.T) {
	fc := clockwork.NewFakeClock()
	a := newDevice(t, fc, "dev-a", 80)
	b := newDevice(t, fc, "dev-b", 50)

	connect(t, fc, a, b)

	hdr, err := b.SelectPattern("breathe")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, ok := a.Sheets().Header()
		return ok && got == hdr
	}, waitTimeout, waitTick)

	ev, ok := a.events.first(EventSheetChanged)
	require.True(t, ok)
	assert.Equal(t, hdr, ev.Sheet)
}

func TestChangeSheetStaysNewer(t *testing.T) {
	fc := clockwork.NewFakeClock()
	a := newDevice(t, fc, "dev-a", 80)

	future, err := sheet.Builtin("alternating", clock.Micros(10_000_000))
	require.NoError(t, err)
	require.NoError(t, a.Sheets().Load(future))

	hdr, err := a.SelectPattern("breathe")
	require.NoError(t, err)
	assert.Equal(t, clock.Micros(10_000_000)+sheet.DefaultUncertainty+1, hdr.BirthTime)
	assert.Equal(t, "breathe", a.Sheets().Active().Name)

	_, err = a.SelectPattern("no-such-pattern")
	assert.Error(t, err)
}

func TestSecondaryModeChangeRightAfterAdopting(t *testing.T) {
	fc := clockwork.NewFakeClock()
	a := newDevice(t, fc, "dev-a", 80)
	b := newDevice(t, fc, "dev-b", 50)
	connect(t, fc, a, b)

	first, err := a.SelectPattern("alternating")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, ok := b.Sheets().Header()
		return ok && got == first
	}, waitTimeout, waitTick)

	second, err := b.SelectPattern("breathe")
	require.NoError(t, err)
	assert.Greater(t, second.BirthTime, first.BirthTime+sheet.DefaultUncertainty)

	require.Eventually(t, func() bool {
		ha, okA := a.Sheets().Header()
		hb, okB := b.Sheets().Header()
		return okA && okB && ha == hb
	}, waitTimeout, waitTick, "peers play different sheets")
	assert.Equal(t, "breathe", a.Sheets().Active().Name)
	assert.Equal(t, "breathe", b.Sheets().Active().Name)
}

// wireCapture collects the messages a device sends to a scripted peer.
type wireCapture struct {
	mu   sync.Mutex
	msgs []wire.Message
}

func (c *wireCapture) handle(payload []byte, _ clock.Micros) {
	msg, err := wire.Decode(payload)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *wireCapture) headers(birth clock.Micros) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.msgs {
		if h, ok := m.(*wire.SheetHeader); ok && !h.Ack && h.BirthTime == int64(birth) {
			n++
		}
	}
	return n
}

func sendRaw(t *testing.T, l *transport.Loopback, msg wire.Message) {
	t.Helper()
	data, err := wire.Encode(msg)
	require.NoError(t, err)
	require.NoError(t, l.Send(data))
}

func TestLosingSheetAnsweredWithHeader(t *testing.T) {
	fc := clockwork.NewFakeClock()
	a := newDevice(t, fc, "dev-a", 80)

	active, err := sheet.Builtin("alternating", 1_000_000)
	require.NoError(t, err)
	require.NoError(t, a.Sheets().Load(active))

	la, raw := transport.NewLoopbackPair(transport.LoopbackConfig{Timers: fc}, a.cfg.Clock, a.cfg.Clock)
	peer := &wireCapture{}
	raw.SetHandler(peer.handle)
	require.NoError(t, a.Attach(la))

	sendRaw(t, raw, &wire.Hello{DeviceID: "peer", PowerBudget: 10, ProtocolVersion: version.Current})
	require.Eventually(t, a.Connected, waitTimeout, waitTick)
	require.Eventually(t, func() bool { return peer.headers(active.BirthTime) == 1 }, waitTimeout, waitTick)

	// The peer proposes a sheet born inside the window; the Primary keeps
	// its own and tells the peer.
	losing, err := sheet.Builtin("breathe", active.BirthTime+1)
	require.NoError(t, err)
	data, err := sheet.Encode(losing)
	require.NoError(t, err)
	sendRaw(t, raw, &wire.ModeChangeRequest{Sheet: data, Pattern: losing.Name})

	require.Eventually(t, func() bool { return peer.headers(active.BirthTime) == 2 }, waitTimeout, waitTick)
	assert.Equal(t, "alternating", a.Sheets().Active().Name)

	// A losing header is answered the same way.
	older := active.Header()
	older.BirthTime -= 2
	sendRaw(t, raw, headerMessage(older, false))
	require.Eventually(t, func() bool { return peer.headers(active.BirthTime) == 3 }, waitTimeout, waitTick)
}

func TestEventHandlerMayChangeSheet(t *testing.T) {
	fc := clockwork.NewFakeClock()
	a := newDevice(t, fc, "dev-a", 80)

	var changed atomic.Bool
	a.OnEvent(func(e Event) {
		if e.Type != EventSheetChanged || !changed.CompareAndSwap(false, true) {
			return
		}
		_, err := a.SelectPattern("breathe")
		assert.NoError(t, err)
	})

	done := make(chan error, 1)
	go func() {
		_, err := a.SelectPattern("alternating")
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("SelectPattern blocked in an event handler")
	}
	assert.Equal(t, "breathe", a.Sheets().Active().Name)
}

// countingLink counts payloads that reached the underlying link.
type countingLink struct {
	transport.Link
	sent atomic.Int64
}

func (l *countingLink) Send(payload []byte) error {
	err := l.Link.Send(payload)
	if err == nil {
		l.sent.Add(1)
	}
	return err
}

// sendOrderLogger flags outbound message events logged before their
// payload was sent.
type sendOrderLogger struct {
	link   *countingLink
	logged atomic.Int64
	early  atomic.Int64
}

func (l *sendOrderLogger) Log(ev dlog.Event) {
	if ev.Direction != dlog.DirectionOut || ev.Message == nil {
		return
	}
	if l.link.sent.Load() <= l.logged.Add(1)-1 {
		l.early.Add(1)
	}
}

func TestOutboundMessagesLoggedAfterSend(t *testing.T) {
	fc := clockwork.NewFakeClock()
	la, lb := transport.NewLoopbackPair(transport.LoopbackConfig{Timers: fc}, clock.NewMonotonic(fc), clock.NewMonotonic(fc))
	link := &countingLink{Link: la}
	plog := &sendOrderLogger{link: link}

	cfg := testConfig(fc, "dev-a", 80)
	cfg.ProtocolLogger = plog
	a := startDevice(t, cfg)
	b := newDevice(t, fc, "dev-b", 50)

	require.NoError(t, a.Attach(link))
	require.NoError(t, b.Attach(lb))
	require.Eventually(t, func() bool {
		return a.Connected() && b.Connected()
	}, waitTimeout, waitTick)

	_, err := a.SelectPattern("alternating")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return b.Sheets().Active() != nil
	}, waitTimeout, waitTick)

	assert.Positive(t, plog.logged.Load())
	assert.Zero(t, plog.early.Load())
}

func TestSheetCorruptionRecovery(t *testing.T) {
	fc := clockwork.NewFakeClock()
	a := newDevice(t, fc, "dev-a", 80)
	b := newDevice(t, fc, "dev-b", 50)

	// Same version, different content.
	alt, err := sheet.Builtin("alternating", 1000)
	require.NoError(t, err)
	breathe, err := sheet.Builtin("breathe", 1000)
	require.NoError(t, err)
	require.NoError(t, a.Sheets().Load(alt))
	require.NoError(t, b.Sheets().Load(breathe))

	connect(t, fc, a, b)

	require.Eventually(t, func() bool {
		return b.events.has(EventSheetCorruption)
	}, waitTimeout, waitTick)
	require.Eventually(t, func() bool {
		return a.events.has(EventCorruptionCleared) && b.events.has(EventCorruptionCleared)
	}, waitTimeout, waitTick)

	assert.False(t, a.Sheets().Corrupted())
	assert.False(t, b.Sheets().Corrupted())

	ha, _ := a.Sheets().Header()
	hb, _ := b.Sheets().Header()
	assert.Equal(t, ha, hb)
	assert.Equal(t, "alternating", b.Sheets().Active().Name)
}

func TestIncompatiblePeer(t *testing.T) {
	fc := clockwork.NewFakeClock()
	a := newDevice(t, fc, "dev-a", 80)

	la, raw := transport.NewLoopbackPair(transport.LoopbackConfig{Timers: fc}, a.cfg.Clock, a.cfg.Clock)
	require.NoError(t, a.Attach(la))

	data, err := wire.Encode(&wire.Hello{DeviceID: "future", PowerBudget: 99, ProtocolVersion: "2.0"})
	require.NoError(t, err)
	require.NoError(t, raw.Send(data))

	require.Eventually(t, func() bool {
		return a.events.has(EventIncompatiblePeer)
	}, waitTimeout, waitTick)

	select {
	case <-raw.Done():
	case <-time.After(waitTimeout):
		t.Fatal("link not closed after incompatible hello")
	}
	assert.False(t, a.Connected())
	assert.Equal(t, role.Unassigned, a.Sync().Role())
}

func TestUndecodablePayloadCounted(t *testing.T) {
	fc := clockwork.NewFakeClock()
	a := newDevice(t, fc, "dev-a", 80)

	la, raw := transport.NewLoopbackPair(transport.LoopbackConfig{Timers: fc}, a.cfg.Clock, a.cfg.Clock)
	require.NoError(t, a.Attach(la))
	require.NoError(t, raw.Send([]byte{0xff, 0x00}))

	require.Eventually(t, func() bool {
		return a.Diagnostics().ReceiveErrors == 1
	}, waitTimeout, waitTick)
}

func TestDisconnectAndFailover(t *testing.T) {
	fc := clockwork.NewFakeClock()
	a := newDevice(t, fc, "dev-a", 80)
	b := newDevice(t, fc, "dev-b", 50)

	la, _ := connect(t, fc, a, b)
	require.NoError(t, la.Close())

	require.Eventually(t, func() bool {
		return a.events.has(EventDisconnected) && b.events.has(EventDisconnected)
	}, waitTimeout, waitTick)
	assert.Equal(t, fallback.PhaseSynchronized, b.Fallback().Phase())

	// Roles are held through the first phase.
	assert.Equal(t, role.Secondary, b.Sync().Role())

	fc.Advance(5 * time.Second)

	require.Eventually(t, func() bool {
		return b.events.has(EventFailover)
	}, waitTimeout, waitTick)
	assert.Equal(t, role.Primary, b.Sync().Role())
	assert.False(t, a.events.has(EventFailover))

	// The zone stays locked through the promotion.
	db := b.Diagnostics()
	assert.True(t, db.HasZone)
	assert.Equal(t, zone.Left, db.Zone)
}

func TestReconnectAfterFailover(t *testing.T) {
	fc := clockwork.NewFakeClock()
	a := newDevice(t, fc, "dev-a", 80)
	b := newDevice(t, fc, "dev-b", 50)

	la, _ := connect(t, fc, a, b)
	require.NoError(t, la.Close())
	require.Eventually(t, func() bool {
		return b.events.has(EventDisconnected)
	}, waitTimeout, waitTick)

	fc.Advance(5 * time.Second)
	require.Eventually(t, func() bool {
		return b.events.has(EventFailover)
	}, waitTimeout, waitTick)

	connect(t, fc, a, b)

	// Exactly one Primary after the failover negotiation.
	require.Eventually(t, func() bool {
		ra, rb := a.Sync().Role(), b.Sync().Role()
		return ra != rb && ra != role.Unassigned && rb != role.Unassigned
	}, waitTimeout, waitTick)
}

func TestSyncStarvation(t *testing.T) {
	fc := clockwork.NewFakeClock()
	a := newDevice(t, fc, "dev-a", 80)
	b := newDevice(t, fc, "dev-b", 50)

	la, _ := connect(t, fc, a, b)
	require.Eventually(t, func() bool {
		return b.Diagnostics().Samples >= 1
	}, waitTimeout, waitTick)

	la.Partition(true)

	require.Eventually(t, func() bool {
		fc.Advance(time.Second)
		return b.events.has(EventSyncStarvation)
	}, 5*time.Second, 10*time.Millisecond)

	d := b.Diagnostics()
	assert.True(t, d.Degraded)
	assert.False(t, d.Confident)
	// Starvation degrades confidence only; the session stays up.
	assert.True(t, b.Connected())
}

func TestPlaybackUsesLocalZone(t *testing.T) {
	fc := clockwork.NewFakeClock()
	a := newDevice(t, fc, "dev-a", 80)
	b := newDevice(t, fc, "dev-b", 50)

	connect(t, fc, a, b)

	hdr, err := a.ChangeSheet(bilateralSheet())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, ok := b.Sheets().Header()
		return ok && got == hdr
	}, waitTimeout, waitTick)

	// Birth at 0 with a one second loop starts at the 1s epoch.
	for i := 0; i < 24; i++ {
		fc.Advance(50 * time.Millisecond)
	}
	a.Playback().Tick()
	b.Playback().Tick()

	assert.True(t, b.act.saw(write{zone.Left, sheet.ChannelMotor, 80}))
	assert.True(t, a.act.saw(write{zone.Right, sheet.ChannelMotor, 0}))
	assert.Zero(t, b.act.zones()[zone.Right], "secondary wrote the other zone")
	assert.Zero(t, a.act.zones()[zone.Left], "primary wrote the other zone")
}

func TestPersistenceRestoresState(t *testing.T) {
	fc := clockwork.NewFakeClock()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "device.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := testConfig(fc, "", 80)
	cfg.Store = store
	first := startDevice(t, cfg)
	id := first.DeviceID()
	require.NotEmpty(t, id)

	hdr, err := first.SelectPattern("emergency")
	require.NoError(t, err)
	require.NoError(t, first.Stop())

	second := startDevice(t, cfg)
	assert.Equal(t, id, second.DeviceID())

	got, ok := second.Sheets().Header()
	require.True(t, ok)
	assert.Equal(t, hdr, got)
}

func TestPersistedZoneRestored(t *testing.T) {
	fc := clockwork.NewFakeClock()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "device.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := testConfig(fc, "dev-b", 50)
	cfg.Store = store
	b := startDevice(t, cfg)
	a := newDevice(t, fc, "dev-a", 80)
	connect(t, fc, a, b)

	require.Eventually(t, func() bool {
		z, ok, err := store.Zone()
		return err == nil && ok && z == zone.Left
	}, waitTimeout, waitTick)
	require.NoError(t, b.Stop())

	restored := startDevice(t, cfg)
	z, ok := restored.Diagnostics().Zone, restored.Diagnostics().HasZone
	assert.True(t, ok)
	assert.Equal(t, zone.Left, z)
}

func TestEventTypeString(t *testing.T) {
	assert.Equal(t, "SHEET_CORRUPTION", EventSheetCorruption.String())
	assert.Equal(t, "SYNC_STARVATION", EventSyncStarvation.String())
	assert.Equal(t, "UNKNOWN", EventType(200).String())
	assert.Equal(t, "RUNNING", StateRunning.String())
}
