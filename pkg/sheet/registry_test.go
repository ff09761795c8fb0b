package sheet

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duosync/duosync-go/pkg/clock"
	dlog "github.com/duosync/duosync-go/pkg/log"
)

type captureLogger struct {
	mu     sync.Mutex
	events []dlog.Event
}

func (c *captureLogger) Log(e dlog.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureLogger) actions() []dlog.SheetAction {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []dlog.SheetAction
	for _, e := range c.events {
		if e.Sheet != nil {
			out = append(out, e.Sheet.Action)
		}
	}
	return out
}

func newRegistry(t *testing.T) (*Registry, *captureLogger) {
	t.Helper()
	capture := &captureLogger{}
	return NewRegistry(RegistryConfig{ProtocolLogger: capture}), capture
}

func alternating(t *testing.T, birth clock.Micros) *Sheet {
	t.Helper()
	s, err := Builtin("alternating", birth)
	require.NoError(t, err)
	return s
}

func TestRegistryLoad(t *testing.T) {
	r, _ := newRegistry(t)
	_, ok := r.Playable()
	assert.False(t, ok)

	var changed []*Sheet
	r.OnChange(func(s *Sheet) { changed = append(changed, s) })

	first := alternating(t, 1000)
	require.NoError(t, r.Load(first))
	got, ok := r.Playable()
	require.True(t, ok)
	assert.Equal(t, first.Header(), got.Header())
	assert.NotSame(t, first, got, "registry keeps its own copy")

	err := r.Load(alternating(t, 1000))
	assert.ErrorIs(t, err, ErrStale)

	require.NoError(t, r.Load(alternating(t, 2000)))
	assert.Len(t, changed, 2)

	bad := alternating(t, 3000)
	bad.Segments[3].Transition = clock.Millis(1500)
	assert.ErrorIs(t, r.Load(bad), ErrLoopBoundary)
	assert.Equal(t, clock.Micros(2000), r.Active().BirthTime)
}

func TestRegistryHeaderIdempotent(t *testing.T) {
	r, _ := newRegistry(t)
	s := alternating(t, 5000)
	require.NoError(t, r.Load(s))

	for i := 0; i < 3; i++ {
		out, err := r.OfferHeader(s.Header(), i%2 == 0)
		require.NoError(t, err)
		assert.Equal(t, Outcome{Verdict: Identical}, out)
	}
	assert.Equal(t, s.Header(), r.Active().Header())
}

func TestRegistryOfferHeader(t *testing.T) {
	r, _ := newRegistry(t)

	out, err := r.OfferHeader(Header{BirthTime: 10}, true)
	require.NoError(t, err)
	assert.Equal(t, ActionRequest, out.Action, "empty registry requests any sheet")

	require.NoError(t, r.Load(alternating(t, 100_000)))

	out, err = r.OfferHeader(Header{BirthTime: 200_000}, true)
	require.NoError(t, err)
	assert.Equal(t, AdoptRemote, out.Verdict)
	assert.Equal(t, ActionRequest, out.Action)

	out, err = r.OfferHeader(Header{BirthTime: 50_000}, false)
	require.NoError(t, err)
	assert.Equal(t, KeepLocal, out.Verdict)
	assert.Equal(t, ActionNone, out.Action)
}

func TestRegistryOfferSheet(t *testing.T) {
	r, _ := newRegistry(t)
	require.NoError(t, r.Load(alternating(t, 100_000)))

	older := alternating(t, 10_000)
	out, err := r.OfferSheet(older, false)
	require.NoError(t, err)
	assert.False(t, out.Changed)

	newer, err := Builtin("breathe", 300_000)
	require.NoError(t, err)
	out, err = r.OfferSheet(newer, true)
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, "breathe", r.Active().Name)

	tampered := alternating(t, 400_000)
	tampered.Segments[1].Outputs[0].Motor = 1
	out, err = r.OfferSheet(tampered, false)
	assert.ErrorIs(t, err, ErrChecksum)
	assert.Equal(t, ActionRequest, out.Action)
	assert.Equal(t, "breathe", r.Active().Name)
}

func TestRegistryCorruptionRecovery(t *testing.T) {
	primary, plog := newRegistry(t)
	secondary, _ := newRegistry(t)

	good := alternating(t, 777_000)
	require.NoError(t, primary.Load(good))

	// Same birth time, different content.
	wrong := good.Clone()
	wrong.Segments[1].Outputs[0].Motor = 20
	require.NoError(t, wrong.Seal())
	require.NoError(t, secondary.Load(wrong))

	out, err := secondary.OfferHeader(good.Header(), false)
	assert.True(t, IsCorruption(err))
	assert.Equal(t, Corrupt, out.Verdict)
	assert.Equal(t, ActionRequest, out.Action)
	assert.True(t, secondary.Corrupted())
	_, ok := secondary.Playable()
	assert.False(t, ok)

	out, err = primary.OfferHeader(wrong.Header(), true)
	assert.True(t, IsCorruption(err))
	assert.Equal(t, ActionNone, out.Action, "primary waits for the request")
	_, ok = primary.Playable()
	assert.False(t, ok)

	// The Primary retransmits its sheet.
	out, err = secondary.OfferSheet(primary.Active().Clone(), false)
	require.NoError(t, err)
	assert.Equal(t, ActionAck, out.Action)
	assert.False(t, secondary.Corrupted())
	assert.Equal(t, good.Checksum, secondary.Active().Checksum)

	// A mismatched ack is ignored.
	assert.False(t, primary.Acknowledge(wrong.Header()))
	assert.True(t, primary.Corrupted())

	assert.True(t, primary.Acknowledge(secondary.Active().Header()))
	_, ok = primary.Playable()
	assert.True(t, ok)

	assert.Contains(t, plog.actions(), dlog.SheetCorrupted)
	assert.Contains(t, plog.actions(), dlog.SheetCleared)
}

func TestRegistryNewerVersionClearsCorruption(t *testing.T) {
	r, _ := newRegistry(t)
	s := alternating(t, 1000)
	require.NoError(t, r.Load(s))

	_, err := r.OfferHeader(Header{BirthTime: 1000, Checksum: s.Checksum + 1}, true)
	require.Error(t, err)
	require.True(t, r.Corrupted())

	require.NoError(t, r.Load(alternating(t, 50_000)))
	assert.False(t, r.Corrupted())
}

func TestRegistryConcurrentReaders(t *testing.T) {
	r, _ := newRegistry(t)
	require.NoError(t, r.Load(alternating(t, 1)))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				s := r.Active()
				// Every observed sheet is internally consistent.
				assert.NoError(t, s.Verify())
			}
		}()
	}

	for birth := clock.Micros(2); birth < 200; birth++ {
		name := BuiltinNames()[int(birth)%len(BuiltinNames())]
		s, err := Builtin(name, birth)
		require.NoError(t, err)
		require.NoError(t, r.Load(s))
	}
	close(stop)
	wg.Wait()
}

func TestRegistryClear(t *testing.T) {
	r, _ := newRegistry(t)
	require.NoError(t, r.Load(alternating(t, 1)))
	r.Clear()
	assert.Nil(t, r.Active())
	_, ok := r.Header()
	assert.False(t, ok)
}

func TestRegistryStrictVersioning(t *testing.T) {
	assert.Equal(t, DefaultUncertainty, NewRegistry(RegistryConfig{}).Uncertainty())
	assert.Equal(t, clock.Micros(2000), NewRegistry(RegistryConfig{Uncertainty: 2000}).Uncertainty())

	r := NewRegistry(RegistryConfig{Uncertainty: 2000, StrictVersioning: true})
	assert.Zero(t, r.Uncertainty())

	require.NoError(t, r.Load(alternating(t, 1_000_000)))

	// One microsecond newer wins even against the Primary.
	out, err := r.OfferHeader(Header{BirthTime: 1_000_001}, true)
	require.NoError(t, err)
	assert.Equal(t, AdoptRemote, out.Verdict)
	assert.Equal(t, ActionRequest, out.Action)

	newer, err := Builtin("breathe", 1_000_001)
	require.NoError(t, err)
	out, err = r.OfferSheet(newer, true)
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, "breathe", r.Active().Name)

	out, err = r.OfferSheet(alternating(t, 1_000_000), false)
	require.NoError(t, err)
	assert.Equal(t, KeepLocal, out.Verdict)
}

func TestRegistryOnChangeMayCallBack(t *testing.T) {
	r, _ := newRegistry(t)

	var names []string
	r.OnChange(func(s *Sheet) {
		names = append(names, s.Name)
		if s.Name == "alternating" {
			next, err := Builtin("breathe", s.BirthTime+1)
			if assert.NoError(t, err) {
				assert.NoError(t, r.Load(next))
			}
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, r.Load(alternating(t, 10)))
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Load blocked in its change callback")
	}

	assert.Equal(t, []string{"alternating", "breathe"}, names)
	assert.Equal(t, "breathe", r.Active().Name)
}
