package playback

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duosync/duosync-go/pkg/clock"
	"github.com/duosync/duosync-go/pkg/sheet"
	"github.com/duosync/duosync-go/pkg/zone"
)

var (
	on  = sheet.Output{Motor: 80, Brightness: 100, Color: 1}
	off = sheet.Output{Color: 1}
)

func build(t *testing.T, s *sheet.Sheet) *sheet.Sheet {
	t.Helper()
	require.NoError(t, sheet.Validate(s))
	require.NoError(t, s.Seal())
	return s
}

// bilateral alternates hard between the zones every half period.
func bilateral(t *testing.T) *sheet.Sheet {
	return build(t, &sheet.Sheet{
		BirthTime: 1000,
		LoopPoint: 1000,
		Looping:   true,
		ZoneCount: 2,
		Segments: []sheet.Segment{
			{TimeOffset: 0, Easing: sheet.EaseStep, Outputs: []sheet.Output{on, off}},
			{TimeOffset: 500, Easing: sheet.EaseStep, Outputs: []sheet.Output{off, on}},
		},
	})
}

func TestBilateralScenario(t *testing.T) {
	s := bilateral(t)
	require.Equal(t, clock.Micros(2000), s.Epoch())

	pos := Locate(s, 2500)
	assert.True(t, pos.Started)
	assert.Equal(t, clock.Micros(500), pos.Offset)
	assert.Equal(t, 1, pos.Segment)

	assert.False(t, Evaluate(s, 2500, zone.Left).Active())
	assert.True(t, Evaluate(s, 2500, zone.Right).Active())

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		now := clock.Micros(rng.Int63n(1_000_000))
		l := Evaluate(s, now, zone.Left)
		r := Evaluate(s, now, zone.Right)
		assert.False(t, l.Active() && r.Active(), "both zones active at %v", now)
	}
}

func TestBeforeEpochIsNeutral(t *testing.T) {
	s := bilateral(t)
	for _, now := range []clock.Micros{0, 1000, 1999} {
		pos := Locate(s, now)
		assert.False(t, pos.Started)
		assert.Equal(t, sheet.Neutral, Evaluate(s, now, zone.Left))
	}
	assert.Equal(t, on, Evaluate(s, 2000, zone.Left))
}

func TestLoopCount(t *testing.T) {
	s := bilateral(t)
	assert.Equal(t, int64(0), Locate(s, 2999).Loop)
	assert.Equal(t, int64(1), Locate(s, 3000).Loop)
	assert.Equal(t, int64(7), Locate(s, 9123).Loop)
	assert.Equal(t, clock.Micros(123), Locate(s, 9123).Offset)
}

func TestTransitions(t *testing.T) {
	mk := func(e sheet.Easing) *sheet.Sheet {
		return build(t, &sheet.Sheet{
			LoopPoint: 2000,
			Looping:   true,
			ZoneCount: 1,
			Segments: []sheet.Segment{
				{TimeOffset: 0, Outputs: []sheet.Output{{Motor: 0, Brightness: 0, Color: 2}}},
				{TimeOffset: 1000, Transition: 400, Easing: e, Outputs: []sheet.Output{{Motor: 100, Brightness: 100, Color: 9}}},
			},
		})
	}

	tests := []struct {
		easing sheet.Easing
		at     clock.Micros // offset within the period
		want   uint8
	}{
		{sheet.EaseLinear, 1000, 0},
		{sheet.EaseLinear, 1100, 25},
		{sheet.EaseLinear, 1200, 50},
		{sheet.EaseLinear, 1400, 100},
		{sheet.EaseIn, 1200, 25},
		{sheet.EaseOut, 1200, 75},
		{sheet.EaseInOut, 1100, 16},
		{sheet.EaseInOut, 1200, 50},
		{sheet.EaseStep, 1000, 100},
		{sheet.EaseStep, 1001, 100},
	}

	for _, tt := range tests {
		s := mk(tt.easing)
		now := s.Epoch() + tt.at
		got := Evaluate(s, now, zone.Left)
		assert.Equal(t, tt.want, got.Motor, "%s at %v", tt.easing, tt.at)
		assert.Equal(t, tt.want, got.Brightness, "%s at %v", tt.easing, tt.at)
		assert.Equal(t, uint8(9), got.Color, "color switches at transition start")
	}
}

func TestLoopingWrapUsesLastSegment(t *testing.T) {
	s := build(t, &sheet.Sheet{
		LoopPoint: 1000,
		Looping:   true,
		ZoneCount: 1,
		Segments: []sheet.Segment{
			{TimeOffset: 200, Transition: 100, Easing: sheet.EaseLinear, Outputs: []sheet.Output{{Motor: 100}}},
			{TimeOffset: 600, Transition: 100, Easing: sheet.EaseLinear, Outputs: []sheet.Output{{Motor: 20}}},
		},
	})
	epoch := s.Epoch()

	pos := Locate(s, epoch+50)
	assert.Equal(t, 1, pos.Segment)
	assert.Equal(t, uint8(20), Evaluate(s, epoch+50, zone.Left).Motor)

	// The first segment fades in from the last one.
	assert.Equal(t, uint8(60), Evaluate(s, epoch+250, zone.Left).Motor)
}

func TestNonLooping(t *testing.T) {
	s := build(t, &sheet.Sheet{
		LoopPoint: 1000,
		Looping:   false,
		ZoneCount: 1,
		Segments: []sheet.Segment{
			{TimeOffset: 100, Transition: 100, Easing: sheet.EaseLinear, Outputs: []sheet.Output{{Motor: 100}}},
		},
	})
	epoch := s.Epoch()

	assert.Equal(t, sheet.Neutral, Evaluate(s, epoch+50, zone.Left), "before the first segment")
	assert.Equal(t, uint8(50), Evaluate(s, epoch+150, zone.Left).Motor, "fades from neutral")
	assert.Equal(t, uint8(100), Evaluate(s, epoch+999, zone.Left).Motor)

	pos := Locate(s, epoch+1000)
	assert.True(t, pos.Finished)
	assert.Equal(t, sheet.Neutral, Evaluate(s, epoch+1000, zone.Left))
	assert.Equal(t, sheet.Neutral, Evaluate(s, epoch+50_000, zone.Left))
}

func TestUndefinedZoneIsNeutral(t *testing.T) {
	s := build(t, &sheet.Sheet{
		LoopPoint: 1000,
		Looping:   true,
		ZoneCount: 1,
		Segments:  []sheet.Segment{{Outputs: []sheet.Output{on}}},
	})
	assert.Equal(t, on, Evaluate(s, s.Epoch(), zone.Left))
	assert.Equal(t, sheet.Neutral, Evaluate(s, s.Epoch(), zone.Right))
	assert.Equal(t, sheet.Neutral, Evaluate(nil, 0, zone.Left))
}

func TestAlternatingNeverOverlaps(t *testing.T) {
	s, err := sheet.Builtin("alternating", 0)
	require.NoError(t, err)

	for now := s.Epoch(); now < s.Epoch()+s.LoopPoint; now += clock.Millis(1) {
		l := Evaluate(s, now, zone.Left)
		r := Evaluate(s, now, zone.Right)
		assert.False(t, l.Active() && r.Active(), "both zones active at %v: %+v %+v", now-s.Epoch(), l, r)
	}

	// Each side still gets its full output.
	assert.Equal(t, uint8(60), Evaluate(s, s.Epoch()+clock.Millis(500), zone.Left).Motor)
	assert.Equal(t, uint8(60), Evaluate(s, s.Epoch()+clock.Millis(1500), zone.Right).Motor)
}
