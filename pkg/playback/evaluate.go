package playback

import (
	"math"

	"github.com/duosync/duosync-go/pkg/clock"
	"github.com/duosync/duosync-go/pkg/sheet"
	"github.com/duosync/duosync-go/pkg/zone"
)

// Position is where a synchronized time falls on a sheet's timeline.
type Position struct {
	// Started is false before the sheet's epoch.
	Started bool

	// Finished is true once a non-looping sheet has run past its loop
	// point.
	Finished bool

	// Loop counts completed periods since the epoch.
	Loop int64

	// Offset is the position within the current period.
	Offset clock.Micros

	// Segment is the index of the bracketing segment, or -1 when the
	// output is neutral.
	Segment int
}

// Locate maps syncTime onto s.
func Locate(s *sheet.Sheet, syncTime clock.Micros) Position {
	pos := Position{Segment: -1}
	if s == nil || s.LoopPoint <= 0 || len(s.Segments) == 0 {
		return pos
	}

	elapsed := syncTime - s.Epoch()
	if elapsed < 0 {
		return pos
	}
	pos.Started = true
	pos.Loop = int64(elapsed / s.LoopPoint)
	pos.Offset = elapsed % s.LoopPoint

	if !s.Looping && pos.Loop > 0 {
		pos.Finished = true
		pos.Offset = s.LoopPoint
		return pos
	}

	pos.Segment = bracket(s.Segments, pos.Offset)
	if pos.Segment < 0 && s.Looping {
		// Before the first segment the previous period's last segment
		// still holds.
		pos.Segment = len(s.Segments) - 1
	}
	return pos
}

// bracket returns the last segment starting at or before offset, or -1.
func bracket(segs []sheet.Segment, offset clock.Micros) int {
	idx := -1
	for i, seg := range segs {
		if seg.TimeOffset > offset {
			break
		}
		idx = i
	}
	return idx
}

// Evaluate returns zone z's output on s at syncTime. It is neutral before
// the epoch, after a non-looping sheet ends, and for zones the sheet does
// not define.
func Evaluate(s *sheet.Sheet, syncTime clock.Micros, z zone.Zone) sheet.Output {
	return At(s, Locate(s, syncTime), z)
}

// At returns zone z's output at a located position.
func At(s *sheet.Sheet, pos Position, z zone.Zone) sheet.Output {
	if pos.Segment < 0 || int(z) >= int(s.ZoneCount) {
		return sheet.Neutral
	}

	cur := s.Segments[pos.Segment]
	target := cur.Outputs[z]

	since := pos.Offset - cur.TimeOffset
	if since < 0 {
		// Wrapped to the last segment of the previous period.
		since += s.LoopPoint
	}
	if cur.Transition <= 0 || since >= cur.Transition {
		return target
	}

	from := previous(s, pos.Segment, z)
	w := cur.Easing.Apply(float64(since) / float64(cur.Transition))
	return sheet.Output{
		Motor:      lerp(from.Motor, target.Motor, w),
		Brightness: lerp(from.Brightness, target.Brightness, w),
		// Color switches at the start of the transition.
		Color: target.Color,
	}
}

func previous(s *sheet.Sheet, i int, z zone.Zone) sheet.Output {
	switch {
	case i > 0:
		return s.Segments[i-1].Outputs[z]
	case s.Looping:
		return s.Segments[len(s.Segments)-1].Outputs[z]
	default:
		return sheet.Neutral
	}
}

func lerp(from, to uint8, w float64) uint8 {
	v := float64(from) + (float64(to)-float64(from))*w
	return uint8(math.Round(math.Max(0, math.Min(255, v))))
}
