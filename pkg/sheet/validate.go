package sheet

import (
	"errors"
	"fmt"

	"github.com/duosync/duosync-go/pkg/zone"
)

// Validation and versioning errors.
var (
	ErrInvalidSheet = errors.New("invalid sheet")

	// ErrLoopBoundary is returned when a segment's transition would run
	// past the loop point.
	ErrLoopBoundary = errors.New("segment straddles loop boundary")

	ErrChecksum = errors.New("sheet checksum mismatch")

	// ErrSheetCorruption is raised when two sheets share a birth time but
	// differ in content.
	ErrSheetCorruption = errors.New("sheet corruption")

	ErrStale = errors.New("sheet is not newer than the active sheet")

	// ErrZoneOverlap is returned for a bilateral sheet on which two zones
	// can be active at the same instant.
	ErrZoneOverlap = errors.New("zones active at the same time")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSheet, fmt.Sprintf(format, args...))
}

// Validate checks the structural invariants of s. A sheet that passes can
// never leave an effect active across the loop boundary, and a bilateral
// sheet that passes never drives two zones at once.
func Validate(s *Sheet) error {
	if s == nil {
		return invalid("nil sheet")
	}
	if s.LoopPoint <= 0 {
		return invalid("loop point must be positive, got %v", s.LoopPoint)
	}
	if n := len(s.Segments); n == 0 || n > MaxSegments {
		return invalid("segment count %d outside 1..%d", n, MaxSegments)
	}
	if s.ZoneCount == 0 || s.ZoneCount > zone.MaxZones {
		return invalid("zone count %d outside 1..%d", s.ZoneCount, zone.MaxZones)
	}

	for i, seg := range s.Segments {
		if seg.TimeOffset < 0 || seg.TimeOffset >= s.LoopPoint {
			return invalid("segment %d offset %v outside [0, %v)", i, seg.TimeOffset, s.LoopPoint)
		}
		if i > 0 && seg.TimeOffset <= s.Segments[i-1].TimeOffset {
			return invalid("segment %d offset %v not after %v", i, seg.TimeOffset, s.Segments[i-1].TimeOffset)
		}
		if seg.Transition < 0 {
			return invalid("segment %d has negative transition", i)
		}
		if seg.TimeOffset+seg.Transition > s.LoopPoint {
			return fmt.Errorf("%w: segment %d ends at %v, loop point %v",
				ErrLoopBoundary, i, seg.TimeOffset+seg.Transition, s.LoopPoint)
		}
		if !seg.Easing.Valid() {
			return invalid("segment %d has unknown easing %d", i, seg.Easing)
		}
		if len(seg.Outputs) != int(s.ZoneCount) {
			return invalid("segment %d has %d outputs, want %d", i, len(seg.Outputs), s.ZoneCount)
		}
		for z, o := range seg.Outputs {
			if o.Motor > MaxMotor || o.Brightness > MaxBrightness || o.Color > MaxColor {
				return invalid("segment %d zone %d output out of range: %+v", i, z, o)
			}
		}
	}
	if s.Class == ClassBilateral {
		return checkExclusive(s)
	}
	return nil
}

// checkExclusive rejects sheets on which more than one zone can be active
// at once. A zone counts as active for a whole transition when either end
// of it is active, so the check does not depend on easing curves or
// rounding.
func checkExclusive(s *Sheet) error {
	for i, seg := range s.Segments {
		end := s.LoopPoint
		if i+1 < len(s.Segments) {
			end = s.Segments[i+1].TimeOffset
		}
		fadeEnd := seg.TimeOffset
		if seg.Easing != EaseStep {
			fadeEnd = min(seg.TimeOffset+seg.Transition, end)
		}

		var fading, holding int
		for z, o := range seg.Outputs {
			if o.Active() {
				holding++
				fading++
			} else if s.previousOutput(i, z).Active() {
				fading++
			}
		}
		if fadeEnd > seg.TimeOffset && fading > 1 {
			return fmt.Errorf("%w: %d zones during transition at %v", ErrZoneOverlap, fading, seg.TimeOffset)
		}
		if end > fadeEnd && holding > 1 {
			return fmt.Errorf("%w: %d zones from %v", ErrZoneOverlap, holding, fadeEnd)
		}
	}
	return nil
}

// previousOutput returns zone z's output before segment i starts.
func (s *Sheet) previousOutput(i, z int) Output {
	switch {
	case i > 0:
		return s.Segments[i-1].Outputs[z]
	case s.Looping:
		return s.Segments[len(s.Segments)-1].Outputs[z]
	default:
		return Neutral
	}
}
