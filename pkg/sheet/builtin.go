package sheet

import (
	"fmt"
	"sort"

	"github.com/duosync/duosync-go/pkg/clock"
)

// Palette indices used by the built-in patterns.
const (
	ColorRed   uint8 = 0
	ColorGreen uint8 = 1
	ColorBlue  uint8 = 2
	ColorCyan  uint8 = 4
	ColorWhite uint8 = 10
)

type builtinDef struct {
	class   Class
	period  int64 // ms
	entries []builtinEntry
}

// builtinEntry is one two-zone row: offset and transition in ms, then
// left and right outputs.
type builtinEntry struct {
	at, transition int64
	easing         Easing
	left, right    Output
}

func on(color, brightness, motor uint8) Output {
	return Output{Motor: motor, Brightness: brightness, Color: color}
}

func off(color uint8) Output {
	return Output{Color: color}
}

var builtins = map[string]builtinDef{
	// Green left/right alternation with motor, one second per side. Each
	// hand-off fades the old side out before the new side fades in.
	"alternating": {
		class:  ClassBilateral,
		period: 2000,
		entries: []builtinEntry{
			{0, 50, EaseLinear, off(ColorGreen), off(ColorGreen)},
			{50, 50, EaseLinear, on(ColorGreen, 100, 60), off(ColorGreen)},
			{1000, 50, EaseLinear, off(ColorGreen), off(ColorGreen)},
			{1050, 50, EaseLinear, off(ColorGreen), on(ColorGreen, 100, 60)},
		},
	},
	// Red/blue wig-wag: two slow flashes then four fast ones.
	"emergency": {
		class:   ClassLightbar,
		period:  4000,
		entries: emergencyEntries(),
	},
	// Cyan pulse on both sides.
	"breathe": {
		class:  ClassAmbient,
		period: 4000,
		entries: []builtinEntry{
			{0, 1000, EaseIn, on(ColorCyan, 100, 30), on(ColorCyan, 100, 30)},
			{2000, 1000, EaseOut, on(ColorCyan, 10, 0), on(ColorCyan, 10, 0)},
		},
	},
	// Quad flashes: red left, blue right, then white on both.
	"emergency-quad": {
		class:   ClassLightbar,
		period:  2000,
		entries: emergencyQuadEntries(),
	},
}

func emergencyEntries() []builtinEntry {
	var e []builtinEntry
	// Slow phase, 500 ms per side.
	for at := int64(0); at < 2000; at += 1000 {
		e = append(e,
			builtinEntry{at, 0, EaseStep, on(ColorRed, 100, 0), off(ColorBlue)},
			builtinEntry{at + 500, 0, EaseStep, off(ColorRed), on(ColorBlue, 100, 0)})
	}
	// Fast phase, 250 ms per side.
	for at := int64(2000); at < 4000; at += 500 {
		e = append(e,
			builtinEntry{at, 0, EaseStep, on(ColorRed, 100, 0), off(ColorBlue)},
			builtinEntry{at + 250, 0, EaseStep, off(ColorRed), on(ColorBlue, 100, 0)})
	}
	return e
}

func emergencyQuadEntries() []builtinEntry {
	var e []builtinEntry
	for at := int64(0); at < 400; at += 100 {
		e = append(e,
			builtinEntry{at, 0, EaseStep, on(ColorRed, 100, 0), off(ColorBlue)},
			builtinEntry{at + 50, 0, EaseStep, off(ColorRed), off(ColorBlue)})
	}
	e = append(e, builtinEntry{500, 0, EaseStep, off(ColorRed), off(ColorBlue)})
	for at := int64(550); at < 950; at += 100 {
		e = append(e,
			builtinEntry{at, 0, EaseStep, off(ColorRed), on(ColorBlue, 100, 0)},
			builtinEntry{at + 50, 0, EaseStep, off(ColorRed), off(ColorBlue)})
	}
	e = append(e, builtinEntry{1050, 0, EaseStep, off(ColorRed), off(ColorBlue)})
	for at := int64(1100); at < 1500; at += 200 {
		e = append(e,
			builtinEntry{at, 0, EaseStep, on(ColorWhite, 100, 0), on(ColorWhite, 100, 0)},
			builtinEntry{at + 100, 0, EaseStep, off(ColorWhite), off(ColorWhite)})
	}
	return e
}

// BuiltinNames returns the names of the built-in patterns, sorted.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Builtin returns a sealed two-zone sheet for the named pattern, born at
// birth.
func Builtin(name string, birth clock.Micros) (*Sheet, error) {
	def, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("unknown pattern %q", name)
	}

	s := &Sheet{
		Name:      name,
		BirthTime: birth,
		LoopPoint: clock.Millis(def.period),
		Class:     def.class,
		Looping:   true,
		ZoneCount: 2,
		Segments:  make([]Segment, 0, len(def.entries)),
	}
	for _, e := range def.entries {
		s.Segments = append(s.Segments, Segment{
			TimeOffset: clock.Millis(e.at),
			Transition: clock.Millis(e.transition),
			Easing:     e.easing,
			Outputs:    []Output{e.left, e.right},
		})
	}
	if err := Validate(s); err != nil {
		return nil, fmt.Errorf("builtin %s: %w", name, err)
	}
	if err := s.Seal(); err != nil {
		return nil, err
	}
	return s, nil
}
