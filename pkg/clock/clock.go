package clock

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Micros is a reading of, or a span on, a local microsecond counter.
type Micros int64

// Duration converts m to a time.Duration.
func (m Micros) Duration() time.Duration {
	return time.Duration(m) * time.Microsecond
}

// Milliseconds returns m in whole milliseconds.
func (m Micros) Milliseconds() int64 {
	return int64(m) / 1000
}

// String formats m with a unit suffix.
func (m Micros) String() string {
	return fmt.Sprintf("%dus", int64(m))
}

// Abs returns the absolute value of m.
func (m Micros) Abs() Micros {
	if m < 0 {
		return -m
	}
	return m
}

// FromDuration converts d to Micros, truncating sub-microsecond precision.
func FromDuration(d time.Duration) Micros {
	return Micros(d / time.Microsecond)
}

// Millis builds a Micros value from milliseconds.
func Millis(ms int64) Micros {
	return Micros(ms * 1000)
}

// Source is a monotonic microsecond counter.
// Implementations must be safe for concurrent use.
type Source interface {
	Now() Micros
}

// Monotonic is a Source backed by a clockwork.Clock.
// Readings start at zero when the source is created.
type Monotonic struct {
	clk   clockwork.Clock
	start time.Time
}

// NewMonotonic creates a source reading clk. Pass clockwork.NewRealClock()
// in production and a fake clock in tests.
func NewMonotonic(clk clockwork.Clock) *Monotonic {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Monotonic{clk: clk, start: clk.Now()}
}

// Now returns the elapsed microseconds since the source was created.
func (m *Monotonic) Now() Micros {
	return FromDuration(m.clk.Since(m.start))
}

// Clock returns the underlying clockwork clock.
func (m *Monotonic) Clock() clockwork.Clock {
	return m.clk
}

// Extender widens readings of a wrapping 32-bit counter into Micros.
// Consecutive readings must be less than 2^31 ticks apart.
type Extender struct {
	mu          sync.Mutex
	last        int64
	initialized bool
}

// Extend returns the 64-bit value for raw.
func (e *Extender) Extend(raw uint32) Micros {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		e.last = int64(raw)
		e.initialized = true
		return Micros(e.last)
	}

	delta := int64(int32(raw - uint32(e.last&0xffffffff)))
	e.last += delta
	return Micros(e.last)
}

// Counter32 adapts a 32-bit hardware counter read function to a Source.
type Counter32 struct {
	read func() uint32
	ext  Extender
}

// NewCounter32 creates a source from a counter read function.
func NewCounter32(read func() uint32) *Counter32 {
	return &Counter32{read: read}
}

// Now reads and widens the counter.
func (c *Counter32) Now() Micros {
	return c.ext.Extend(c.read())
}

// Drifting wraps a Source with a constant rate error and base offset.
type Drifting struct {
	base   Source
	offset Micros
	ppm    float64
}

// NewDrifting creates a drifting view of base. A positive ppm runs fast.
func NewDrifting(base Source, offset Micros, ppm float64) *Drifting {
	return &Drifting{base: base, offset: offset, ppm: ppm}
}

// Now returns the drifted reading.
func (d *Drifting) Now() Micros {
	b := d.base.Now()
	return d.offset + b + Micros(float64(b)*d.ppm/1e6)
}

// Compile-time interface satisfaction checks.
var (
	_ Source = (*Monotonic)(nil)
	_ Source = (*Counter32)(nil)
	_ Source = (*Drifting)(nil)
)
