package timesync

import (
	"fmt"

	"github.com/duosync/duosync-go/pkg/clock"
)

// Stamp names one of the four exchange timestamps.
type Stamp uint8

const (
	T1 Stamp = 1 << iota // Primary send
	T2                   // Secondary receive
	T3                   // Secondary send
	T4                   // Primary receive
)

const allStamps = T1 | T2 | T3 | T4

// TimestampSet holds one exchange. It may be partially filled while the
// exchange is in flight.
type TimestampSet struct {
	Sequence uint32
	stamps   [4]clock.Micros
	filled   Stamp
}

// NewTimestampSet returns a complete set.
func NewTimestampSet(seq uint32, t1, t2, t3, t4 clock.Micros) TimestampSet {
	ts := TimestampSet{Sequence: seq}
	ts.Set(T1, t1)
	ts.Set(T2, t2)
	ts.Set(T3, t3)
	ts.Set(T4, t4)
	return ts
}

func stampIndex(s Stamp) int {
	switch s {
	case T1:
		return 0
	case T2:
		return 1
	case T3:
		return 2
	case T4:
		return 3
	default:
		panic(fmt.Sprintf("timesync: invalid stamp %d", s))
	}
}

// Set records timestamp s.
func (ts *TimestampSet) Set(s Stamp, t clock.Micros) {
	ts.stamps[stampIndex(s)] = t
	ts.filled |= s
}

// Get returns timestamp s and whether it has been recorded.
func (ts *TimestampSet) Get(s Stamp) (clock.Micros, bool) {
	return ts.stamps[stampIndex(s)], ts.filled&s != 0
}

// Has reports whether s has been recorded.
func (ts *TimestampSet) Has(s Stamp) bool {
	return ts.filled&s != 0
}

// Complete reports whether all four timestamps are recorded.
func (ts *TimestampSet) Complete() bool {
	return ts.filled == allStamps
}

// Sample is the instantaneous result of one exchange.
type Sample struct {
	Sequence uint32
	Offset   clock.Micros
	Delay    clock.Micros

	// At is the local time the sample was taken, used for drift.
	At clock.Micros
}

// Estimate computes offset and one-way delay from a complete set.
func Estimate(ts TimestampSet) (Sample, error) {
	if !ts.Complete() {
		return Sample{}, ErrIncomplete
	}
	t1, t2, t3, t4 := ts.stamps[0], ts.stamps[1], ts.stamps[2], ts.stamps[3]

	out := t2 - t1
	back := t4 - t3
	if t3 < t2 || t4 < t1 || out+back < 0 {
		return Sample{}, fmt.Errorf("%w: seq %d", ErrInvalidTimestamps, ts.Sequence)
	}

	return Sample{
		Sequence: ts.Sequence,
		Offset:   (out - back) / 2,
		Delay:    (out + back) / 2,
	}, nil
}

// Provisional returns the Secondary's one-way estimate (T2-T1) corrected by
// a previously known delay. It is for bounds checks and diagnostics only.
func Provisional(t1, t2, lastDelay clock.Micros) clock.Micros {
	return t2 - t1 - lastDelay
}
