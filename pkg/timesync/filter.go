package timesync

import (
	"math"
	"time"

	"github.com/duosync/duosync-go/pkg/clock"
)

// FilterConfig configures the offset filter.
type FilterConfig struct {
	// FastAlpha is the smoothing coefficient for the first FastSamples
	// accepted samples after (re)connection.
	FastAlpha   float64
	FastSamples int

	// SlowAlpha is used once the fast regime is over.
	SlowAlpha float64

	// FastCeiling and SlowCeiling bound the deviation of a sample from the
	// filtered offset and the excess of its delay over the filtered delay.
	FastCeiling time.Duration
	SlowCeiling time.Duration

	// QualityAlpha smooths the per-sample score; InitialQuality seeds it.
	QualityAlpha   float64
	InitialQuality uint8

	// RingSize is the number of raw samples kept for diagnostics.
	RingSize int

	// ReseedAfter is the number of consecutive rejections after which the
	// next rejected sample reseeds the filter. It recovers from a genuine
	// step in the offset, such as a peer restart.
	ReseedAfter int
}

// DefaultFilterConfig returns the standard filter parameters.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		FastAlpha:      0.30,
		FastSamples:    12,
		SlowAlpha:      0.10,
		FastCeiling:    50 * time.Millisecond,
		SlowCeiling:    100 * time.Millisecond,
		QualityAlpha:   0.25,
		InitialQuality: 50,
		RingSize:       8,
		ReseedAfter:    8,
	}
}

func (c FilterConfig) withDefaults() FilterConfig {
	d := DefaultFilterConfig()
	if c.FastAlpha <= 0 || c.FastAlpha > 1 {
		c.FastAlpha = d.FastAlpha
	}
	if c.SlowAlpha <= 0 || c.SlowAlpha > 1 {
		c.SlowAlpha = d.SlowAlpha
	}
	if c.FastSamples <= 0 {
		c.FastSamples = d.FastSamples
	}
	if c.FastCeiling <= 0 {
		c.FastCeiling = d.FastCeiling
	}
	if c.SlowCeiling <= 0 {
		c.SlowCeiling = d.SlowCeiling
	}
	if c.QualityAlpha <= 0 || c.QualityAlpha > 1 {
		c.QualityAlpha = d.QualityAlpha
	}
	if c.InitialQuality == 0 {
		c.InitialQuality = d.InitialQuality
	}
	if c.RingSize <= 0 {
		c.RingSize = d.RingSize
	}
	if c.ReseedAfter <= 0 {
		c.ReseedAfter = d.ReseedAfter
	}
	return c
}

// Result describes what the filter did with a sample.
type Result struct {
	Accepted bool

	// Score is the per-sample quality score (0 for rejected samples).
	Score uint8

	// PredictionError is |raw - previous filtered|.
	PredictionError clock.Micros

	Filtered clock.Micros
	Quality  uint8

	// Reseeded is set when the sample restarted the filter after a run of
	// rejections.
	Reseeded bool
}

// Filter smooths raw offsets and scores prediction accuracy.
// It is not safe for concurrent use; the Engine serializes access.
type Filter struct {
	cfg FilterConfig

	seeded   bool
	offset   float64 // µs
	delay    float64 // µs
	drift    float64 // µs per second
	lastAt   clock.Micros
	quality  float64
	accepted int
	rejected int
	run      int // consecutive rejections

	ring []Sample
	head int
}

// NewFilter creates a filter. Zero config fields take defaults.
func NewFilter(cfg FilterConfig) *Filter {
	cfg = cfg.withDefaults()
	return &Filter{
		cfg:     cfg,
		quality: float64(cfg.InitialQuality),
		ring:    make([]Sample, 0, cfg.RingSize),
	}
}

// ScoreFor maps a prediction error to a per-sample score.
func ScoreFor(predErr clock.Micros) uint8 {
	switch e := predErr.Abs(); {
	case e < clock.Millis(1):
		return 95
	case e < clock.Millis(5):
		return 85
	case e < clock.Millis(15):
		return 70
	case e < clock.Millis(30):
		return 50
	default:
		return 0
	}
}

// Fast reports whether the filter is in the fast regime.
func (f *Filter) Fast() bool {
	return f.accepted < f.cfg.FastSamples
}

// Ceiling returns the outlier ceiling for the current regime.
func (f *Filter) Ceiling() clock.Micros {
	if f.Fast() {
		return clock.FromDuration(f.cfg.FastCeiling)
	}
	return clock.FromDuration(f.cfg.SlowCeiling)
}

func (f *Filter) alpha() float64 {
	if f.Fast() {
		return f.cfg.FastAlpha
	}
	return f.cfg.SlowAlpha
}

// Add integrates s. Outliers return ErrJitterOutlier and leave the filtered
// offset untouched.
func (f *Filter) Add(s Sample) (Result, error) {
	f.push(s)

	if !f.seeded {
		f.seed(s)
		return Result{Accepted: true, Filtered: f.Offset(), Quality: f.Quality()}, nil
	}

	predErr := (s.Offset - f.Offset()).Abs()
	ceiling := f.Ceiling()
	delayExcess := s.Delay - clock.Micros(math.Round(f.delay))

	if predErr > ceiling || delayExcess > ceiling {
		f.rejected++
		f.run++
		f.score(0)
		if f.run > f.cfg.ReseedAfter {
			f.seed(s)
			f.accepted = 1
			return Result{Accepted: true, Reseeded: true, PredictionError: predErr, Filtered: f.Offset(), Quality: f.Quality()}, nil
		}
		return Result{
			PredictionError: predErr,
			Filtered:        f.Offset(),
			Quality:         f.Quality(),
		}, ErrJitterOutlier
	}

	a := f.alpha()
	prev := f.offset
	f.offset += a * (float64(s.Offset) - f.offset)
	f.delay += a * (float64(s.Delay) - f.delay)

	if dt := (s.At - f.lastAt).Duration().Seconds(); dt > 0 {
		f.drift += a * ((f.offset-prev)/dt - f.drift)
	}
	f.lastAt = s.At
	f.accepted++
	f.run = 0

	score := ScoreFor(predErr)
	f.score(score)

	return Result{
		Accepted:        true,
		Score:           score,
		PredictionError: predErr,
		Filtered:        f.Offset(),
		Quality:         f.Quality(),
	}, nil
}

func (f *Filter) seed(s Sample) {
	f.seeded = true
	f.offset = float64(s.Offset)
	f.delay = float64(s.Delay)
	f.drift = 0
	f.lastAt = s.At
	f.run = 0
	f.accepted++
}

func (f *Filter) score(s uint8) {
	f.quality += f.cfg.QualityAlpha * (float64(s) - f.quality)
}

func (f *Filter) push(s Sample) {
	if len(f.ring) < f.cfg.RingSize {
		f.ring = append(f.ring, s)
		return
	}
	f.ring[f.head] = s
	f.head = (f.head + 1) % f.cfg.RingSize
}

// Seeded reports whether at least one sample has been accepted.
func (f *Filter) Seeded() bool { return f.seeded }

// Offset returns the filtered offset.
func (f *Filter) Offset() clock.Micros { return clock.Micros(math.Round(f.offset)) }

// Delay returns the filtered one-way delay.
func (f *Filter) Delay() clock.Micros { return clock.Micros(math.Round(f.delay)) }

// Drift returns the drift estimate in µs/s. It is diagnostic only.
func (f *Filter) Drift() float64 { return f.drift }

// Quality returns the smoothed quality score.
func (f *Filter) Quality() uint8 { return uint8(math.Round(f.quality)) }

// Accepted returns the number of integrated samples.
func (f *Filter) Accepted() int { return f.accepted }

// Rejected returns the number of discarded samples.
func (f *Filter) Rejected() int { return f.rejected }

// Recent returns the raw samples in arrival order, oldest first.
func (f *Filter) Recent() []Sample {
	out := make([]Sample, 0, len(f.ring))
	if len(f.ring) < f.cfg.RingSize {
		return append(out, f.ring...)
	}
	out = append(out, f.ring[f.head:]...)
	return append(out, f.ring[:f.head]...)
}

// Reset returns the filter to the fast regime. Offset reports holdover
// until the next sample seeds the filter.
func (f *Filter) Reset(holdover clock.Micros) {
	*f = *NewFilter(f.cfg)
	f.offset = float64(holdover)
}
