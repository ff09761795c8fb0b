package timesync

import "time"

// SchedulerConfig configures the adaptive beacon cadence.
type SchedulerConfig struct {
	Min time.Duration
	Max time.Duration

	// GrowQuality is the quality at or above which the interval doubles,
	// once at least MinSamples samples were accepted.
	GrowQuality uint8
	MinSamples  int

	// ShrinkQuality is the quality below which the interval resets to Min.
	ShrinkQuality uint8
}

// DefaultSchedulerConfig returns the standard cadence parameters.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Min:           time.Second,
		Max:           60 * time.Second,
		GrowQuality:   85,
		MinSamples:    3,
		ShrinkQuality: 70,
	}
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	d := DefaultSchedulerConfig()
	if c.Min <= 0 {
		c.Min = d.Min
	}
	if c.Max < c.Min {
		c.Max = max(d.Max, c.Min)
	}
	if c.GrowQuality == 0 {
		c.GrowQuality = d.GrowQuality
	}
	if c.MinSamples <= 0 {
		c.MinSamples = d.MinSamples
	}
	if c.ShrinkQuality == 0 {
		c.ShrinkQuality = d.ShrinkQuality
	}
	return c
}

// Scheduler adjusts the beacon interval from the quality score.
type Scheduler struct {
	cfg      SchedulerConfig
	interval time.Duration
}

// NewScheduler creates a scheduler starting at the minimum interval.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	cfg = cfg.withDefaults()
	return &Scheduler{cfg: cfg, interval: cfg.Min}
}

// Interval returns the current beacon interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Update applies the latest quality and returns the new interval.
func (s *Scheduler) Update(quality uint8, samples int) time.Duration {
	switch {
	case quality < s.cfg.ShrinkQuality:
		s.interval = s.cfg.Min
	case quality >= s.cfg.GrowQuality && samples >= s.cfg.MinSamples:
		s.interval = min(s.interval*2, s.cfg.Max)
	}
	return s.interval
}

// Reset returns to the minimum interval.
func (s *Scheduler) Reset() {
	s.interval = s.cfg.Min
}
