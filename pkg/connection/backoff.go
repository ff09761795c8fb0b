package connection

import (
	"math/rand"
	"sync"
	"time"
)

// Backoff defaults.
const (
	InitialBackoff    = 1 * time.Second
	MaxBackoff        = 30 * time.Second
	BackoffMultiplier = 2.0
	JitterFactor      = 0.25
)

// BackoffConfig customizes backoff parameters. Zero fields take defaults.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64

	// Jitter is the maximum extra delay as a fraction of the base delay.
	// Negative disables jitter.
	Jitter float64

	// Seed fixes the jitter sequence. Zero seeds from the wall clock.
	Seed int64
}

// Backoff calculates exponential backoff delays with jitter.
type Backoff struct {
	mu sync.Mutex

	current    time.Duration
	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64
	attempts   int
	rng        *rand.Rand
}

// NewBackoff creates a backoff calculator.
func NewBackoff(cfg BackoffConfig) *Backoff {
	if cfg.Initial <= 0 {
		cfg.Initial = InitialBackoff
	}
	if cfg.Max <= 0 {
		cfg.Max = MaxBackoff
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = BackoffMultiplier
	}
	switch {
	case cfg.Jitter < 0:
		cfg.Jitter = 0
	case cfg.Jitter == 0:
		cfg.Jitter = JitterFactor
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	return &Backoff{
		current:    cfg.Initial,
		initial:    cfg.Initial,
		max:        cfg.Max,
		multiplier: cfg.Multiplier,
		jitter:     cfg.Jitter,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Next returns the next delay (with jitter) and advances the backoff.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.withJitter(b.current)

	b.attempts++
	next := time.Duration(float64(b.current) * b.multiplier)
	if next > b.max {
		next = b.max
	}
	b.current = next

	return delay
}

// Reset returns to the initial delay. Call it after a successful
// connection.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.initial
	b.attempts = 0
}

// Attempts returns the number of delays handed out since the last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Current returns the current base delay without jitter.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func (b *Backoff) withJitter(d time.Duration) time.Duration {
	if b.jitter <= 0 {
		return d
	}
	return d + time.Duration(float64(d)*b.jitter*b.rng.Float64())
}
