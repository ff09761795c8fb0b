package transport

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/duosync/duosync-go/pkg/clock"
)

// LoopbackConfig shapes an in-memory link.
type LoopbackConfig struct {
	// Latency is the fixed one-way delay.
	Latency time.Duration

	// Jitter adds a uniform extra delay in [0, Jitter).
	Jitter time.Duration

	// Loss is the probability in [0,1] that a payload is dropped.
	Loss float64

	// QueueSize bounds in-flight payloads per direction.
	QueueSize int

	// Timers schedules delayed delivery. Defaults to the real clock.
	Timers clockwork.Clock

	// Seed makes jitter and loss reproducible.
	Seed int64
}

// LoopbackStats counts traffic in one direction.
type LoopbackStats struct {
	Sent      uint64
	Delivered uint64
	Dropped   uint64
}

type loopbackShared struct {
	closeOnce sync.Once
	done      chan struct{}
}

type packet struct {
	payload []byte
	due     time.Time
}

// Loopback is one end of an in-memory link pair.
type Loopback struct {
	cfg    LoopbackConfig
	shared *loopbackShared
	peer   *Loopback
	clk    clock.Source // stamps receipt on this end

	mu      sync.RWMutex
	handler Handler

	rngMu sync.Mutex
	rng   *rand.Rand

	down  atomic.Bool
	queue chan packet

	sent      atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewLoopbackPair returns two connected ends. Payloads received by a are
// stamped with clockA, those received by b with clockB.
func NewLoopbackPair(cfg LoopbackConfig, clockA, clockB clock.Source) (a, b *Loopback) {
	if cfg.Timers == nil {
		cfg.Timers = clockwork.NewRealClock()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	shared := &loopbackShared{done: make(chan struct{})}

	a = newLoopbackEnd(cfg, shared, clockA, cfg.Seed)
	b = newLoopbackEnd(cfg, shared, clockB, cfg.Seed+1)
	a.peer, b.peer = b, a

	go a.deliverLoop()
	go b.deliverLoop()
	return a, b
}

func newLoopbackEnd(cfg LoopbackConfig, shared *loopbackShared, clk clock.Source, seed int64) *Loopback {
	return &Loopback{
		cfg:    cfg,
		shared: shared,
		clk:    clk,
		rng:    rand.New(rand.NewSource(seed)),
		queue:  make(chan packet, cfg.QueueSize),
	}
}

// SetHandler installs the receive handler for this end.
func (l *Loopback) SetHandler(h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = h
}

// Send queues payload for delivery to the peer end.
func (l *Loopback) Send(payload []byte) error {
	select {
	case <-l.shared.done:
		return ErrClosed
	default:
	}
	l.sent.Add(1)

	if l.down.Load() || l.lose() {
		l.dropped.Add(1)
		return nil
	}

	p := packet{
		payload: append([]byte(nil), payload...),
		due:     l.cfg.Timers.Now().Add(l.delay()),
	}
	select {
	case l.peer.queue <- p:
	default:
		// Queue full: the medium drops it.
		l.dropped.Add(1)
	}
	return nil
}

// SetDown partitions the link. While down every payload sent from this
// end is dropped.
func (l *Loopback) SetDown(down bool) {
	l.down.Store(down)
}

// Partition takes both directions down or up.
func (l *Loopback) Partition(down bool) {
	l.SetDown(down)
	l.peer.SetDown(down)
}

// Stats returns the counters for payloads sent from this end.
func (l *Loopback) Stats() LoopbackStats {
	return LoopbackStats{
		Sent:      l.sent.Load(),
		Delivered: l.peer.delivered.Load(),
		Dropped:   l.dropped.Load(),
	}
}

// Done is closed when either end is closed.
func (l *Loopback) Done() <-chan struct{} {
	return l.shared.done
}

// Close closes both ends.
func (l *Loopback) Close() error {
	l.shared.closeOnce.Do(func() { close(l.shared.done) })
	return nil
}

func (l *Loopback) lose() bool {
	if l.cfg.Loss <= 0 {
		return false
	}
	l.rngMu.Lock()
	defer l.rngMu.Unlock()
	return l.rng.Float64() < l.cfg.Loss
}

func (l *Loopback) delay() time.Duration {
	d := l.cfg.Latency
	if l.cfg.Jitter > 0 {
		l.rngMu.Lock()
		d += time.Duration(l.rng.Int63n(int64(l.cfg.Jitter)))
		l.rngMu.Unlock()
	}
	return d
}

// deliverLoop hands queued payloads to this end's handler in order.
func (l *Loopback) deliverLoop() {
	for {
		select {
		case <-l.shared.done:
			return
		case p := <-l.queue:
			if wait := p.due.Sub(l.cfg.Timers.Now()); wait > 0 {
				select {
				case <-l.shared.done:
					return
				case <-l.cfg.Timers.After(wait):
				}
			}
			rx := l.clk.Now()

			l.mu.RLock()
			h := l.handler
			l.mu.RUnlock()
			if h != nil {
				h(p.payload, rx)
				l.delivered.Add(1)
			}
		}
	}
}
