package sheet

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"

	"github.com/duosync/duosync-go/pkg/clock"
	dlog "github.com/duosync/duosync-go/pkg/log"
)

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Uncertainty is the birth-time tiebreak window. Zero selects
	// DefaultUncertainty unless StrictVersioning is set.
	Uncertainty clock.Micros

	// StrictVersioning disables the tiebreak window: the later birth time
	// always wins, whichever peer holds the timing role.
	StrictVersioning bool

	Logger         *slog.Logger
	ProtocolLogger dlog.Logger

	// Clock stamps protocol events. Defaults to the real clock.
	Clock clockwork.Clock
}

// Action tells the caller what to send after an offer.
type Action uint8

const (
	ActionNone Action = iota
	// ActionRequest asks the peer for its full sheet.
	ActionRequest
	// ActionAck confirms adoption of a retransmitted sheet.
	ActionAck
)

// Outcome is the result of offering a header or sheet to the registry.
type Outcome struct {
	Verdict Verdict
	Action  Action
	Changed bool
}

// Registry holds the active sheet. The active pointer is swapped
// atomically; readers see either the whole old or the whole new sheet.
type Registry struct {
	cfg    RegistryConfig
	logger *slog.Logger
	plog   dlog.Logger

	active  atomic.Pointer[Sheet]
	blocked atomic.Bool

	mu           sync.Mutex // serializes writers
	blockedBirth clock.Micros
	onChange     []func(*Sheet)
	changed      *Sheet // swapped in under mu, announced by unlock
	connID       string
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	switch {
	case cfg.StrictVersioning:
		cfg.Uncertainty = 0
	case cfg.Uncertainty <= 0:
		cfg.Uncertainty = DefaultUncertainty
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{cfg: cfg, logger: logger, plog: dlog.OrNoop(cfg.ProtocolLogger)}
}

// Uncertainty returns the effective tiebreak window.
func (r *Registry) Uncertainty() clock.Micros {
	return r.cfg.Uncertainty
}

// OnChange registers fn to run after the active sheet changes. fn runs
// after the writer lock is released and may call back into the registry.
// A change that is superseded before its callbacks start is not announced.
func (r *Registry) OnChange(fn func(*Sheet)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = append(r.onChange, fn)
}

// SetConnectionID tags subsequent protocol events.
func (r *Registry) SetConnectionID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connID = id
}

// Active returns the active sheet or nil. The returned sheet must not be
// modified.
func (r *Registry) Active() *Sheet {
	return r.active.Load()
}

// Playable returns the active sheet unless its playback is blocked by
// corruption.
func (r *Registry) Playable() (*Sheet, bool) {
	s := r.active.Load()
	if s == nil || r.Corrupted() {
		return nil, false
	}
	return s, true
}

// Corrupted reports whether playback is blocked by a corruption.
func (r *Registry) Corrupted() bool {
	return r.blocked.Load()
}

// Header returns the active header.
func (r *Registry) Header() (Header, bool) {
	s := r.active.Load()
	if s == nil {
		return Header{}, false
	}
	return s.Header(), true
}

// Load installs a locally created sheet. The sheet is validated and sealed.
func (r *Registry) Load(s *Sheet) error {
	if err := Validate(s); err != nil {
		return err
	}
	s = s.Clone()
	if err := s.Seal(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.unlock()

	if cur := r.active.Load(); cur != nil && s.BirthTime <= cur.BirthTime {
		return fmt.Errorf("%w: birth %v, active %v", ErrStale, s.BirthTime, cur.BirthTime)
	}
	r.swapLocked(s, "local")
	return nil
}

// OfferHeader compares a peer header with the active sheet.
// It returns ErrSheetCorruption when the versions collide.
func (r *Registry) OfferHeader(h Header, localPrimary bool) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.active.Load()
	if cur == nil {
		r.record(dlog.SheetRequested, h, "no active sheet")
		return Outcome{Verdict: AdoptRemote, Action: ActionRequest}, nil
	}

	v := Resolve(cur.Header(), h, localPrimary, r.cfg.Uncertainty)
	switch v {
	case Identical:
		return Outcome{Verdict: v}, nil
	case Corrupt:
		r.blockLocked(cur, h)
		out := Outcome{Verdict: v}
		if !localPrimary {
			out.Action = ActionRequest
		}
		return out, fmt.Errorf("%w: birth %v checksums %08x/%08x", ErrSheetCorruption, h.BirthTime, cur.Checksum, h.Checksum)
	case AdoptRemote:
		r.record(dlog.SheetRequested, h, "peer sheet wins")
		return Outcome{Verdict: v, Action: ActionRequest}, nil
	default:
		return Outcome{Verdict: v}, nil
	}
}

// OfferSheet considers a full sheet received from the peer.
func (r *Registry) OfferSheet(s *Sheet, localPrimary bool) (Outcome, error) {
	if err := Validate(s); err != nil {
		return Outcome{}, err
	}
	if err := s.Verify(); err != nil {
		r.logger.Warn("received sheet failed verification", "birth", s.BirthTime, "error", err)
		return Outcome{Action: ActionRequest}, err
	}
	s = s.Clone()

	r.mu.Lock()
	defer r.unlock()

	// A verified retransmission of the blocked version replaces our copy.
	if r.blocked.Load() && r.blockedBirth == s.BirthTime && !localPrimary {
		r.blocked.Store(false)
		r.swapLocked(s, "retransmission")
		r.logger.Info("sheet corruption cleared", "birth", s.BirthTime, "checksum", fmt.Sprintf("%08x", s.Checksum))
		r.record(dlog.SheetCleared, s.Header(), "verified retransmission")
		return Outcome{Verdict: AdoptRemote, Action: ActionAck, Changed: true}, nil
	}

	cur := r.active.Load()
	if cur == nil {
		r.swapLocked(s, "peer")
		return Outcome{Verdict: AdoptRemote, Changed: true}, nil
	}

	v := Resolve(cur.Header(), s.Header(), localPrimary, r.cfg.Uncertainty)
	switch v {
	case AdoptRemote:
		r.swapLocked(s, "peer")
		return Outcome{Verdict: v, Changed: true}, nil
	case Corrupt:
		r.blockLocked(cur, s.Header())
		out := Outcome{Verdict: v}
		if !localPrimary {
			out.Action = ActionRequest
		}
		return out, fmt.Errorf("%w: birth %v", ErrSheetCorruption, s.BirthTime)
	default:
		r.record(dlog.SheetIgnored, s.Header(), v.String())
		return Outcome{Verdict: v}, nil
	}
}

// Acknowledge clears a corruption block on the side that sent the
// retransmission once the peer confirms the same version.
func (r *Registry) Acknowledge(h Header) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.active.Load()
	if cur == nil || !r.blocked.Load() || r.blockedBirth != h.BirthTime || cur.Header() != h {
		return false
	}
	r.blocked.Store(false)
	r.logger.Info("sheet corruption cleared by peer ack", "birth", h.BirthTime)
	r.record(dlog.SheetCleared, h, "peer ack")
	return true
}

// Clear removes the active sheet.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active.Store(nil)
	r.blocked.Store(false)
}

func (r *Registry) swapLocked(s *Sheet, source string) {
	if r.blocked.Load() && r.blockedBirth != s.BirthTime {
		// A different version supersedes the corrupted one.
		r.blocked.Store(false)
	}
	r.active.Store(s)
	r.logger.Info("sheet adopted",
		"name", s.Name,
		"source", source,
		"birth", s.BirthTime,
		"checksum", fmt.Sprintf("%08x", s.Checksum),
		"segments", s.SegmentCount())
	r.record(dlog.SheetAdopted, s.Header(), source)
	r.changed = s
}

// unlock releases the writer lock and then runs the change callbacks for a
// sheet swapped in while it was held.
func (r *Registry) unlock() {
	changed := r.changed
	r.changed = nil
	fns := append(([]func(*Sheet))(nil), r.onChange...)
	r.mu.Unlock()

	if changed == nil || r.active.Load() != changed {
		return
	}
	for _, fn := range fns {
		fn(changed)
	}
}

func (r *Registry) blockLocked(cur *Sheet, remote Header) {
	r.blockedBirth = cur.BirthTime
	r.blocked.Store(true)
	r.logger.Error("sheet corruption detected",
		"error", ErrSheetCorruption,
		"birth", cur.BirthTime,
		"local_checksum", fmt.Sprintf("%08x", cur.Checksum),
		"remote_checksum", fmt.Sprintf("%08x", remote.Checksum))
	r.record(dlog.SheetCorrupted, remote, "checksum mismatch")
}

func (r *Registry) record(action dlog.SheetAction, h Header, reason string) {
	r.plog.Log(dlog.Event{
		Timestamp:    r.cfg.Clock.Now(),
		ConnectionID: r.connID,
		Direction:    dlog.DirectionNone,
		Layer:        dlog.LayerSheet,
		Category:     dlog.CategorySheet,
		Sheet: &dlog.SheetEvent{
			Action:       action,
			BirthTime:    int64(h.BirthTime),
			Checksum:     h.Checksum,
			SegmentCount: h.SegmentCount,
			Reason:       reason,
		},
	})
}

// IsCorruption reports whether err signals a sheet corruption.
func IsCorruption(err error) bool {
	return errors.Is(err, ErrSheetCorruption)
}

