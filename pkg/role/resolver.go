package role

import (
	"log/slog"
	"sync"

	"github.com/duosync/duosync-go/pkg/zone"
)

// Assignment is the role and zone of a device for the current connection.
type Assignment struct {
	Zone         zone.Zone
	Role         Role
	PeerID       string
	TiebreakUsed bool
	Failover     bool
}

// Resolver assigns the role at connection time and locks the zone.
// It is safe for concurrent use.
type Resolver struct {
	mu      sync.Mutex
	local   Candidate
	binding *zone.Binding
	logger  *slog.Logger

	current Assignment
	valid   bool
}

// NewResolver creates a resolver for the local candidate.
func NewResolver(local Candidate, binding *zone.Binding, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{local: local, binding: binding, logger: logger}
}

// SetPowerBudget updates the local budget used by the next negotiation.
func (r *Resolver) SetPowerBudget(budget uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local.PowerBudget = budget
}

// Local returns the local candidate.
func (r *Resolver) Local() Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.local
}

// Resolve negotiates against peer and returns the assignment.
// An auto zone binding is locked by the first successful call.
func (r *Resolver) Resolve(peer Candidate) (Assignment, error) {
	return r.negotiate(peer, false)
}

// Failover renegotiates against peer on an existing session.
// The zone is never changed.
func (r *Resolver) Failover(peer Candidate) (Assignment, error) {
	return r.negotiate(peer, true)
}

// Promote makes the local device Primary after the peer was lost.
func (r *Resolver) Promote() Assignment {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.current.Role = Primary
	r.current.Zone = r.binding.Resolve(true)
	r.current.Failover = true
	r.valid = true

	r.logger.Info("role promoted after peer loss", "zone", r.current.Zone)
	return r.current
}

func (r *Resolver) negotiate(peer Candidate, failover bool) (Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, err := Negotiate(r.local, peer)
	if err != nil {
		r.logger.Error("role negotiation failed", "peer", peer.ID, "error", err)
		return Assignment{}, err
	}
	if d.TiebreakUsed {
		r.logger.Warn("role resolved by identifier tiebreak",
			"error", ErrRoleConflict,
			"local", r.local.ID,
			"peer", peer.ID,
			"power_budget", r.local.PowerBudget)
	}

	r.current = Assignment{
		Zone:         r.binding.Resolve(d.Role == Primary),
		Role:         d.Role,
		PeerID:       d.PeerID,
		TiebreakUsed: d.TiebreakUsed,
		Failover:     failover,
	}
	r.valid = true

	r.logger.Info("role assigned",
		"role", r.current.Role,
		"zone", r.current.Zone,
		"peer", peer.ID,
		"failover", failover)
	return r.current, nil
}

// Current returns the active assignment.
func (r *Resolver) Current() (Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.valid {
		return Assignment{}, ErrNotNegotiated
	}
	return r.current, nil
}

// Clear drops the role at the end of a connection. The zone stays locked.
func (r *Resolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.valid = false
	r.current.Role = Unassigned
}
