// Package role negotiates the timing role of a device within a pair.
//
// Roles are decided once per connection by a total order over the two
// candidates: the higher power budget becomes Primary; on equal budgets the
// lexicographically smaller stable identifier wins. Because both devices
// evaluate the same order over the same inputs they reach complementary
// decisions without further exchange.
package role

import (
	"errors"
	"fmt"
)

// Role errors.
var (
	// ErrRoleConflict marks a negotiation that needed the identifier
	// tiebreak. It is logged, never returned to callers.
	ErrRoleConflict = errors.New("role conflict")

	// ErrIdenticalID is returned when both candidates share an identifier.
	ErrIdenticalID = errors.New("identical device identifiers")

	// ErrNotNegotiated is returned when no role has been assigned yet.
	ErrNotNegotiated = errors.New("role not negotiated")
)

// Role is the timing role of a device.
type Role uint8

const (
	Unassigned Role = iota
	// Primary originates sync beacons and owns the synchronized timebase.
	Primary
	// Secondary answers beacons and follows the Primary's timebase.
	Secondary
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case Unassigned:
		return "UNASSIGNED"
	case Primary:
		return "PRIMARY"
	case Secondary:
		return "SECONDARY"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// Candidate is one side of a negotiation.
type Candidate struct {
	ID          string
	PowerBudget uint16
}

// Decision is the outcome of Negotiate from the local point of view.
type Decision struct {
	Role         Role
	PeerID       string
	TiebreakUsed bool
}

// Negotiate decides the local role against peer.
func Negotiate(local, peer Candidate) (Decision, error) {
	if local.ID == peer.ID {
		return Decision{}, fmt.Errorf("%w: %q", ErrIdenticalID, local.ID)
	}

	d := Decision{PeerID: peer.ID}
	switch {
	case local.PowerBudget > peer.PowerBudget:
		d.Role = Primary
	case local.PowerBudget < peer.PowerBudget:
		d.Role = Secondary
	default:
		d.TiebreakUsed = true
		if local.ID < peer.ID {
			d.Role = Primary
		} else {
			d.Role = Secondary
		}
	}
	return d, nil
}
