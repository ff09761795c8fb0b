package zone

import "sync"

// Binding holds the session zone of a device. Once locked it never changes
// until Reset is called at the end of the session.
// It is safe for concurrent use.
type Binding struct {
	mu     sync.RWMutex
	mode   Mode
	zone   Zone
	locked bool
}

// NewManual creates a binding locked to z.
func NewManual(z Zone) (*Binding, error) {
	if !z.Valid() {
		return nil, ErrInvalidZone
	}
	return &Binding{mode: ModeManual, zone: z, locked: true}, nil
}

// NewAuto creates a binding that locks on the first Resolve call.
func NewAuto() *Binding {
	return &Binding{mode: ModeAuto}
}

// Mode returns the assignment mode.
func (b *Binding) Mode() Mode {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.mode
}

// Zone returns the locked zone. The second return is false while an auto
// binding has not been resolved yet.
func (b *Binding) Zone() (Zone, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.zone, b.locked
}

// Resolve returns the session zone, locking an auto binding from the given
// timing role on first use. Subsequent calls ignore primary.
func (b *Binding) Resolve(primary bool) Zone {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.locked {
		b.zone = Left
		if primary {
			b.zone = Right
		}
		b.locked = true
	}
	return b.zone
}

// Reset unlocks an auto binding at the end of a session.
// Manual bindings are unaffected.
func (b *Binding) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.mode == ModeAuto {
		b.locked = false
	}
}
