// Package clock provides the microsecond time base shared by the
// synchronization and playback cores.
//
// Every time value in the core is a [Micros] reading of a free-running,
// monotonic local counter. No wall-clock semantics are assumed anywhere:
// synchronized time is always derived from a local reading plus an offset
// at the point of consumption.
//
// # Sources
//
//   - [Monotonic] reads a clockwork.Clock, so tests can drive it with a
//     fake clock.
//   - [Counter32] widens a wrapping 32-bit hardware counter through an
//     [Extender].
//   - [Drifting] wraps another source with a fixed rate error and base
//     offset, modelling an independent crystal in simulation.
package clock
