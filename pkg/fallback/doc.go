// Package fallback tracks how long a device has been without its peer.
//
// When the link drops, both devices keep playing the sheet they hold on
// their last synchronized timebase. The monitor moves through two phases:
//
//   - Phase 1 (first two minutes): the held offset is trusted and playback
//     continues in shared rhythm.
//   - Phase 2 (after two minutes): drift may have accumulated; each device
//     only keeps its role and zone.
//
// Independently, after the survivor timeout (30 seconds) a Secondary may
// promote itself to Primary so a replacement peer can join it.
//
// Reconnecting cancels all timers and returns to the connected phase.
package fallback
