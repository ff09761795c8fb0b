// Package playback executes the active sheet against the synchronized
// timebase.
//
// Every device derives the same cycle position from the sheet's epoch and
// the shared clock, and drives only its own zone's column. Evaluate is the
// pure mapping from (sheet, synchronized time, zone) to an output; Engine
// runs it on a fixed tick and writes changes to an Actuator.
//
// The playback goroutine never waits on communication. Its only
// synchronization point is a bounded read of the sync state; when that
// read misses, the previous tick's anchor is extrapolated with local time.
package playback
