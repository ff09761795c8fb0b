// Package timesync maintains a shared time reference between two devices.
//
// The Primary periodically sends a beacon stamped with its local send time
// (T1). The Secondary stamps physical receipt (T2) and its reply send time
// (T3); the Primary stamps receipt of the reply (T4) and returns T4 in a
// follow-up so both devices hold the same four-timestamp set. From it:
//
//	delay  = ((T2-T1) + (T4-T3)) / 2
//	offset = ((T2-T1) - (T4-T3)) / 2   (offset > 0: Secondary ahead)
//
// Raw offsets are smoothed by a two-regime exponentially weighted average.
// Samples that deviate from the filtered value by more than a hard ceiling
// are discarded and counted. A quality score tracks how well each filtered
// value predicted the next measurement and drives the beacon cadence.
//
// The local clock is never corrected. Synchronized time is computed at the
// point of use as local time minus the filtered offset, and the filtered
// offset stays frozen while the link is down.
package timesync
