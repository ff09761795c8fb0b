// Package persistence stores the device state that must survive a
// restart: the stable device ID used for role tiebreaks, the configured
// zone, and the last active sheet.
//
// State lives in a single bbolt file. Sheets are stored in their wire
// encoding and re-verified on load, so a torn or corrupted record is
// reported rather than played.
package persistence
