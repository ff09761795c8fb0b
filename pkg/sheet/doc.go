// Package sheet defines versioned multi-zone pattern sheets and the
// registry that holds the active one.
//
// A sheet is versioned by its birth time: the synchronized time at which a
// mode change was requested. Comparing two sheets reduces to comparing
// birth times. Identical birth times with different checksums indicate
// corruption and are never merged.
//
// Both devices hold the identical multi-zone sheet and each executes only
// its own zone column, so antiphase zones cannot overlap by construction.
package sheet
