package zone

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Zone errors.
var (
	ErrInvalidZone    = errors.New("invalid zone")
	ErrZoneUnresolved = errors.New("zone not resolved")
)

// MaxZones is the maximum number of zones a sheet may address.
const MaxZones = 4

// Zone identifies a physical output position.
type Zone uint8

const (
	// Left is the port side.
	Left Zone = 0
	// Right is the starboard side.
	Right Zone = 1
)

// String returns the zone name.
func (z Zone) String() string {
	switch z {
	case Left:
		return "LEFT"
	case Right:
		return "RIGHT"
	default:
		return fmt.Sprintf("ZONE_%d", uint8(z))
	}
}

// Valid reports whether z is addressable.
func (z Zone) Valid() bool {
	return z < MaxZones
}

// Parse parses a zone name ("left", "right", "l", "r") or index.
func Parse(s string) (Zone, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left", "l", "port":
		return Left, nil
	case "right", "r", "starboard":
		return Right, nil
	}
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil || Zone(n) >= MaxZones {
		return 0, fmt.Errorf("%w: %q", ErrInvalidZone, s)
	}
	return Zone(n), nil
}

// Mode is how the zone is assigned.
type Mode uint8

const (
	// ModeAuto derives the zone from the first negotiated role.
	ModeAuto Mode = iota
	// ModeManual uses an explicitly configured zone.
	ModeManual
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "AUTO"
	case ModeManual:
		return "MANUAL"
	default:
		return "UNKNOWN"
	}
}

// ParseMode parses "auto" or "manual".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto", "":
		return ModeAuto, nil
	case "manual":
		return ModeManual, nil
	default:
		return 0, fmt.Errorf("unknown zone mode %q", s)
	}
}
