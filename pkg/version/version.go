// Package version provides protocol version parsing and compatibility
// checks for the Hello exchange and discovery records.
package version

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Current is the protocol version implemented by this library.
const Current = "1.0"

// ErrIncompatible is returned when the peer speaks a different major
// version.
var ErrIncompatible = errors.New("incompatible protocol version")

// ProtocolVersion represents a parsed "major.minor" protocol version.
type ProtocolVersion struct {
	Major uint16
	Minor uint16
}

// Parse parses a "major.minor" version string.
func Parse(s string) (ProtocolVersion, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}

	major, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil || parts[0] == "" {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: bad major component", s)
	}

	minor, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil || parts[1] == "" {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: bad minor component", s)
	}

	return ProtocolVersion{Major: uint16(major), Minor: uint16(minor)}, nil
}

// MustParse is Parse for constants.
func MustParse(s string) ProtocolVersion {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the version as "major.minor".
func (v ProtocolVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compatible returns true if the other version has the same major version.
func (v ProtocolVersion) Compatible(other ProtocolVersion) bool {
	return v.Major == other.Major
}

// Less reports whether v is older than other.
func (v ProtocolVersion) Less(other ProtocolVersion) bool {
	if v.Major != other.Major {
		return v.Major < other.Major
	}
	return v.Minor < other.Minor
}

// Check validates a peer's advertised version against Current. A newer
// minor version is accepted; the session runs at the lower one.
func Check(peer string) (ProtocolVersion, error) {
	pv, err := Parse(peer)
	if err != nil {
		return ProtocolVersion{}, fmt.Errorf("%w: %v", ErrIncompatible, err)
	}
	local := MustParse(Current)
	if !local.Compatible(pv) {
		return ProtocolVersion{}, fmt.Errorf("%w: local %s, peer %s", ErrIncompatible, local, pv)
	}
	if pv.Less(local) {
		return pv, nil
	}
	return local, nil
}

// ProtocolID returns the protocol identifier for a major version:
// "duosync/N". It is advertised in discovery records.
func ProtocolID(major uint16) string {
	return fmt.Sprintf("duosync/%d", major)
}

// MajorFromProtocolID extracts the major version from a protocol ID.
func MajorFromProtocolID(id string) (uint16, error) {
	if !strings.HasPrefix(id, "duosync/") {
		return 0, fmt.Errorf("not a duosync protocol id: %q", id)
	}

	suffix := id[len("duosync/"):]
	if suffix == "" {
		return 0, fmt.Errorf("empty major version in protocol id: %q", id)
	}

	major, err := strconv.ParseUint(suffix, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid major version in protocol id %q: %w", id, err)
	}

	return uint16(major), nil
}

// SupportedProtocolIDs returns the protocol IDs for all supported major
// versions.
func SupportedProtocolIDs() []string {
	return []string{ProtocolID(MustParse(Current).Major)}
}
