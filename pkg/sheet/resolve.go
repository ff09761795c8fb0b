package sheet

import "github.com/duosync/duosync-go/pkg/clock"

// DefaultUncertainty is the birth-time window inside which the timing role
// decides between two sheets.
const DefaultUncertainty clock.Micros = 5000

// Verdict is the outcome of comparing the local and a remote sheet.
type Verdict uint8

const (
	KeepLocal Verdict = iota
	AdoptRemote
	Identical
	Corrupt
)

// String returns the verdict name.
func (v Verdict) String() string {
	switch v {
	case KeepLocal:
		return "KEEP_LOCAL"
	case AdoptRemote:
		return "ADOPT_REMOTE"
	case Identical:
		return "IDENTICAL"
	case Corrupt:
		return "CORRUPT"
	default:
		return "UNKNOWN"
	}
}

// Resolve decides between the local and remote headers.
//
// A birth time more than uncertainty above the other always wins. Distinct
// birth times within the window go to the Primary's sheet. Equal birth times
// are a no-op when the checksums agree and corruption otherwise. A zero
// window orders sheets by birth time alone.
func Resolve(local, remote Header, localPrimary bool, uncertainty clock.Micros) Verdict {
	if local.BirthTime == remote.BirthTime {
		if local.Checksum == remote.Checksum {
			return Identical
		}
		return Corrupt
	}

	if (local.BirthTime - remote.BirthTime).Abs() <= uncertainty {
		if localPrimary {
			return KeepLocal
		}
		return AdoptRemote
	}

	if remote.BirthTime > local.BirthTime {
		return AdoptRemote
	}
	return KeepLocal
}
