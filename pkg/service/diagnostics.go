package service

import (
	"time"

	"github.com/duosync/duosync-go/pkg/clock"
	"github.com/duosync/duosync-go/pkg/fallback"
	"github.com/duosync/duosync-go/pkg/playback"
	"github.com/duosync/duosync-go/pkg/role"
	"github.com/duosync/duosync-go/pkg/sheet"
	"github.com/duosync/duosync-go/pkg/zone"
)

// Diagnostics is a point-in-time view of a device.
type Diagnostics struct {
	DeviceID string
	State    ServiceState

	Connected       bool
	PeerID          string
	ConnectionID    string
	ProtocolVersion string

	Role         role.Role
	Zone         zone.Zone
	HasZone      bool
	TiebreakUsed bool

	Quality        uint8
	FilteredOffset clock.Micros
	Delay          clock.Micros
	DriftRate      float64
	Interval       time.Duration
	Samples        int
	Rejected       int

	// Confident is false before the first exchange and while starved.
	Confident bool
	Degraded  bool

	Sheet     sheet.Header
	HasSheet  bool
	SheetName string
	Corrupted bool

	Phase        fallback.Phase
	Disconnected time.Duration

	Playback playback.Status

	ReceiveErrors uint64
}

// Diagnostics returns the current diagnostics.
func (s *DeviceService) Diagnostics() Diagnostics {
	snap := s.times.Snapshot()

	d := Diagnostics{
		DeviceID:       s.deviceID,
		State:          s.State(),
		Role:           snap.Role,
		Quality:        snap.Quality,
		FilteredOffset: snap.FilteredOffset,
		Delay:          snap.Delay,
		DriftRate:      snap.DriftRate,
		Interval:       snap.Interval,
		Samples:        snap.Samples,
		Rejected:       snap.Rejected,
		Confident:      snap.HasExchange && !snap.Degraded,
		Degraded:       snap.Degraded,
		Corrupted:      s.sheets.Corrupted(),
		Phase:          s.monitor.Phase(),
		Disconnected:   s.monitor.Disconnected(),
		Playback:       s.player.Status(),
		ReceiveErrors:  s.rxErrors.Load(),
	}
	d.Zone, d.HasZone = s.binding.Zone()

	if active := s.sheets.Active(); active != nil {
		d.Sheet = active.Header()
		d.HasSheet = true
		d.SheetName = active.Name
	}

	if sess := s.currentSession(); sess != nil {
		d.ConnectionID = sess.connID
		a, v, ok := sess.current()
		if ok {
			d.Connected = true
			d.PeerID = a.PeerID
			d.TiebreakUsed = a.TiebreakUsed
			d.ProtocolVersion = v.String()
		}
	}
	return d
}
