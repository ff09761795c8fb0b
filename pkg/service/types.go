package service

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/duosync/duosync-go/pkg/clock"
	dlog "github.com/duosync/duosync-go/pkg/log"
	"github.com/duosync/duosync-go/pkg/persistence"
	"github.com/duosync/duosync-go/pkg/playback"
	"github.com/duosync/duosync-go/pkg/role"
	"github.com/duosync/duosync-go/pkg/sheet"
	"github.com/duosync/duosync-go/pkg/timesync"
	"github.com/duosync/duosync-go/pkg/zone"
)

// Service errors.
var (
	ErrNotStarted     = errors.New("service not started")
	ErrAlreadyStarted = errors.New("service already started")
	ErrNotConnected   = errors.New("not connected")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrNoSheet        = errors.New("no active sheet")
)

// ServiceState represents the service state.
type ServiceState uint8

const (
	StateIdle ServiceState = iota
	StateRunning
	StateStopped
)

// String returns the state name.
func (s ServiceState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config configures a DeviceService.
type Config struct {
	// DeviceID is the stable identifier used for the role tiebreak.
	// Required, unless Store is set, in which case the stored ID is used.
	DeviceID string

	PowerBudget uint16

	// ZoneMode selects a fixed Zone or derivation from the first role.
	ZoneMode zone.Mode
	Zone     zone.Zone

	// Clock is the local monotonic clock. Required.
	Clock clock.Source

	// Timers drives every timer and ticker. Defaults to the real clock.
	Timers clockwork.Clock

	SyncFilter         timesync.FilterConfig
	SyncScheduler      timesync.SchedulerConfig
	StarvationMultiple int

	// StarvationCheckInterval is how often sync starvation is evaluated.
	StarvationCheckInterval time.Duration

	// HelloInterval is how often Hello is repeated until the peer answers.
	HelloInterval time.Duration

	// Uncertainty is the sheet birth-time tiebreak window.
	Uncertainty clock.Micros

	// StrictVersioning makes the later sheet win even inside the
	// uncertainty window.
	StrictVersioning bool

	PlaybackTick time.Duration
	LockTimeout  time.Duration

	Phase1Duration  time.Duration
	SurvivorTimeout time.Duration

	// Failover promotes a non-Primary device to Primary when the survivor
	// timeout passes without the peer.
	Failover bool

	// Actuator receives the local zone's outputs. Required.
	Actuator playback.Actuator

	// Store persists identity, zone and the active sheet. Optional.
	Store *persistence.Store

	Logger         *slog.Logger
	ProtocolLogger dlog.Logger
}

// DefaultConfig returns a Config with the standard timings.
func DefaultConfig() Config {
	return Config{
		ZoneMode:                zone.ModeAuto,
		SyncFilter:              timesync.DefaultFilterConfig(),
		SyncScheduler:           timesync.DefaultSchedulerConfig(),
		StarvationMultiple:      3,
		StarvationCheckInterval: time.Second,
		HelloInterval:           time.Second,
		Uncertainty:             sheet.DefaultUncertainty,
		PlaybackTick:            playback.DefaultTick,
		LockTimeout:             playback.DefaultLockTimeout,
		Failover:                true,
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Clock == nil {
		return fmt.Errorf("%w: clock is required", ErrInvalidConfig)
	}
	if c.Actuator == nil {
		return fmt.Errorf("%w: actuator is required", ErrInvalidConfig)
	}
	if c.DeviceID == "" && c.Store == nil {
		return fmt.Errorf("%w: device id is required", ErrInvalidConfig)
	}
	if c.ZoneMode == zone.ModeManual && !c.Zone.Valid() {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, zone.ErrInvalidZone)
	}
	return nil
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Timers == nil {
		c.Timers = clockwork.NewRealClock()
	}
	if c.StarvationMultiple <= 0 {
		c.StarvationMultiple = d.StarvationMultiple
	}
	if c.StarvationCheckInterval <= 0 {
		c.StarvationCheckInterval = d.StarvationCheckInterval
	}
	if c.HelloInterval <= 0 {
		c.HelloInterval = d.HelloInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// EventType identifies a service event.
type EventType uint8

const (
	// EventConnected - roles negotiated on a new link.
	EventConnected EventType = iota

	// EventDisconnected - the link went down.
	EventDisconnected

	// EventSheetChanged - a new sheet became active.
	EventSheetChanged

	// EventSheetCorruption - a version collision blocked playback.
	EventSheetCorruption

	// EventCorruptionCleared - a verified copy unblocked playback.
	EventCorruptionCleared

	// EventSyncStarvation - no sync exchange for too long.
	EventSyncStarvation

	// EventPhaseChanged - the fallback phase changed.
	EventPhaseChanged

	// EventFailover - the device promoted itself to Primary.
	EventFailover

	// EventIncompatiblePeer - the peer was rejected during Hello.
	EventIncompatiblePeer
)

// String returns the event type name.
func (e EventType) String() string {
	switch e {
	case EventConnected:
		return "CONNECTED"
	case EventDisconnected:
		return "DISCONNECTED"
	case EventSheetChanged:
		return "SHEET_CHANGED"
	case EventSheetCorruption:
		return "SHEET_CORRUPTION"
	case EventCorruptionCleared:
		return "CORRUPTION_CLEARED"
	case EventSyncStarvation:
		return "SYNC_STARVATION"
	case EventPhaseChanged:
		return "PHASE_CHANGED"
	case EventFailover:
		return "FAILOVER"
	case EventIncompatiblePeer:
		return "INCOMPATIBLE_PEER"
	default:
		return "UNKNOWN"
	}
}

// Event is delivered to handlers registered with OnEvent.
type Event struct {
	Type EventType

	PeerID       string
	ConnectionID string

	// Assignment is set for EventConnected and EventFailover.
	Assignment role.Assignment

	// Sheet is set for sheet events.
	Sheet sheet.Header

	// Phase is set for EventPhaseChanged.
	Phase string

	Error error
}

// EventHandler handles service events. Handlers run synchronously and
// must not change the active sheet.
type EventHandler func(Event)
