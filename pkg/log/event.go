package log

import (
	"time"

	"github.com/duosync/duosync-go/pkg/wire"
)

// Event is a single protocol capture record.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp is the host wall-clock time of capture.
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the link session (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	Direction Direction `cbor:"3,keyasint"`
	Layer     Layer     `cbor:"4,keyasint"`
	Category  Category  `cbor:"5,keyasint"`

	// LocalRole is the timing role at capture time.
	LocalRole Role `cbor:"6,keyasint,omitempty"`

	DeviceID string `cbor:"7,keyasint,omitempty"`
	PeerID   string `cbor:"8,keyasint,omitempty"`
	Zone     string `cbor:"9,keyasint,omitempty"`

	// Exactly one payload is set.
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	Sync        *SyncEvent        `cbor:"13,keyasint,omitempty"`
	Sheet       *SheetEvent       `cbor:"14,keyasint,omitempty"`
	RoleChange  *RoleEvent        `cbor:"15,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"16,keyasint,omitempty"`
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
	// DirectionNone marks events that are not tied to a message.
	DirectionNone Direction = 2
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	case DirectionNone:
		return "-"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which component captured the event.
type Layer uint8

const (
	LayerTransport Layer = 0
	LayerWire      Layer = 1
	LayerSync      Layer = 2
	LayerSheet     Layer = 3
	LayerPlayback  Layer = 4
	LayerService   Layer = 5
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerSync:
		return "SYNC"
	case LayerSheet:
		return "SHEET"
	case LayerPlayback:
		return "PLAYBACK"
	case LayerService:
		return "SERVICE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event payload.
type Category uint8

const (
	CategoryMessage Category = 0
	CategorySync    Category = 1
	CategorySheet   Category = 2
	CategoryRole    Category = 3
	CategoryState   Category = 4
	CategoryError   Category = 5
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategorySync:
		return "SYNC"
	case CategorySheet:
		return "SHEET"
	case CategoryRole:
		return "ROLE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role is the local timing role recorded with an event.
type Role uint8

const (
	RoleUnassigned Role = 0
	RolePrimary    Role = 1
	RoleSecondary  Role = 2
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleUnassigned:
		return "UNASSIGNED"
	case RolePrimary:
		return "PRIMARY"
	case RoleSecondary:
		return "SECONDARY"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures a raw frame at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data holds at most MaxFrameCapture bytes of the frame.
	Data      []byte `cbor:"2,keyasint,omitempty"`
	Truncated bool   `cbor:"3,keyasint,omitempty"`
}

// MaxFrameCapture bounds the bytes stored per FrameEvent.
const MaxFrameCapture = 256

// NewFrameEvent builds a FrameEvent, truncating data to MaxFrameCapture.
func NewFrameEvent(data []byte) *FrameEvent {
	fe := &FrameEvent{Size: len(data)}
	if len(data) > MaxFrameCapture {
		fe.Data = append([]byte(nil), data[:MaxFrameCapture]...)
		fe.Truncated = true
	} else {
		fe.Data = append([]byte(nil), data...)
	}
	return fe
}

// MessageEvent captures a decoded wire message.
type MessageEvent struct {
	Type wire.MsgType `cbor:"1,keyasint"`

	// Sequence is the exchange sequence for sync messages, zero otherwise.
	Sequence uint32 `cbor:"2,keyasint,omitempty"`

	// Payload is the decoded message body.
	Payload any `cbor:"3,keyasint,omitempty"`
}

// SyncEvent captures one completed or rejected sync exchange.
// Times are microseconds of the respective local clocks.
type SyncEvent struct {
	Sequence uint32 `cbor:"1,keyasint"`
	T1       int64  `cbor:"2,keyasint"`
	T2       int64  `cbor:"3,keyasint"`
	T3       int64  `cbor:"4,keyasint"`
	T4       int64  `cbor:"5,keyasint"`

	OffsetUs         int64 `cbor:"6,keyasint"`
	DelayUs          int64 `cbor:"7,keyasint"`
	FilteredOffsetUs int64 `cbor:"8,keyasint"`
	Quality          uint8 `cbor:"9,keyasint"`
	Accepted         bool  `cbor:"10,keyasint"`

	// Reason explains a rejection.
	Reason     string `cbor:"11,keyasint,omitempty"`
	IntervalMs uint32 `cbor:"12,keyasint,omitempty"`
}

// SheetAction is what the registry did with a sheet.
type SheetAction uint8

const (
	SheetAdopted SheetAction = iota
	SheetIgnored
	SheetRequested
	SheetSent
	SheetCorrupted
	SheetCleared
)

// String returns the action name.
func (a SheetAction) String() string {
	switch a {
	case SheetAdopted:
		return "ADOPTED"
	case SheetIgnored:
		return "IGNORED"
	case SheetRequested:
		return "REQUESTED"
	case SheetSent:
		return "SENT"
	case SheetCorrupted:
		return "CORRUPTED"
	case SheetCleared:
		return "CLEARED"
	default:
		return "UNKNOWN"
	}
}

// SheetEvent captures a sheet versioning decision.
type SheetEvent struct {
	Action       SheetAction `cbor:"1,keyasint"`
	BirthTime    int64       `cbor:"2,keyasint"`
	Checksum     uint32      `cbor:"3,keyasint"`
	SegmentCount uint8       `cbor:"4,keyasint,omitempty"`
	Name         string      `cbor:"5,keyasint,omitempty"`
	Reason       string      `cbor:"6,keyasint,omitempty"`
}

// RoleEvent captures a role negotiation outcome.
type RoleEvent struct {
	Role         Role   `cbor:"1,keyasint"`
	PeerID       string `cbor:"2,keyasint"`
	Zone         string `cbor:"3,keyasint,omitempty"`
	TiebreakUsed bool   `cbor:"4,keyasint,omitempty"`
	Failover     bool   `cbor:"5,keyasint,omitempty"`
}

// StateChangeEvent captures a lifecycle transition.
type StateChangeEvent struct {
	Entity   StateEntity `cbor:"1,keyasint"`
	OldState string      `cbor:"2,keyasint,omitempty"`
	NewState string      `cbor:"3,keyasint"`
	Reason   string      `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what changed state.
type StateEntity uint8

const (
	StateEntityLink     StateEntity = 0
	StateEntitySync     StateEntity = 1
	StateEntityPlayback StateEntity = 2
	StateEntityFallback StateEntity = 3
)

// String returns the entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityLink:
		return "LINK"
	case StateEntitySync:
		return "SYNC"
	case StateEntityPlayback:
		return "PLAYBACK"
	case StateEntityFallback:
		return "FALLBACK"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures an error at any layer.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`

	// Context names the operation in progress.
	Context string `cbor:"3,keyasint,omitempty"`
}
