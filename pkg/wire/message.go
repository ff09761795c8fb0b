package wire

import (
	"errors"
	"fmt"
)

// MsgType tags the body of an Envelope.
type MsgType uint8

const (
	MsgHello             MsgType = 1
	MsgSyncBeacon        MsgType = 2
	MsgSyncResponse      MsgType = 3
	MsgSyncFollowUp      MsgType = 4
	MsgSheetHeader       MsgType = 5
	MsgSheetRequest      MsgType = 6
	MsgSheetData         MsgType = 7
	MsgModeChangeRequest MsgType = 8
)

// String returns the message type name.
func (t MsgType) String() string {
	switch t {
	case MsgHello:
		return "Hello"
	case MsgSyncBeacon:
		return "SyncBeacon"
	case MsgSyncResponse:
		return "SyncResponse"
	case MsgSyncFollowUp:
		return "SyncFollowUp"
	case MsgSheetHeader:
		return "SheetHeader"
	case MsgSheetRequest:
		return "SheetRequest"
	case MsgSheetData:
		return "SheetData"
	case MsgModeChangeRequest:
		return "ModeChangeRequest"
	default:
		return fmt.Sprintf("MsgType(%d)", uint8(t))
	}
}

// Message is implemented by every peer message.
type Message interface {
	Type() MsgType
}

func newMessage(t MsgType) Message {
	switch t {
	case MsgHello:
		return &Hello{}
	case MsgSyncBeacon:
		return &SyncBeacon{}
	case MsgSyncResponse:
		return &SyncResponse{}
	case MsgSyncFollowUp:
		return &SyncFollowUp{}
	case MsgSheetHeader:
		return &SheetHeader{}
	case MsgSheetRequest:
		return &SheetRequest{}
	case MsgSheetData:
		return &SheetData{}
	case MsgModeChangeRequest:
		return &ModeChangeRequest{}
	default:
		return nil
	}
}

// Hello opens a session. Both sides send one; role negotiation runs once
// both are known.
type Hello struct {
	DeviceID        string `cbor:"1,keyasint"`
	PowerBudget     uint16 `cbor:"2,keyasint"`
	ProtocolVersion string `cbor:"3,keyasint"`

	// Failover is set when the sender asks to renegotiate roles on an
	// existing session.
	Failover bool `cbor:"4,keyasint,omitempty"`

	// Reply marks an answer to the peer's Hello. Replies are not answered.
	Reply bool `cbor:"5,keyasint,omitempty"`
}

func (*Hello) Type() MsgType { return MsgHello }

// Validate checks required fields.
func (h *Hello) Validate() error {
	if h.DeviceID == "" {
		return errors.New("missing device id")
	}
	return nil
}

// SyncBeacon starts a sync exchange. T1 is the Primary's local send time.
type SyncBeacon struct {
	Sequence uint32 `cbor:"1,keyasint"`
	T1       int64  `cbor:"2,keyasint"`

	// IntervalMs is the Primary's current beacon interval, used by the
	// Secondary for starvation detection.
	IntervalMs uint32 `cbor:"3,keyasint"`
}

func (*SyncBeacon) Type() MsgType { return MsgSyncBeacon }

// SyncResponse answers a beacon with the Secondary's receive (T2) and send
// (T3) times.
type SyncResponse struct {
	Sequence uint32 `cbor:"1,keyasint"`
	T1       int64  `cbor:"2,keyasint"`
	T2       int64  `cbor:"3,keyasint"`
	T3       int64  `cbor:"4,keyasint"`
}

func (*SyncResponse) Type() MsgType { return MsgSyncResponse }

// SyncFollowUp carries the Primary's receive time (T4) of the response.
type SyncFollowUp struct {
	Sequence uint32 `cbor:"1,keyasint"`
	T4       int64  `cbor:"2,keyasint"`
}

func (*SyncFollowUp) Type() MsgType { return MsgSyncFollowUp }

// SheetHeader announces the sender's active sheet version.
type SheetHeader struct {
	BirthTime    int64  `cbor:"1,keyasint"`
	Checksum     uint32 `cbor:"2,keyasint"`
	SegmentCount uint8  `cbor:"3,keyasint"`

	// Ack confirms adoption of a retransmitted sheet.
	Ack bool `cbor:"4,keyasint,omitempty"`
}

func (*SheetHeader) Type() MsgType { return MsgSheetHeader }

// SheetRequest asks the peer to send its full active sheet.
type SheetRequest struct {
	// BirthTime is the version being requested, zero for whatever is active.
	BirthTime int64  `cbor:"1,keyasint,omitempty"`
	Reason    string `cbor:"2,keyasint,omitempty"`
}

func (*SheetRequest) Type() MsgType { return MsgSheetRequest }

// SheetData carries a complete sheet in its canonical encoding.
type SheetData struct {
	Sheet []byte `cbor:"1,keyasint"`
}

func (*SheetData) Type() MsgType { return MsgSheetData }

// Validate checks the payload is present.
func (d *SheetData) Validate() error {
	if len(d.Sheet) == 0 {
		return errors.New("empty sheet payload")
	}
	return nil
}

// ModeChangeRequest proposes a new sheet. The sheet's birth time is the
// synchronized time at which the sender requested the change.
type ModeChangeRequest struct {
	Sheet []byte `cbor:"1,keyasint"`

	// Pattern names the pattern for logs.
	Pattern string `cbor:"2,keyasint,omitempty"`
}

func (*ModeChangeRequest) Type() MsgType { return MsgModeChangeRequest }

// Validate checks the payload is present.
func (m *ModeChangeRequest) Validate() error {
	if len(m.Sheet) == 0 {
		return errors.New("empty sheet payload")
	}
	return nil
}
