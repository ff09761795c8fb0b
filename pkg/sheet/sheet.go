package sheet

import (
	"fmt"
	"hash/crc32"
	"math"
	"strings"

	"github.com/duosync/duosync-go/pkg/clock"
	"github.com/duosync/duosync-go/pkg/wire"
)

// MaxSegments is the maximum number of segments in a sheet.
const MaxSegments = 64

// Output value ranges.
const (
	MaxMotor      = 100
	MaxBrightness = 100
	MaxColor      = 15
)

// Channel is one output channel of a zone.
type Channel uint8

const (
	ChannelMotor Channel = iota
	ChannelBrightness
	ChannelColor
)

// Channels lists all channels in actuation order.
var Channels = []Channel{ChannelMotor, ChannelBrightness, ChannelColor}

// String returns the channel name.
func (c Channel) String() string {
	switch c {
	case ChannelMotor:
		return "motor"
	case ChannelBrightness:
		return "brightness"
	case ChannelColor:
		return "color"
	default:
		return fmt.Sprintf("channel(%d)", uint8(c))
	}
}

// Output holds the channel values of one zone.
type Output struct {
	Motor      uint8 `cbor:"1,keyasint" yaml:"motor"`
	Brightness uint8 `cbor:"2,keyasint" yaml:"brightness"`
	Color      uint8 `cbor:"3,keyasint" yaml:"color"`
}

// Neutral is the all-off output.
var Neutral = Output{}

// Active reports whether the output drives the motor or the light.
func (o Output) Active() bool {
	return o.Motor > 0 || o.Brightness > 0
}

// Value returns the value of channel c.
func (o Output) Value(c Channel) uint8 {
	switch c {
	case ChannelMotor:
		return o.Motor
	case ChannelBrightness:
		return o.Brightness
	case ChannelColor:
		return o.Color
	default:
		return 0
	}
}

// Easing is the interpolation curve of a transition.
type Easing uint8

const (
	EaseStep Easing = iota
	EaseLinear
	EaseIn
	EaseOut
	EaseInOut
)

var easingNames = map[Easing]string{
	EaseStep:   "step",
	EaseLinear: "linear",
	EaseIn:     "ease-in",
	EaseOut:    "ease-out",
	EaseInOut:  "ease-in-out",
}

// String returns the easing name.
func (e Easing) String() string {
	if n, ok := easingNames[e]; ok {
		return n
	}
	return fmt.Sprintf("easing(%d)", uint8(e))
}

// Valid reports whether e is a known easing.
func (e Easing) Valid() bool {
	_, ok := easingNames[e]
	return ok
}

// ParseEasing parses an easing name.
func ParseEasing(s string) (Easing, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return EaseLinear, nil
	}
	for e, n := range easingNames {
		if n == s {
			return e, nil
		}
	}
	return 0, fmt.Errorf("unknown easing %q", s)
}

// Apply maps transition progress p in [0,1] to interpolation weight.
func (e Easing) Apply(p float64) float64 {
	p = math.Max(0, math.Min(1, p))
	switch e {
	case EaseStep:
		return 1
	case EaseIn:
		return p * p
	case EaseOut:
		return 1 - (1-p)*(1-p)
	case EaseInOut:
		return p * p * (3 - 2*p)
	default:
		return p
	}
}

// Class is the pattern family of a sheet.
type Class uint8

const (
	ClassCustom Class = iota
	ClassBilateral
	ClassLightbar
	ClassAmbient
)

var classNames = map[Class]string{
	ClassCustom:    "custom",
	ClassBilateral: "bilateral",
	ClassLightbar:  "lightbar",
	ClassAmbient:   "ambient",
}

// String returns the class name.
func (c Class) String() string {
	if n, ok := classNames[c]; ok {
		return n
	}
	return fmt.Sprintf("class(%d)", uint8(c))
}

// ParseClass parses a class name.
func ParseClass(s string) (Class, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ClassCustom, nil
	}
	for c, n := range classNames {
		if n == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown pattern class %q", s)
}

// Segment is one point on the sheet timeline.
type Segment struct {
	// TimeOffset is the start of the segment within the period.
	TimeOffset clock.Micros `cbor:"1,keyasint"`

	// Transition is how long the change from the previous segment takes.
	Transition clock.Micros `cbor:"2,keyasint"`
	Easing     Easing       `cbor:"3,keyasint"`

	// Outputs holds one entry per zone, indexed by zone.
	Outputs []Output `cbor:"4,keyasint"`
}

// Sheet is a versioned multi-zone pattern.
type Sheet struct {
	Name      string       `cbor:"1,keyasint,omitempty"`
	BirthTime clock.Micros `cbor:"2,keyasint"`
	Checksum  uint32       `cbor:"3,keyasint"`

	// LoopPoint is the period of the sheet.
	LoopPoint clock.Micros `cbor:"4,keyasint"`
	Class     Class        `cbor:"5,keyasint"`
	Looping   bool         `cbor:"6,keyasint"`
	ZoneCount uint8        `cbor:"7,keyasint"`
	Segments  []Segment    `cbor:"8,keyasint"`
}

// content is the checksummed part of a sheet.
type content struct {
	LoopPoint clock.Micros `cbor:"1,keyasint"`
	Class     Class        `cbor:"2,keyasint"`
	Looping   bool         `cbor:"3,keyasint"`
	ZoneCount uint8        `cbor:"4,keyasint"`
	Segments  []Segment    `cbor:"5,keyasint"`
}

// Header is the compact version summary exchanged on reconnection.
type Header struct {
	BirthTime    clock.Micros
	Checksum     uint32
	SegmentCount uint8
}

// SegmentCount returns the number of segments.
func (s *Sheet) SegmentCount() uint8 {
	return uint8(len(s.Segments))
}

// Header returns the version summary of s.
func (s *Sheet) Header() Header {
	return Header{BirthTime: s.BirthTime, Checksum: s.Checksum, SegmentCount: s.SegmentCount()}
}

// ComputeChecksum returns the CRC-32 of the canonical encoding of the
// sheet content. Name, birth time and the stored checksum are excluded.
func (s *Sheet) ComputeChecksum() (uint32, error) {
	data, err := wire.Marshal(content{
		LoopPoint: s.LoopPoint,
		Class:     s.Class,
		Looping:   s.Looping,
		ZoneCount: s.ZoneCount,
		Segments:  s.Segments,
	})
	if err != nil {
		return 0, fmt.Errorf("encode sheet content: %w", err)
	}
	return crc32.ChecksumIEEE(data), nil
}

// Seal stores the computed checksum in s.
func (s *Sheet) Seal() error {
	sum, err := s.ComputeChecksum()
	if err != nil {
		return err
	}
	s.Checksum = sum
	return nil
}

// Verify reports ErrChecksum when the stored checksum does not match the
// content.
func (s *Sheet) Verify() error {
	sum, err := s.ComputeChecksum()
	if err != nil {
		return err
	}
	if sum != s.Checksum {
		return fmt.Errorf("%w: stored %08x, computed %08x", ErrChecksum, s.Checksum, sum)
	}
	return nil
}

// Epoch returns the first period boundary strictly after the birth time.
// Both devices derive the same epoch from the header alone.
func (s *Sheet) Epoch() clock.Micros {
	return Epoch(s.BirthTime, s.LoopPoint)
}

// Epoch returns (floor(birth/period)+1)*period.
func Epoch(birth, period clock.Micros) clock.Micros {
	if period <= 0 {
		return birth
	}
	q := birth / period
	if birth%period != 0 && birth < 0 {
		q--
	}
	return (q + 1) * period
}

// Clone returns a deep copy of s.
func (s *Sheet) Clone() *Sheet {
	c := *s
	c.Segments = make([]Segment, len(s.Segments))
	for i, seg := range s.Segments {
		seg.Outputs = append([]Output(nil), seg.Outputs...)
		c.Segments[i] = seg
	}
	return &c
}

// Encode returns the canonical encoding of s for SheetData.
func Encode(s *Sheet) ([]byte, error) {
	return wire.Marshal(s)
}

// Decode parses an encoded sheet. It does not validate.
func Decode(data []byte) (*Sheet, error) {
	var s Sheet
	if err := wire.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode sheet: %w", err)
	}
	return &s, nil
}
