package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/jonboulle/clockwork"

	dlog "github.com/duosync/duosync-go/pkg/log"
)

// Framing constants.
const (
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4

	// DefaultMaxFrameSize bounds a single frame. A full 64-segment
	// four-zone sheet fits with room to spare.
	DefaultMaxFrameSize = 16 * 1024
)

// Framing errors.
var (
	ErrFrameTooLarge  = errors.New("frame too large")
	ErrFrameEmpty     = errors.New("frame is empty")
	ErrFrameTruncated = errors.New("frame truncated")
)

// frameLog records frames to a protocol logger.
type frameLog struct {
	logger dlog.Logger
	clock  clockwork.Clock
	connID string
}

func (l *frameLog) record(data []byte, dir dlog.Direction) {
	if l.logger == nil {
		return
	}
	l.logger.Log(dlog.Event{
		Timestamp:    l.clock.Now(),
		ConnectionID: l.connID,
		Direction:    dir,
		Layer:        dlog.LayerTransport,
		Category:     dlog.CategoryMessage,
		Frame:        dlog.NewFrameEvent(data),
	})
}

// FrameWriter writes length-prefixed frames. Safe for concurrent use.
type FrameWriter struct {
	mu      sync.Mutex
	w       io.Writer
	maxSize uint32
	log     frameLog
}

// NewFrameWriter creates a frame writer with DefaultMaxFrameSize.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w, maxSize: DefaultMaxFrameSize, log: frameLog{clock: clockwork.NewRealClock()}}
}

// SetLogger records written frames. Pass nil to disable.
func (fw *FrameWriter) SetLogger(logger dlog.Logger, clk clockwork.Clock, connID string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.log = frameLog{logger: logger, clock: orRealClock(clk), connID: connID}
}

// WriteFrame writes data as one frame. The prefix and payload go out in a
// single Write so a frame is never interleaved with another.
func (fw *FrameWriter) WriteFrame(data []byte) error {
	if len(data) == 0 {
		return ErrFrameEmpty
	}
	if uint32(len(data)) > fw.maxSize {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(data), fw.maxSize)
	}

	buf := make([]byte, LengthPrefixSize+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[LengthPrefixSize:], data)

	fw.mu.Lock()
	defer fw.mu.Unlock()
	if _, err := fw.w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	fw.log.record(data, dlog.DirectionOut)
	return nil
}

// FrameReader reads length-prefixed frames. Not safe for concurrent use.
type FrameReader struct {
	r         io.Reader
	maxSize   uint32
	lengthBuf [LengthPrefixSize]byte
	log       frameLog
}

// NewFrameReader creates a frame reader with DefaultMaxFrameSize.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r, maxSize: DefaultMaxFrameSize, log: frameLog{clock: clockwork.NewRealClock()}}
}

// SetLogger records read frames. Pass nil to disable.
func (fr *FrameReader) SetLogger(logger dlog.Logger, clk clockwork.Clock, connID string) {
	fr.log = frameLog{logger: logger, clock: orRealClock(clk), connID: connID}
}

// SetMaxFrameSize updates the frame size limit.
func (fr *FrameReader) SetMaxFrameSize(size uint32) {
	fr.maxSize = size
}

// ReadFrame reads one frame and returns its payload. io.EOF is returned
// unwrapped on a clean close between frames.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(fr.r, fr.lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, err
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("read length prefix: %w", err)
	}

	length := binary.BigEndian.Uint32(fr.lengthBuf[:])
	if length == 0 {
		return nil, ErrFrameEmpty
	}
	if length > fr.maxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, fr.maxSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || err == io.EOF {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("read payload: %w", err)
	}

	fr.log.record(payload, dlog.DirectionIn)
	return payload, nil
}

// FrameSize returns the size on the wire of a payload.
func FrameSize(payloadSize int) int {
	return LengthPrefixSize + payloadSize
}

func orRealClock(c clockwork.Clock) clockwork.Clock {
	if c == nil {
		return clockwork.NewRealClock()
	}
	return c
}
