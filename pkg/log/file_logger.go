package log

import (
	"bufio"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// FileLogger appends events to a .dlog capture file.
// It is safe for concurrent use.
type FileLogger struct {
	mu      sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	encoder *cbor.Encoder
	closed  bool
}

// NewFileLogger opens path for appending, creating it with mode 0644.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	buf := bufio.NewWriter(f)
	return &FileLogger{
		file:    f,
		buf:     buf,
		encoder: NewEncoder(buf),
	}, nil
}

// Log encodes the event. Encoding errors are dropped.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	_ = l.encoder.Encode(event)
}

// Flush writes buffered events to the file.
func (l *FileLogger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	return l.buf.Flush()
}

// Close flushes and closes the file. Further Log calls are ignored.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	flushErr := l.buf.Flush()
	if err := l.file.Close(); err != nil {
		return err
	}
	return flushErr
}

var _ Logger = (*FileLogger)(nil)
