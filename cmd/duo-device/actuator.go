package main

import (
	"io"
	"log/slog"
	"sync"

	"github.com/duosync/duosync-go/pkg/sheet"
	"github.com/duosync/duosync-go/pkg/zone"
)

// logActuator stands in for the motor and LED drivers. It logs every
// output change and keeps the last value per channel.
type logActuator struct {
	logger *slog.Logger

	mu   sync.Mutex
	last map[sheet.Channel]uint8
}

func newLogActuator(logger *slog.Logger) *logActuator {
	return &logActuator{logger: logger, last: make(map[sheet.Channel]uint8)}
}

// SetOutput implements playback.Actuator.
func (a *logActuator) SetOutput(z zone.Zone, c sheet.Channel, value uint8) {
	a.mu.Lock()
	prev, seen := a.last[c]
	a.last[c] = value
	a.mu.Unlock()

	if seen && prev == value {
		return
	}
	a.logger.Debug("output", "zone", z, "channel", c, "value", value)
}

// Value returns the last value written to c.
func (a *logActuator) Value(c sheet.Channel) uint8 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last[c]
}

// switchWriter forwards writes to a target that can be replaced while
// loggers hold on to the switchWriter.
type switchWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func newSwitchWriter(w io.Writer) *switchWriter {
	return &switchWriter{w: w}
}

// Set replaces the target and returns the previous one.
func (s *switchWriter) Set(w io.Writer) io.Writer {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.w
	s.w = w
	return prev
}

func (s *switchWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
