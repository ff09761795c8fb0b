package commands

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/duosync/duosync-go/pkg/log"
)

// FilterOptions holds event selection criteria as given on the command line.
type FilterOptions struct {
	ConnID    string
	PeerID    string
	Zone      string
	Since     string
	Until     string
	Layer     string
	Direction string
	Category  string
}

// Build parses the options into a log.Filter.
func (o FilterOptions) Build() (log.Filter, error) {
	f := log.Filter{
		ConnectionID: o.ConnID,
		PeerID:       o.PeerID,
		Zone:         strings.ToUpper(o.Zone),
	}

	if o.Since != "" {
		t, err := time.Parse(time.RFC3339, o.Since)
		if err != nil {
			return f, fmt.Errorf("invalid since time: %w", err)
		}
		f.Since = &t
	}
	if o.Until != "" {
		t, err := time.Parse(time.RFC3339, o.Until)
		if err != nil {
			return f, fmt.Errorf("invalid until time: %w", err)
		}
		f.Until = &t
	}
	if o.Layer != "" {
		l, err := ParseLayer(o.Layer)
		if err != nil {
			return f, err
		}
		f.Layer = &l
	}
	if o.Direction != "" {
		d, err := ParseDirection(o.Direction)
		if err != nil {
			return f, err
		}
		f.Direction = &d
	}
	if o.Category != "" {
		c, err := ParseCategory(o.Category)
		if err != nil {
			return f, err
		}
		f.Category = &c
	}
	return f, nil
}

// ParseLayer parses a layer name (case-insensitive).
func ParseLayer(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "wire":
		return log.LayerWire, nil
	case "sync":
		return log.LayerSync, nil
	case "sheet":
		return log.LayerSheet, nil
	case "playback":
		return log.LayerPlayback, nil
	case "service":
		return log.LayerService, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s", s)
	}
}

// ParseDirection parses a direction name (case-insensitive).
func ParseDirection(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	case "none", "-":
		return log.DirectionNone, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in, out or none)", s)
	}
}

// ParseCategory parses a category name (case-insensitive).
func ParseCategory(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "sync":
		return log.CategorySync, nil
	case "sheet":
		return log.CategorySheet, nil
	case "role":
		return log.CategoryRole, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s", s)
	}
}

// RunFilter copies the events of path matching opts into output and
// returns how many were written.
func RunFilter(path, output string, opts FilterOptions) (int, error) {
	filter, err := opts.Build()
	if err != nil {
		return 0, err
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	logger, err := log.NewFileLogger(output)
	if err != nil {
		return 0, fmt.Errorf("failed to create output file: %w", err)
	}

	count := 0
	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = logger.Close()
			return count, fmt.Errorf("failed to read event: %w", err)
		}
		logger.Log(event)
		count++
	}
	return count, logger.Close()
}
