// Package commands implements the duo-log subcommands.
package commands

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/duosync/duosync-go/pkg/log"
)

const timeLayout = "2006-01-02T15:04:05.000000Z"

// RunView prints every event of path matching filter.
func RunView(path string, filter log.Filter, w io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(w, event)
	}
}

// eventLabel names the payload of an event.
func eventLabel(event log.Event) string {
	switch {
	case event.Frame != nil:
		return "Frame"
	case event.Message != nil:
		return event.Message.Type.String()
	case event.Sync != nil:
		return "Exchange"
	case event.Sheet != nil:
		return "Sheet " + event.Sheet.Action.String()
	case event.RoleChange != nil:
		return "Role"
	case event.StateChange != nil:
		return "State"
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// formatEvent writes one event: a header line, details, then a blank line.
func formatEvent(w io.Writer, event log.Event) {
	ts := event.Timestamp.UTC().Format(timeLayout)
	fmt.Fprintf(w, "%s [conn:%s] %-3s %-9s %s", ts, shortenConnID(event.ConnectionID),
		event.Direction, event.Layer, eventLabel(event))
	if event.LocalRole != log.RoleUnassigned {
		fmt.Fprintf(w, " (%s)", event.LocalRole)
	}
	fmt.Fprintln(w)

	switch {
	case event.Frame != nil:
		formatFrame(w, event.Frame)
	case event.Message != nil:
		formatMessage(w, event.Message)
	case event.Sync != nil:
		formatSync(w, event.Sync)
	case event.Sheet != nil:
		formatSheet(w, event.Sheet)
	case event.RoleChange != nil:
		formatRole(w, event.RoleChange)
	case event.StateChange != nil:
		formatStateChange(w, event.StateChange)
	case event.Error != nil:
		formatError(w, event.Error)
	}
	fmt.Fprintln(w)
}

func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatFrame(w io.Writer, f *log.FrameEvent) {
	fmt.Fprintf(w, "  Size: %d bytes\n", f.Size)
	if len(f.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(f.Data))
		if f.Truncated {
			fmt.Fprint(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

func formatMessage(w io.Writer, m *log.MessageEvent) {
	if m.Sequence != 0 {
		fmt.Fprintf(w, "  Sequence: %d\n", m.Sequence)
	}
	if m.Payload != nil {
		fmt.Fprintf(w, "  Payload: %v\n", m.Payload)
	}
}

func formatSync(w io.Writer, s *log.SyncEvent) {
	status := "accepted"
	if !s.Accepted {
		status = "rejected"
	}
	fmt.Fprintf(w, "  Sequence: %d (%s)\n", s.Sequence, status)
	fmt.Fprintf(w, "  T1=%d T2=%d T3=%d T4=%d\n", s.T1, s.T2, s.T3, s.T4)
	fmt.Fprintf(w, "  Offset: %dus  Delay: %dus  Filtered: %dus  Quality: %d\n",
		s.OffsetUs, s.DelayUs, s.FilteredOffsetUs, s.Quality)
	if s.IntervalMs > 0 {
		fmt.Fprintf(w, "  Interval: %dms\n", s.IntervalMs)
	}
	if s.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", s.Reason)
	}
}

func formatSheet(w io.Writer, s *log.SheetEvent) {
	fmt.Fprintf(w, "  Birth: %dus  Checksum: %08x  Segments: %d\n", s.BirthTime, s.Checksum, s.SegmentCount)
	if s.Name != "" {
		fmt.Fprintf(w, "  Name: %s\n", s.Name)
	}
	if s.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", s.Reason)
	}
}

func formatRole(w io.Writer, r *log.RoleEvent) {
	fmt.Fprintf(w, "  Role: %s  Zone: %s  Peer: %s\n", r.Role, r.Zone, r.PeerID)
	if r.TiebreakUsed {
		fmt.Fprintln(w, "  Tiebreak: identifier")
	}
	if r.Failover {
		fmt.Fprintln(w, "  Failover: yes")
	}
}

func formatStateChange(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity)
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatError(w io.Writer, e *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", e.Layer)
	fmt.Fprintf(w, "  Message: %s\n", e.Message)
	if e.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", e.Context)
	}
}
