package commands

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/duosync/duosync-go/pkg/log"
)

// RunExport writes the events of path to output in format.
// An empty output writes to stdout.
func RunExport(path, format, output string) error {
	var export func(*log.Reader, io.Writer) error
	switch format {
	case "jsonl":
		export = exportJSONL
	case "csv":
		export = exportCSV
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}

	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	return export(reader, w)
}

// jsonEvent is the export view of an event. Message payloads are left out
// because their decoded form has no JSON representation.
type jsonEvent struct {
	Timestamp    string                `json:"timestamp"`
	ConnectionID string                `json:"connection_id,omitempty"`
	Direction    string                `json:"direction"`
	Layer        string                `json:"layer"`
	Category     string                `json:"category"`
	Role         string                `json:"role"`
	DeviceID     string                `json:"device_id,omitempty"`
	PeerID       string                `json:"peer_id,omitempty"`
	Zone         string                `json:"zone,omitempty"`
	Type         string                `json:"type"`
	Sequence     uint32                `json:"sequence,omitempty"`
	Sync         *log.SyncEvent        `json:"sync,omitempty"`
	Sheet        *log.SheetEvent       `json:"sheet,omitempty"`
	RoleChange   *log.RoleEvent        `json:"role_change,omitempty"`
	StateChange  *log.StateChangeEvent `json:"state_change,omitempty"`
	Error        *log.ErrorEventData   `json:"error,omitempty"`
}

func toJSON(e log.Event) jsonEvent {
	out := jsonEvent{
		Timestamp:    e.Timestamp.UTC().Format(timeLayout),
		ConnectionID: e.ConnectionID,
		Direction:    e.Direction.String(),
		Layer:        e.Layer.String(),
		Category:     e.Category.String(),
		Role:         e.LocalRole.String(),
		DeviceID:     e.DeviceID,
		PeerID:       e.PeerID,
		Zone:         e.Zone,
		Type:         eventLabel(e),
		Sync:         e.Sync,
		Sheet:        e.Sheet,
		RoleChange:   e.RoleChange,
		StateChange:  e.StateChange,
		Error:        e.Error,
	}
	if e.Message != nil {
		out.Sequence = e.Message.Sequence
	}
	return out
}

func exportJSONL(reader *log.Reader, w io.Writer) error {
	enc := json.NewEncoder(w)
	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := enc.Encode(toJSON(event)); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
}

func exportCSV(reader *log.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"timestamp", "connection_id", "direction", "layer", "category", "role", "peer_id", "zone", "type", "sequence", "offset_us", "quality"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return cw.Error()
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		var seq, offset, quality string
		switch {
		case event.Sync != nil:
			seq = strconv.FormatUint(uint64(event.Sync.Sequence), 10)
			offset = strconv.FormatInt(event.Sync.FilteredOffsetUs, 10)
			quality = strconv.Itoa(int(event.Sync.Quality))
		case event.Message != nil && event.Message.Sequence != 0:
			seq = strconv.FormatUint(uint64(event.Message.Sequence), 10)
		}

		row := []string{
			event.Timestamp.UTC().Format(timeLayout),
			event.ConnectionID,
			event.Direction.String(),
			event.Layer.String(),
			event.Category.String(),
			event.LocalRole.String(),
			event.PeerID,
			event.Zone,
			eventLabel(event),
			seq,
			offset,
			quality,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
}
