package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/duosync/duosync-go/pkg/log"
)

// RunStats summarizes the capture at path.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	st, err := log.Collect(reader)
	if err != nil {
		return fmt.Errorf("failed to read event: %w", err)
	}
	printStats(w, st)
	return nil
}

func printStats(w io.Writer, st *log.Stats) {
	fmt.Fprintln(w, "=== duosync Capture Statistics ===")
	fmt.Fprintln(w)

	if st.Total > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n", st.First.Format(time.RFC3339), st.Last.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", st.Last.Sub(st.First).Round(time.Millisecond))
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "Total Events: %d\n", st.Total)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, l := range []log.Layer{log.LayerTransport, log.LayerWire, log.LayerSync, log.LayerSheet, log.LayerPlayback, log.LayerService} {
		if n := st.ByLayer[l]; n > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", l.String()+":", n)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, c := range []log.Category{log.CategoryMessage, log.CategorySync, log.CategorySheet, log.CategoryRole, log.CategoryState, log.CategoryError} {
		if n := st.ByCategory[c]; n > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", c.String()+":", n)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Direction:")
	for _, d := range []log.Direction{log.DirectionIn, log.DirectionOut, log.DirectionNone} {
		if n := st.ByDirection[d]; n > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", d.String()+":", n)
		}
	}
	fmt.Fprintln(w)

	if exchanges := st.SyncAccepted + st.SyncRejected; exchanges > 0 {
		fmt.Fprintln(w, "Sync:")
		fmt.Fprintf(w, "  Exchanges:  %d (%d rejected, %.1f%%)\n",
			exchanges, st.SyncRejected, 100*float64(st.SyncRejected)/float64(exchanges))
		fmt.Fprintf(w, "  Quality:    last %d, min %d\n", st.LastQuality, st.MinQuality)
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Connections: %d\n", len(st.ByConnection))
	ids := make([]string, 0, len(st.ByConnection))
	for id := range st.ByConnection {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(w, "  [%s] %d events\n", shortenConnID(id), st.ByConnection[id])
	}

	if st.Corruptions > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Sheet Corruptions: %d\n", st.Corruptions)
	}
	if st.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", st.Errors)
	}
}
