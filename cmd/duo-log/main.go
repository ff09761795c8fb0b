// Command duo-log views and analyzes duosync protocol capture files.
//
// Capture files are written by duo-device when started with -protocol-log.
//
// Usage:
//
//	duo-log <command> [flags] <file.dlog>
//
// Commands:
//
//	view     View captured events in human-readable form
//	export   Export events as JSON lines or CSV
//	filter   Write matching events to a new capture file
//	stats    Summarize sync quality, sheet activity and errors
//
// Examples:
//
//	# View sync exchanges only
//	duo-log view -category sync left.dlog
//
//	# View traffic of one link
//	duo-log view -conn-id 3f2a91c0 left.dlog
//
//	# Export to CSV
//	duo-log export -format csv -o left.csv left.dlog
//
//	# Show statistics
//	duo-log stats left.dlog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/duosync/duosync-go/cmd/duo-log/commands"
)

const usage = `duo-log - duosync protocol capture analyzer

Usage:
  duo-log <command> [flags] <file.dlog>

Commands:
  view     View captured events in human-readable form
  export   Export events as JSON lines or CSV
  filter   Write matching events to a new capture file
  stats    Summarize sync quality, sheet activity and errors

Use "duo-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

// selection registers the event selection flags shared by view and filter.
type selection struct {
	connID    *string
	peerID    *string
	zone      *string
	since     *string
	until     *string
	layer     *string
	direction *string
	category  *string
}

func addSelectionFlags(fs *flag.FlagSet) selection {
	return selection{
		connID:    fs.String("conn-id", "", "Filter by connection ID"),
		peerID:    fs.String("peer-id", "", "Filter by peer device ID"),
		zone:      fs.String("zone", "", "Filter by zone (LEFT, RIGHT)"),
		since:     fs.String("since", "", "Only events at or after this time (RFC3339)"),
		until:     fs.String("until", "", "Only events before this time (RFC3339)"),
		layer:     fs.String("layer", "", "Filter by layer (transport, wire, sync, sheet, playback, service)"),
		direction: fs.String("direction", "", "Filter by direction (in, out, none)"),
		category:  fs.String("category", "", "Filter by category (message, sync, sheet, role, state, error)"),
	}
}

func (s selection) options() commands.FilterOptions {
	return commands.FilterOptions{
		ConnID:    *s.connID,
		PeerID:    *s.peerID,
		Zone:      *s.zone,
		Since:     *s.since,
		Until:     *s.until,
		Layer:     *s.layer,
		Direction: *s.direction,
		Category:  *s.category,
	}
}

func parsePath(fs *flag.FlagSet, args []string) string {
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: log file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `duo-log view - View captured events in human-readable form

Usage:
  duo-log view [flags] <file.dlog>

Flags:
`)
		fs.PrintDefaults()
	}
	sel := addSelectionFlags(fs)
	path := parsePath(fs, args)

	filter, err := sel.options().Build()
	if err != nil {
		fail(err)
	}
	if err := commands.RunView(path, filter, os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `duo-log export - Export events as JSON lines or CSV

Usage:
  duo-log export [flags] <file.dlog>

Flags:
`)
		fs.PrintDefaults()
	}
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")
	path := parsePath(fs, args)

	if err := commands.RunExport(path, *format, *output); err != nil {
		fail(err)
	}
}

func runFilter(args []string) {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `duo-log filter - Write matching events to a new capture file

Usage:
  duo-log filter -o <out.dlog> [flags] <file.dlog>

Flags:
`)
		fs.PrintDefaults()
	}
	output := fs.String("o", "", "Output file (required)")
	sel := addSelectionFlags(fs)
	path := parsePath(fs, args)

	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	n, err := commands.RunFilter(path, *output, sel.options())
	if err != nil {
		fail(err)
	}
	fmt.Printf("Filtered %d events to %s\n", n, *output)
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `duo-log stats - Summarize a capture file

Usage:
  duo-log stats <file.dlog>

`)
	}
	path := parsePath(fs, args)

	if err := commands.RunStats(path, os.Stdout); err != nil {
		fail(err)
	}
}
