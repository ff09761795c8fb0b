// Package interactive provides the command shell of duo-device.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/duosync/duosync-go/pkg/playback"
	"github.com/duosync/duosync-go/pkg/service"
	"github.com/duosync/duosync-go/pkg/sheet"
)

// LinkControl can take a simulated link down and up again.
type LinkControl interface {
	Partition(down bool)
}

// Device is the interactive shell for one device service.
type Device struct {
	svc  *service.DeviceService
	link LinkControl
	rl   *readline.Instance
	out  io.Writer

	// loadSheet reads a sheet definition file.
	loadSheet func(path string) (*sheet.Sheet, error)
}

// New creates a shell for svc. link may be nil when the device runs on a
// real network.
func New(svc *service.DeviceService, link LinkControl) (*Device, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("duo[%s]> ", shortID(svc.DeviceID())),
		AutoComplete:    completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	d := newDevice(svc, link, rl.Stdout())
	d.rl = rl
	return d, nil
}

func newDevice(svc *service.DeviceService, link LinkControl, out io.Writer) *Device {
	d := &Device{
		svc:       svc,
		link:      link,
		out:       out,
		loadSheet: sheet.LoadYAMLFile,
	}
	svc.OnEvent(d.handleEvent)
	return d
}

func completer() *readline.PrefixCompleter {
	patterns := func(string) []string { return sheet.BuiltinNames() }
	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("status"),
		readline.PcItem("sync"),
		readline.PcItem("sheet"),
		readline.PcItem("patterns"),
		readline.PcItem("pattern", readline.PcItemDynamic(patterns)),
		readline.PcItem("load"),
		readline.PcItem("play"),
		readline.PcItem("pause"),
		readline.PcItem("resume"),
		readline.PcItem("stop"),
		readline.PcItem("partition", readline.PcItem("on"), readline.PcItem("off")),
		readline.PcItem("quit"),
	)
}

// Stdout returns a writer that does not disturb the prompt. Route log
// output through it.
func (d *Device) Stdout() io.Writer {
	return d.rl.Stdout()
}

// Stderr returns the prompt-safe error writer.
func (d *Device) Stderr() io.Writer {
	return d.rl.Stderr()
}

// Run reads commands until quit, EOF or ctx is done. cancel is called
// when the user quits.
func (d *Device) Run(ctx context.Context, cancel context.CancelFunc) {
	defer d.rl.Close()

	d.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := d.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(d.out, "Exiting...")
			cancel()
			return
		}
		if d.Execute(line) {
			cancel()
			return
		}
	}
}

// Execute runs one command line and reports whether the user asked to quit.
func (d *Device) Execute(line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		d.printHelp()
	case "status", "s":
		d.cmdStatus()
	case "sync":
		d.cmdSync()
	case "sheet":
		d.cmdSheet()
	case "patterns":
		fmt.Fprintln(d.out, strings.Join(sheet.BuiltinNames(), " "))
	case "pattern", "p":
		d.cmdPattern(args)
	case "load":
		d.cmdLoad(args)
	case "play":
		d.svc.Playback().Start()
	case "pause":
		d.svc.Playback().Pause()
	case "resume":
		if err := d.svc.Playback().Resume(); err != nil {
			fmt.Fprintf(d.out, "Error: %v\n", err)
		}
	case "stop":
		d.svc.Playback().Stop()
	case "partition":
		d.cmdPartition(args)
	case "quit", "exit", "q":
		fmt.Fprintln(d.out, "Exiting...")
		return true
	default:
		fmt.Fprintf(d.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (d *Device) printHelp() {
	fmt.Fprintln(d.out, `
duosync Device Commands:
  Inspection:
    status             - Link, role, zone, phase and playback summary
    sync               - Sync filter state
    sheet              - Active sheet

  Patterns:
    patterns           - List built-in patterns
    pattern <name>     - Switch both devices to a built-in pattern
    load <file.yaml>   - Switch both devices to a sheet from a file

  Playback:
    play | pause | resume | stop

  Simulation:
    partition on|off   - Take the simulated link down or up

  General:
    help               - Show this help
    quit               - Exit`)
}

func (d *Device) cmdStatus() {
	diag := d.svc.Diagnostics()

	fmt.Fprintf(d.out, "Device:    %s (%s)\n", diag.DeviceID, diag.State)
	if diag.Connected {
		fmt.Fprintf(d.out, "Peer:      %s (protocol %s, conn %s)\n", diag.PeerID, diag.ProtocolVersion, shortID(diag.ConnectionID))
	} else {
		fmt.Fprintf(d.out, "Peer:      none (down %s)\n", diag.Disconnected.Round(time.Second))
	}
	zone := "unresolved"
	if diag.HasZone {
		zone = diag.Zone.String()
	}
	fmt.Fprintf(d.out, "Role:      %s  Zone: %s", diag.Role, zone)
	if diag.TiebreakUsed {
		fmt.Fprint(d.out, "  (tiebreak)")
	}
	fmt.Fprintln(d.out)
	fmt.Fprintf(d.out, "Phase:     %s\n", diag.Phase)
	fmt.Fprintf(d.out, "Sync:      quality %d, offset %s, confident %v\n", diag.Quality, diag.FilteredOffset, diag.Confident)
	fmt.Fprintf(d.out, "Playback:  %s\n", formatPlayback(diag.Playback))
	if diag.Corrupted {
		fmt.Fprintln(d.out, "Sheet:     CORRUPTED, playback blocked")
	}
}

func formatPlayback(st playback.Status) string {
	if st.State != playback.StatePlaying {
		return st.State.String()
	}
	if !st.Position.Started {
		return "waiting for epoch"
	}
	return fmt.Sprintf("loop %d, %s, segment %d, motor %d%%, brightness %d%%, color %d",
		st.Loops, st.Position.Offset, st.Position.Segment,
		st.Output.Motor, st.Output.Brightness, st.Output.Color)
}

func (d *Device) cmdSync() {
	snap := d.svc.Sync().Snapshot()

	fmt.Fprintf(d.out, "Role:        %s (connected %v)\n", snap.Role, snap.Connected)
	fmt.Fprintf(d.out, "Offset:      %s (correction %s)\n", snap.FilteredOffset, snap.Correction)
	fmt.Fprintf(d.out, "Delay:       %s\n", snap.Delay)
	fmt.Fprintf(d.out, "Drift:       %.2f us/s\n", snap.DriftRate)
	fmt.Fprintf(d.out, "Quality:     %d\n", snap.Quality)
	fmt.Fprintf(d.out, "Interval:    %s\n", snap.Interval)
	fmt.Fprintf(d.out, "Samples:     %d accepted, %d rejected, %d lost\n", snap.Samples, snap.Rejected, snap.Lost)
	if snap.Degraded {
		fmt.Fprintln(d.out, "Starved:     yes")
	}
}

func (d *Device) cmdSheet() {
	s := d.svc.Sheets().Active()
	if s == nil {
		fmt.Fprintln(d.out, "No active sheet")
		return
	}
	fmt.Fprintf(d.out, "Name:      %s (%s)\n", s.Name, s.Class)
	fmt.Fprintf(d.out, "Birth:     %s\n", s.BirthTime)
	fmt.Fprintf(d.out, "Epoch:     %s\n", s.Epoch())
	fmt.Fprintf(d.out, "Checksum:  %08x\n", s.Checksum)
	fmt.Fprintf(d.out, "Period:    %s, looping %v\n", s.LoopPoint, s.Looping)
	fmt.Fprintf(d.out, "Segments:  %d x %d zones\n", s.SegmentCount(), s.ZoneCount)
}

func (d *Device) cmdPattern(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(d.out, "Usage: pattern <name>")
		return
	}
	h, err := d.svc.SelectPattern(args[0])
	if err != nil {
		fmt.Fprintf(d.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(d.out, "Pattern %s active (birth %s)\n", args[0], h.BirthTime)
}

func (d *Device) cmdLoad(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(d.out, "Usage: load <file.yaml>")
		return
	}
	s, err := d.loadSheet(args[0])
	if err != nil {
		fmt.Fprintf(d.out, "Error: %v\n", err)
		return
	}
	h, err := d.svc.ChangeSheet(s)
	if err != nil {
		fmt.Fprintf(d.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(d.out, "Sheet %s active (birth %s)\n", s.Name, h.BirthTime)
}

func (d *Device) cmdPartition(args []string) {
	if d.link == nil {
		fmt.Fprintln(d.out, "partition is only available in simulation mode")
		return
	}
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		fmt.Fprintln(d.out, "Usage: partition on|off")
		return
	}
	d.link.Partition(args[0] == "on")
	fmt.Fprintf(d.out, "Link partition %s\n", args[0])
}

func (d *Device) handleEvent(e service.Event) {
	switch e.Type {
	case service.EventConnected:
		fmt.Fprintf(d.out, "[EVENT] connected to %s as %s, zone %s\n", e.PeerID, e.Assignment.Role, e.Assignment.Zone)
	case service.EventDisconnected:
		fmt.Fprintf(d.out, "[EVENT] peer %s disconnected\n", e.PeerID)
	case service.EventSheetChanged:
		fmt.Fprintf(d.out, "[EVENT] sheet changed (birth %s, checksum %08x)\n", e.Sheet.BirthTime, e.Sheet.Checksum)
	case service.EventSheetCorruption:
		fmt.Fprintf(d.out, "[EVENT] SHEET CORRUPTION at birth %s: %v\n", e.Sheet.BirthTime, e.Error)
	case service.EventCorruptionCleared:
		fmt.Fprintln(d.out, "[EVENT] sheet corruption cleared")
	case service.EventSyncStarvation:
		fmt.Fprintf(d.out, "[EVENT] SYNC STARVATION: %v\n", e.Error)
	case service.EventPhaseChanged:
		fmt.Fprintf(d.out, "[EVENT] fallback phase %s\n", e.Phase)
	case service.EventFailover:
		fmt.Fprintf(d.out, "[EVENT] failover: now %s in zone %s\n", e.Assignment.Role, e.Assignment.Zone)
	case service.EventIncompatiblePeer:
		fmt.Fprintf(d.out, "[EVENT] rejected peer %s: %v\n", e.PeerID, e.Error)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
