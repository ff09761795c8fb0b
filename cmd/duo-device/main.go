// Command duo-device runs a duosync device.
//
// A device negotiates its timing role with one peer, synchronizes its clock,
// and plays the shared sheet for its zone. Outputs are logged at debug level.
//
// Usage:
//
//	duo-device [flags]
//
// Flags:
//
//	-config string         YAML configuration file
//	-id string             Device ID (stored ID or a new UUID when empty)
//	-power-budget uint     Power budget used for role negotiation (default 50)
//	-zone string           Zone: auto, left, right (default "auto")
//	-listen string         Listen address (default ":47400")
//	-peer string           Peer address to dial
//	-discover              Find the peer with mDNS
//	-pair-id string        Pair identifier for discovery and link keys
//	-secret string         Shared secret; enables payload sealing
//	-state string          State file (bbolt)
//	-protocol-log string   Protocol log file (.dlog)
//	-log-level string      Log level: debug, info, warn, error (default "info")
//	-pattern string        Built-in pattern to start with
//	-sheet string          Sheet file (YAML) to start with
//	-simulate              Run two devices in-process over a simulated link
//	-interactive           Start the command shell
//
// Examples:
//
//	# Two devices on one machine
//	duo-device -listen :47400 -power-budget 80 -state a.db
//	duo-device -listen :47401 -peer localhost:47400 -state b.db
//
//	# Simulated pair with a lossy link and an interactive shell
//	duo-device -simulate -loss 0.05 -drift-ppm 40 -interactive
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/duosync/duosync-go/cmd/duo-device/interactive"
	"github.com/duosync/duosync-go/pkg/clock"
	dlog "github.com/duosync/duosync-go/pkg/log"
	"github.com/duosync/duosync-go/pkg/service"
	"github.com/duosync/duosync-go/pkg/sheet"
)

// options are the flags that are not part of Config.
type options struct {
	ConfigFile  string
	Interactive bool
}

// uint16Value is a flag.Value for uint16 fields.
type uint16Value struct{ p *uint16 }

func (v uint16Value) String() string {
	if v.p == nil {
		return "0"
	}
	return strconv.FormatUint(uint64(*v.p), 10)
}

func (v uint16Value) Set(s string) error {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return err
	}
	*v.p = uint16(n)
	return nil
}

func newFlagSet(cfg *Config, opts *options) *flag.FlagSet {
	fs := flag.NewFlagSet("duo-device", flag.ContinueOnError)

	fs.StringVar(&opts.ConfigFile, "config", "", "YAML configuration file")
	fs.BoolVar(&opts.Interactive, "interactive", false, "Start the command shell")

	fs.StringVar(&cfg.DeviceID, "id", cfg.DeviceID, "Device ID (stored ID or a new UUID when empty)")
	fs.StringVar(&cfg.Name, "name", cfg.Name, "Human readable device name")
	fs.Var(uint16Value{&cfg.PowerBudget}, "power-budget", "Power budget used for role negotiation")
	fs.StringVar(&cfg.Zone, "zone", cfg.Zone, "Zone: auto, left, right")
	fs.StringVar(&cfg.Listen, "listen", cfg.Listen, "Listen address")
	fs.StringVar(&cfg.Peer, "peer", cfg.Peer, "Peer address to dial")
	fs.BoolVar(&cfg.Discover, "discover", cfg.Discover, "Find the peer with mDNS")
	fs.StringVar(&cfg.PairID, "pair-id", cfg.PairID, "Pair identifier for discovery and link keys")
	fs.StringVar(&cfg.Secret, "secret", cfg.Secret, "Shared secret; enables payload sealing")
	fs.StringVar(&cfg.StateFile, "state", cfg.StateFile, "State file (bbolt)")
	fs.StringVar(&cfg.ProtocolLog, "protocol-log", cfg.ProtocolLog, "Protocol log file (.dlog)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.Pattern, "pattern", cfg.Pattern, "Built-in pattern to start with")
	fs.StringVar(&cfg.SheetFile, "sheet", cfg.SheetFile, "Sheet file (YAML) to start with")
	fs.DurationVar(&cfg.SurvivorTimeout, "survivor-timeout", cfg.SurvivorTimeout, "Time without the peer before failover")
	fs.BoolVar(&cfg.Failover, "failover", cfg.Failover, "Allow a Secondary to become Primary when the peer is gone")
	fs.BoolVar(&cfg.StrictVersioning, "strict-versioning", cfg.StrictVersioning, "Later sheet always wins, without the role tiebreak window")

	fs.BoolVar(&cfg.Simulation.Enabled, "simulate", cfg.Simulation.Enabled, "Run two devices in-process over a simulated link")
	fs.DurationVar(&cfg.Simulation.Latency, "latency", cfg.Simulation.Latency, "Simulated one-way latency")
	fs.DurationVar(&cfg.Simulation.Jitter, "jitter", cfg.Simulation.Jitter, "Simulated latency jitter")
	fs.Float64Var(&cfg.Simulation.Loss, "loss", cfg.Simulation.Loss, "Simulated loss probability")
	fs.Float64Var(&cfg.Simulation.DriftPPM, "drift-ppm", cfg.Simulation.DriftPPM, "Simulated clock drift of the second device")
	fs.DurationVar(&cfg.Simulation.Offset, "offset", cfg.Simulation.Offset, "Simulated clock offset of the second device")

	return fs
}

// parseArgs builds the configuration from defaults, the -config file and
// the command line, in that order of precedence.
func parseArgs(args []string) (Config, options, error) {
	cfg := DefaultConfig()
	var opts options

	fs := newFlagSet(&cfg, &opts)
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		return cfg, opts, err
	}

	if opts.ConfigFile != "" {
		set := make(map[string]string)
		fs.Visit(func(f *flag.Flag) { set[f.Name] = f.Value.String() })

		cfg = DefaultConfig()
		if err := LoadConfigFile(opts.ConfigFile, &cfg); err != nil {
			return cfg, opts, err
		}
		// Flags bind to cfg, so re-applying them overrides the file.
		for name, value := range set {
			if err := fs.Set(name, value); err != nil {
				return cfg, opts, fmt.Errorf("flag -%s: %w", name, err)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, opts, err
	}
	return cfg, opts, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// protocolLogger opens the capture file. Debug logging also mirrors
// protocol events to the operational log.
func protocolLogger(path string, logger *slog.Logger, level slog.Level) (dlog.Logger, func(), error) {
	var sinks []dlog.Logger
	closeFn := func() {}

	if path != "" {
		fl, err := dlog.NewFileLogger(path)
		if err != nil {
			return nil, nil, fmt.Errorf("protocol log: %w", err)
		}
		sinks = append(sinks, fl)
		closeFn = func() {
			if err := fl.Close(); err != nil {
				logger.Warn("closing protocol log", "error", err)
			}
		}
	}
	if level <= slog.LevelDebug {
		sinks = append(sinks, dlog.NewSlogAdapter(logger))
	}

	switch len(sinks) {
	case 0:
		return nil, closeFn, nil
	case 1:
		return sinks[0], closeFn, nil
	default:
		return dlog.NewMultiLogger(sinks...), closeFn, nil
	}
}

// serviceConfig maps the device configuration onto a service configuration.
func serviceConfig(cfg Config, src clock.Source, act *logActuator, logger *slog.Logger, plog dlog.Logger) (service.Config, error) {
	mode, z, err := cfg.ZoneSetting()
	if err != nil {
		return service.Config{}, err
	}
	sc := service.DefaultConfig()
	sc.DeviceID = cfg.DeviceID
	sc.PowerBudget = cfg.PowerBudget
	sc.ZoneMode = mode
	sc.Zone = z
	sc.Clock = src
	sc.SurvivorTimeout = cfg.SurvivorTimeout
	sc.Failover = cfg.Failover
	sc.StrictVersioning = cfg.StrictVersioning
	sc.Actuator = act
	sc.Logger = logger
	sc.ProtocolLogger = plog
	return sc, nil
}

// initialSheet applies -pattern or -sheet once the service runs.
func initialSheet(svc *service.DeviceService, cfg Config, logger *slog.Logger) {
	var (
		h   sheet.Header
		err error
	)
	switch {
	case cfg.Pattern != "":
		h, err = svc.SelectPattern(cfg.Pattern)
	case cfg.SheetFile != "":
		var sh *sheet.Sheet
		if sh, err = sheet.LoadYAMLFile(cfg.SheetFile); err == nil {
			h, err = svc.ChangeSheet(sh)
		}
	default:
		return
	}
	if err != nil {
		logger.Error("initial sheet rejected", "error", err)
		return
	}
	logger.Info("initial sheet active", "birth", h.BirthTime, "checksum", fmt.Sprintf("%08x", h.Checksum))
}

func logEvents(logger *slog.Logger) service.EventHandler {
	return func(e service.Event) {
		switch e.Type {
		case service.EventConnected:
			logger.Info("[EVENT] connected", "peer", e.PeerID, "role", e.Assignment.Role, "zone", e.Assignment.Zone)
		case service.EventDisconnected:
			logger.Info("[EVENT] disconnected", "peer", e.PeerID)
		case service.EventSheetCorruption:
			logger.Error("[EVENT] sheet corruption", "birth", e.Sheet.BirthTime, "error", e.Error)
		case service.EventCorruptionCleared:
			logger.Info("[EVENT] sheet corruption cleared")
		case service.EventSyncStarvation:
			logger.Warn("[EVENT] sync starvation", "error", e.Error)
		case service.EventFailover:
			logger.Warn("[EVENT] failover", "role", e.Assignment.Role, "zone", e.Assignment.Zone)
		case service.EventIncompatiblePeer:
			logger.Warn("[EVENT] incompatible peer", "peer", e.PeerID, "error", e.Error)
		}
	}
}

// startShell runs the interactive shell for svc until the user quits. Log
// output moves to the shell's prompt-safe writer while it runs.
func startShell(ctx context.Context, cancel context.CancelFunc, svc *service.DeviceService, link interactive.LinkControl, out *switchWriter) error {
	dev, err := interactive.New(svc, link)
	if err != nil {
		return err
	}
	prev := out.Set(dev.Stdout())
	defer out.Set(prev)

	dev.Run(ctx, cancel)
	return nil
}

func run(ctx context.Context, args []string) error {
	cfg, opts, err := parseArgs(args)
	if err != nil {
		return err
	}

	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	out := newSwitchWriter(os.Stderr)
	logger := newLogger(out, level)
	slog.SetDefault(logger)

	plog, closeLog, err := protocolLogger(cfg.ProtocolLog, logger, level)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Simulation.Enabled {
		return runSimulation(ctx, cancel, cfg, opts, logger, plog, out)
	}
	return runNetwork(ctx, cancel, cfg, opts, logger, plog, out)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			cfg := DefaultConfig()
			fs := newFlagSet(&cfg, new(options))
			fs.SetOutput(os.Stdout)
			fs.PrintDefaults()
			return
		}
		fmt.Fprintf(os.Stderr, "duo-device: %v\n", err)
		os.Exit(1)
	}
}
