package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/duosync/duosync-go/pkg/clock"
	dlog "github.com/duosync/duosync-go/pkg/log"
	"github.com/duosync/duosync-go/pkg/service"
	"github.com/duosync/duosync-go/pkg/transport"
)

// simPair is two devices joined by an in-memory link. Device B runs on a
// clock with the configured offset and drift.
type simPair struct {
	a, b         *service.DeviceService
	linkA, linkB *transport.Loopback
}

func newSimPair(cfg Config, timers clockwork.Clock, logger *slog.Logger, plog dlog.Logger) (*simPair, error) {
	base := clock.NewMonotonic(timers)
	drifting := clock.NewDrifting(base, clock.FromDuration(cfg.Simulation.Offset), cfg.Simulation.DriftPPM)

	newDevice := func(id string, budget uint16, src clock.Source) (*service.DeviceService, error) {
		devCfg := cfg
		devCfg.DeviceID = id
		devCfg.PowerBudget = budget
		devLogger := logger.With("device", id)

		sc, err := serviceConfig(devCfg, src, newLogActuator(devLogger), devLogger, plog)
		if err != nil {
			return nil, err
		}
		sc.Timers = timers
		return service.NewDeviceService(sc)
	}

	idA, idB := cfg.DeviceID, cfg.DeviceID
	if idA == "" {
		idA, idB = "sim-a", "sim-b"
	} else {
		idA, idB = idA+"-a", idB+"-b"
	}

	a, err := newDevice(idA, cfg.PowerBudget, base)
	if err != nil {
		return nil, fmt.Errorf("device A: %w", err)
	}
	// B has the smaller budget and becomes the Secondary.
	budgetB := cfg.PowerBudget / 2
	b, err := newDevice(idB, budgetB, drifting)
	if err != nil {
		return nil, fmt.Errorf("device B: %w", err)
	}

	linkA, linkB := transport.NewLoopbackPair(transport.LoopbackConfig{
		Latency: cfg.Simulation.Latency,
		Jitter:  cfg.Simulation.Jitter,
		Loss:    cfg.Simulation.Loss,
		Timers:  timers,
	}, base, drifting)

	return &simPair{a: a, b: b, linkA: linkA, linkB: linkB}, nil
}

func (p *simPair) start(ctx context.Context) error {
	for _, svc := range []*service.DeviceService{p.a, p.b} {
		if err := svc.Start(ctx); err != nil {
			return err
		}
	}
	if err := p.a.Attach(p.linkA); err != nil {
		return err
	}
	return p.b.Attach(p.linkB)
}

func (p *simPair) stop(logger *slog.Logger) {
	_ = p.linkA.Close()
	for _, svc := range []*service.DeviceService{p.a, p.b} {
		if err := svc.Stop(); err != nil {
			logger.Warn("stopping device", "device", svc.DeviceID(), "error", err)
		}
	}
	st := p.linkA.Stats()
	logger.Info("simulated link closed", "sent", st.Sent, "delivered", st.Delivered, "dropped", st.Dropped)
}

func runSimulation(ctx context.Context, cancel context.CancelFunc, cfg Config, opts options, logger *slog.Logger, plog dlog.Logger, out *switchWriter) error {
	pair, err := newSimPair(cfg, clockwork.NewRealClock(), logger, plog)
	if err != nil {
		return err
	}
	pair.a.OnEvent(logEvents(logger.With("device", pair.a.DeviceID())))
	pair.b.OnEvent(logEvents(logger.With("device", pair.b.DeviceID())))

	if err := pair.start(ctx); err != nil {
		return err
	}
	defer pair.stop(logger)

	logger.Info("simulation running",
		"latency", cfg.Simulation.Latency,
		"jitter", cfg.Simulation.Jitter,
		"loss", cfg.Simulation.Loss,
		"drift_ppm", cfg.Simulation.DriftPPM,
		"offset", cfg.Simulation.Offset)

	initialSheet(pair.a, cfg, logger)

	if opts.Interactive {
		return startShell(ctx, cancel, pair.a, pair.linkA, out)
	}
	<-ctx.Done()
	return nil
}
