package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/duosync/duosync-go/pkg/clock"
	"github.com/duosync/duosync-go/pkg/connection"
	"github.com/duosync/duosync-go/pkg/discovery"
	dlog "github.com/duosync/duosync-go/pkg/log"
	"github.com/duosync/duosync-go/pkg/persistence"
	"github.com/duosync/duosync-go/pkg/service"
	"github.com/duosync/duosync-go/pkg/transport"
	"github.com/duosync/duosync-go/pkg/version"
)

// linkIdleTimeout closes a stream link that carries nothing, not even a
// sync beacon, for this long.
const linkIdleTimeout = 15 * time.Second

// network runs one device on TCP. It always accepts incoming links and
// dials the peer when one is configured or discovered.
type network struct {
	cfg    Config
	svc    *service.DeviceService
	src    clock.Source
	logger *slog.Logger
	plog   dlog.Logger

	// key seals payloads when a secret is configured.
	key []byte
}

func newNetwork(cfg Config, svc *service.DeviceService, src clock.Source, logger *slog.Logger, plog dlog.Logger) (*network, error) {
	n := &network{cfg: cfg, svc: svc, src: src, logger: logger, plog: plog}
	if cfg.Secret != "" {
		key, err := transport.DeriveLinkKey([]byte(cfg.Secret), cfg.PairID)
		if err != nil {
			return nil, err
		}
		n.key = key
	}
	return n, nil
}

func (n *network) streamConfig() transport.StreamConfig {
	return transport.StreamConfig{
		Clock:          n.src,
		IdleTimeout:    linkIdleTimeout,
		WriteTimeout:   time.Second,
		Logger:         n.logger,
		ProtocolLogger: n.plog,
	}
}

// wrap seals link when a key is configured.
func (n *network) wrap(link transport.Link) (transport.Link, error) {
	if n.key == nil {
		return link, nil
	}
	sl, err := transport.NewSecureLink(link, n.key, n.logger)
	if err != nil {
		return nil, err
	}
	return sl, nil
}

func (n *network) acceptLoop(ctx context.Context, ln *transport.Listener) {
	for {
		sl, err := ln.Accept(nil)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			n.logger.Warn("accept failed", "error", err)
			continue
		}
		n.logger.Info("incoming link", "remote", sl.RemoteAddr())

		link, err := n.wrap(sl)
		if err != nil {
			n.logger.Error("securing link", "error", err)
			_ = sl.Close()
			continue
		}
		if err := n.svc.Attach(link); err != nil {
			n.logger.Warn("attach failed", "error", err)
			_ = link.Close()
		}
	}
}

// dial returns a DialFunc for addr. An empty addr is resolved by browsing
// on every attempt, so a peer that moves is found again.
func (n *network) dial(addr string, browser *discovery.Browser) connection.DialFunc {
	return func(ctx context.Context) (transport.Link, error) {
		target := addr
		if target == "" {
			p, err := browser.Find(ctx)
			if err != nil {
				return nil, err
			}
			target = p.Addr()
		}
		sl, err := transport.Dial(ctx, target, n.streamConfig())
		if err != nil {
			return nil, err
		}
		link, err := n.wrap(sl)
		if err != nil {
			_ = sl.Close()
			return nil, err
		}
		return link, nil
	}
}

// shouldDial reports whether this device dials a discovered peer. The
// device with the smaller ID dials so the pair does not build two links.
func shouldDial(self, peer string) bool {
	return self < peer
}

func (n *network) runDialer(ctx context.Context, browser *discovery.Browser) {
	addr := n.cfg.Peer
	if addr == "" {
		p, err := browser.Find(ctx)
		if err != nil {
			n.logger.Info("no peer discovered; waiting for it to dial", "error", err)
			return
		}
		if !shouldDial(n.svc.DeviceID(), p.DeviceID) {
			n.logger.Info("peer discovered; waiting for it to dial", "peer", p.DeviceID, "addr", p.Addr())
			return
		}
		n.logger.Info("peer discovered", "peer", p.DeviceID, "addr", p.Addr())
	}

	m := connection.NewManager(n.dial(addr, browser), connection.Config{Logger: n.logger})
	m.OnReconnecting(func(attempt int, delay time.Duration) {
		n.logger.Info("reconnecting", "attempt", attempt, "delay", delay)
	})
	n.svc.UseManager(m)
	if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		n.logger.Warn("connection manager stopped", "error", err)
	}
}

func (n *network) advertise(port int) (*discovery.Advertiser, error) {
	mode, _, err := n.cfg.ZoneSetting()
	if err != nil {
		return nil, err
	}
	adv := discovery.NewAdvertiser(discovery.AdvertiserConfig{Logger: n.logger})
	err = adv.Advertise(&discovery.Info{
		DeviceID:    n.svc.DeviceID(),
		Name:        n.cfg.Name,
		PowerBudget: n.cfg.PowerBudget,
		ZoneMode:    mode,
		PairID:      n.cfg.PairID,
		Version:     version.MustParse(version.Current),
		Port:        uint16(port),
	})
	if err != nil {
		return nil, fmt.Errorf("advertise: %w", err)
	}
	return adv, nil
}

func runNetwork(ctx context.Context, cancel context.CancelFunc, cfg Config, opts options, logger *slog.Logger, plog dlog.Logger, out *switchWriter) error {
	src := clock.NewMonotonic(nil)
	act := newLogActuator(logger)

	sc, err := serviceConfig(cfg, src, act, logger, plog)
	if err != nil {
		return err
	}
	if cfg.StateFile != "" {
		store, err := persistence.Open(cfg.StateFile)
		if err != nil {
			return err
		}
		defer store.Close()
		sc.Store = store
	} else if sc.DeviceID == "" {
		sc.DeviceID = uuid.NewString()
	}

	svc, err := service.NewDeviceService(sc)
	if err != nil {
		return err
	}
	svc.OnEvent(logEvents(logger))
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := svc.Stop(); err != nil {
			logger.Warn("stopping device", "error", err)
		}
	}()
	logger.Info("device started", "id", svc.DeviceID(), "power_budget", cfg.PowerBudget, "zone", cfg.Zone)

	n, err := newNetwork(cfg, svc, src, logger, plog)
	if err != nil {
		return err
	}

	if cfg.Listen != "" {
		ln, err := transport.Listen(cfg.Listen, n.streamConfig())
		if err != nil {
			return err
		}
		defer ln.Close()
		go n.acceptLoop(ctx, ln)
		logger.Info("listening", "addr", ln.Addr())

		if cfg.Discover {
			port := ln.Addr().(*net.TCPAddr).Port
			adv, err := n.advertise(port)
			if err != nil {
				return err
			}
			defer adv.Stop()
		}
	}

	var browser *discovery.Browser
	if cfg.Discover {
		browser = discovery.NewBrowser(discovery.BrowserConfig{
			SelfID: svc.DeviceID(),
			PairID: cfg.PairID,
			Logger: logger,
		})
	}
	if cfg.Peer != "" || browser != nil {
		go n.runDialer(ctx, browser)
	}

	initialSheet(svc, cfg, logger)

	if opts.Interactive {
		return startShell(ctx, cancel, svc, nil, out)
	}
	<-ctx.Done()
	return nil
}
