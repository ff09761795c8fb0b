package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/duosync/duosync-go/pkg/clock"
	"github.com/duosync/duosync-go/pkg/connection"
	"github.com/duosync/duosync-go/pkg/fallback"
	dlog "github.com/duosync/duosync-go/pkg/log"
	"github.com/duosync/duosync-go/pkg/playback"
	"github.com/duosync/duosync-go/pkg/role"
	"github.com/duosync/duosync-go/pkg/sheet"
	"github.com/duosync/duosync-go/pkg/timesync"
	"github.com/duosync/duosync-go/pkg/transport"
	"github.com/duosync/duosync-go/pkg/wire"
	"github.com/duosync/duosync-go/pkg/zone"
)

// DeviceService orchestrates one device.
type DeviceService struct {
	mu sync.RWMutex

	cfg      Config
	deviceID string
	state    ServiceState

	binding  *zone.Binding
	times    *timesync.Engine
	sheets   *sheet.Registry
	player   *playback.Engine
	resolver *role.Resolver
	monitor  *fallback.Monitor

	// session is the attached link, nil while disconnected.
	session *session

	// promoted is set after a survivor failover until the next negotiation.
	promoted bool

	eventHandlers []EventHandler

	logger *slog.Logger
	plog   dlog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	rxErrors atomic.Uint64
}

// NewDeviceService creates a device service.
func NewDeviceService(cfg Config) (*DeviceService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	svc := &DeviceService{
		cfg:    cfg,
		state:  StateIdle,
		logger: cfg.Logger,
		plog:   dlog.OrNoop(cfg.ProtocolLogger),
	}

	if err := svc.loadIdentity(); err != nil {
		return nil, err
	}

	svc.times = timesync.NewEngine(timesync.Config{
		Clock:              cfg.Clock,
		Timers:             cfg.Timers,
		Filter:             cfg.SyncFilter,
		Scheduler:          cfg.SyncScheduler,
		StarvationMultiple: cfg.StarvationMultiple,
		Logger:             cfg.Logger,
		ProtocolLogger:     cfg.ProtocolLogger,
	}, timesync.SenderFunc(svc.sendMessage))

	svc.sheets = sheet.NewRegistry(sheet.RegistryConfig{
		Uncertainty:      cfg.Uncertainty,
		StrictVersioning: cfg.StrictVersioning,
		Logger:           cfg.Logger,
		ProtocolLogger:   cfg.ProtocolLogger,
		Clock:            cfg.Timers,
	})
	svc.sheets.OnChange(svc.handleSheetChange)

	svc.resolver = role.NewResolver(role.Candidate{ID: svc.deviceID, PowerBudget: cfg.PowerBudget}, svc.binding, cfg.Logger)

	svc.player = playback.NewEngine(playback.Config{
		Tick:           cfg.PlaybackTick,
		LockTimeout:    cfg.LockTimeout,
		Clock:          cfg.Timers,
		Logger:         cfg.Logger,
		ProtocolLogger: cfg.ProtocolLogger,
	}, svc.times, svc.sheets, svc.binding, cfg.Actuator)

	svc.monitor = fallback.NewMonitor(fallback.Config{
		Phase1Duration:  cfg.Phase1Duration,
		SurvivorTimeout: cfg.SurvivorTimeout,
		Clock:           cfg.Timers,
		Logger:          cfg.Logger,
		ProtocolLogger:  cfg.ProtocolLogger,
	})
	svc.monitor.OnPhaseChange(func(_, p fallback.Phase) {
		svc.emitEvent(Event{Type: EventPhaseChanged, Phase: p.String()})
	})
	svc.monitor.OnSurvivorTimeout(svc.handleSurvivorTimeout)

	return svc, nil
}

// loadIdentity resolves the device ID and zone binding, consulting the
// store when one is configured.
func (s *DeviceService) loadIdentity() error {
	s.deviceID = s.cfg.DeviceID
	store := s.cfg.Store

	if store != nil {
		if s.deviceID == "" {
			id, err := store.DeviceID()
			if err != nil {
				return err
			}
			s.deviceID = id
		} else if err := store.SetDeviceID(s.deviceID); err != nil {
			return err
		}
	}

	if s.cfg.ZoneMode == zone.ModeManual {
		b, err := zone.NewManual(s.cfg.Zone)
		if err != nil {
			return err
		}
		s.binding = b
		return nil
	}

	// An auto zone locked in an earlier session stays locked.
	if store != nil {
		z, ok, err := store.Zone()
		if err != nil {
			return err
		}
		if ok {
			b, err := zone.NewManual(z)
			if err != nil {
				return err
			}
			s.binding = b
			s.logger.Info("restored zone", "zone", z)
			return nil
		}
	}
	s.binding = zone.NewAuto()
	return nil
}

// DeviceID returns the stable device identifier.
func (s *DeviceService) DeviceID() string {
	return s.deviceID
}

// State returns the current service state.
func (s *DeviceService) State() ServiceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Sync returns the time synchronization engine.
func (s *DeviceService) Sync() *timesync.Engine { return s.times }

// Sheets returns the sheet registry.
func (s *DeviceService) Sheets() *sheet.Registry { return s.sheets }

// Playback returns the playback engine.
func (s *DeviceService) Playback() *playback.Engine { return s.player }

// Fallback returns the disconnection monitor.
func (s *DeviceService) Fallback() *fallback.Monitor { return s.monitor }

// OnEvent registers an event handler.
func (s *DeviceService) OnEvent(handler EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventHandlers = append(s.eventHandlers, handler)
}

// Start restores the persisted sheet and starts playback. The device plays
// standalone until a link is attached.
func (s *DeviceService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.state = StateRunning
	s.mu.Unlock()

	if store := s.cfg.Store; store != nil {
		sh, err := store.LoadSheet()
		switch {
		case err != nil:
			s.logger.Warn("stored sheet discarded", "error", err)
		case sh != nil:
			if err := s.sheets.Load(sh); err != nil {
				s.logger.Warn("stored sheet rejected", "error", err)
			}
		}
	}

	s.player.Start()
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		_ = s.player.Run(s.ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.starvationLoop(s.ctx)
	}()

	// No peer yet: the survivor timer decides when to play alone.
	s.monitor.LinkLost()

	s.logger.Info("device service started",
		"device", s.deviceID,
		"power_budget", s.cfg.PowerBudget,
		"zone_mode", s.binding.Mode())
	return nil
}

// Stop closes the link, stops playback and waits for the background
// goroutines.
func (s *DeviceService) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.state = StateStopped
	sess := s.session
	s.session = nil
	s.cancel()
	s.mu.Unlock()

	if sess != nil {
		sess.close()
	}
	s.monitor.Stop()
	s.player.Stop()
	s.wg.Wait()

	s.logger.Info("device service stopped", "device", s.deviceID)
	return nil
}

// UseManager attaches every link m establishes.
func (s *DeviceService) UseManager(m *connection.Manager) {
	m.OnConnected(func(link transport.Link) {
		if err := s.Attach(link); err != nil {
			s.logger.Warn("attach failed", "error", err)
			_ = link.Close()
		}
	})
}

// Attach starts a session on a connected link, replacing any current one.
func (s *DeviceService) Attach(link transport.Link) error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrNotStarted
	}
	old := s.session
	ctx, cancel := context.WithCancel(s.ctx)
	sess := &session{
		link:   link,
		connID: uuid.NewString(),
		ctx:    ctx,
		cancel: cancel,
	}
	s.session = sess
	s.mu.Unlock()

	if old != nil {
		s.logger.Info("replacing peer link", "old", old.connID, "new", sess.connID)
		old.close()
	}

	s.sheets.SetConnectionID(sess.connID)
	link.SetHandler(func(payload []byte, rx clock.Micros) {
		s.receive(sess, payload, rx)
	})
	s.logLink(sess, "DOWN", "UP", "attached")
	s.logger.Info("peer link attached", "conn", sess.connID)

	s.sendHello(sess, false)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.watchLink(sess)
	}()
	go func() {
		defer s.wg.Done()
		s.helloLoop(sess)
	}()
	return nil
}

// Connected reports whether a negotiated session is up.
func (s *DeviceService) Connected() bool {
	sess := s.currentSession()
	return sess != nil && sess.isNegotiated()
}

func (s *DeviceService) currentSession() *session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

func (s *DeviceService) watchLink(sess *session) {
	select {
	case <-sess.link.Done():
		s.detach(sess, "link down")
	case <-sess.ctx.Done():
	}
}

// helloLoop repeats Hello until the peer answers.
func (s *DeviceService) helloLoop(sess *session) {
	t := s.cfg.Timers.NewTicker(s.cfg.HelloInterval)
	defer t.Stop()
	for {
		select {
		case <-sess.ctx.Done():
			return
		case <-t.Chan():
			if sess.isNegotiated() {
				return
			}
			s.sendHello(sess, false)
		}
	}
}

// detach ends sess. The sync state freezes and playback continues on the
// held timebase.
func (s *DeviceService) detach(sess *session, reason string) {
	s.mu.Lock()
	if s.session != sess {
		s.mu.Unlock()
		return
	}
	s.session = nil
	s.mu.Unlock()

	sess.close()
	negotiated := sess.isNegotiated()
	s.times.Freeze()
	s.resolver.Clear()
	s.monitor.LinkLost()
	s.logLink(sess, "UP", "DOWN", reason)

	s.logger.Info("peer link detached", "conn", sess.connID, "reason", reason, "negotiated", negotiated)
	s.emitEvent(Event{Type: EventDisconnected, PeerID: sess.peerID(), ConnectionID: sess.connID})
}

func (s *DeviceService) starvationLoop(ctx context.Context) {
	t := s.cfg.Timers.NewTicker(s.cfg.StarvationCheckInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
			if err := s.times.CheckStarvation(); errors.Is(err, timesync.ErrSyncStarvation) {
				s.emitEvent(Event{Type: EventSyncStarvation, Error: err})
			}
		}
	}
}

func (s *DeviceService) handleSurvivorTimeout() {
	if !s.cfg.Failover || s.times.Role() == role.Primary {
		return
	}
	a := s.resolver.Promote()
	s.times.SetRole(role.Primary)

	s.mu.Lock()
	s.promoted = true
	s.mu.Unlock()

	s.logger.Warn("peer lost past survivor timeout; promoted to primary", "zone", a.Zone)
	s.persistZone()
	s.emitEvent(Event{Type: EventFailover, Assignment: a})
}

func (s *DeviceService) handleSheetChange(sh *sheet.Sheet) {
	if store := s.cfg.Store; store != nil {
		if err := store.SaveSheet(sh); err != nil {
			s.logger.Warn("persist sheet failed", "error", err)
		}
	}
	s.emitEvent(Event{Type: EventSheetChanged, Sheet: sh.Header()})
}

func (s *DeviceService) persistZone() {
	store := s.cfg.Store
	if store == nil {
		return
	}
	z, ok := s.binding.Zone()
	if !ok {
		return
	}
	if err := store.SaveZone(z); err != nil {
		s.logger.Warn("persist zone failed", "error", err)
	}
}

// ChangeSheet stamps sh with the current synchronized time, makes it
// active and proposes it to the peer. The birth time is moved past the
// uncertainty window of the sheet it replaces, so the change wins on birth
// time alone rather than falling to the timing role.
func (s *DeviceService) ChangeSheet(sh *sheet.Sheet) (sheet.Header, error) {
	sh = sh.Clone()
	birth := s.times.SynchronizedTime()
	if cur := s.sheets.Active(); cur != nil {
		if floor := cur.BirthTime + s.sheets.Uncertainty() + 1; birth < floor {
			birth = floor
		}
	}
	sh.BirthTime = birth

	if err := s.sheets.Load(sh); err != nil {
		return sheet.Header{}, fmt.Errorf("change sheet: %w", err)
	}
	active := s.sheets.Active()

	if sess := s.currentSession(); sess != nil && sess.isNegotiated() {
		data, err := sheet.Encode(active)
		if err != nil {
			return active.Header(), err
		}
		if err := s.send(sess, &wire.ModeChangeRequest{Sheet: data, Pattern: active.Name}); err != nil {
			s.logger.Warn("mode change not delivered; peer reconciles on reconnect", "error", err)
		}
	}
	return active.Header(), nil
}

// SelectPattern activates a built-in pattern.
func (s *DeviceService) SelectPattern(name string) (sheet.Header, error) {
	sh, err := sheet.Builtin(name, 0)
	if err != nil {
		return sheet.Header{}, err
	}
	return s.ChangeSheet(sh)
}

func (s *DeviceService) emitEvent(event Event) {
	s.mu.RLock()
	handlers := append([]EventHandler(nil), s.eventHandlers...)
	s.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}
