package service

import (
	"errors"
	"fmt"

	"github.com/duosync/duosync-go/pkg/clock"
	dlog "github.com/duosync/duosync-go/pkg/log"
	"github.com/duosync/duosync-go/pkg/role"
	"github.com/duosync/duosync-go/pkg/sheet"
	"github.com/duosync/duosync-go/pkg/timesync"
	"github.com/duosync/duosync-go/pkg/version"
	"github.com/duosync/duosync-go/pkg/wire"
)

// receive dispatches one payload from the session link.
func (s *DeviceService) receive(sess *session, payload []byte, rx clock.Micros) {
	msg, err := wire.Decode(payload)
	if err != nil {
		s.rxErrors.Add(1)
		s.logger.Debug("undecodable payload", "conn", sess.connID, "size", len(payload), "error", err)
		s.logError(sess, dlog.LayerWire, err, "decode")
		return
	}
	s.logMessage(sess, dlog.DirectionIn, msg)

	if h, ok := msg.(*wire.Hello); ok {
		s.handleHello(sess, h)
		return
	}
	if !sess.isNegotiated() {
		s.logger.Debug("dropping message before hello", "conn", sess.connID, "type", msg.Type())
		return
	}

	switch m := msg.(type) {
	case *wire.SyncBeacon:
		err = s.times.HandleBeacon(m, rx)
	case *wire.SyncResponse:
		err = s.times.HandleResponse(m, rx)
	case *wire.SyncFollowUp:
		err = s.times.HandleFollowUp(m, rx)
	case *wire.SheetHeader:
		err = s.handleSheetHeader(sess, m)
	case *wire.SheetRequest:
		err = s.handleSheetRequest(sess, m)
	case *wire.SheetData:
		err = s.handleSheetData(sess, m.Sheet)
	case *wire.ModeChangeRequest:
		s.logger.Info("peer requested mode change", "pattern", m.Pattern)
		err = s.handleSheetData(sess, m.Sheet)
	default:
		err = fmt.Errorf("unexpected message %s", msg.Type())
	}
	if err != nil {
		s.handleError(sess, msg, err)
	}
}

// handleError classifies a handler error. Sync errors are routine and
// handled inside the engine; corruption was already reported.
func (s *DeviceService) handleError(sess *session, msg wire.Message, err error) {
	switch {
	case errors.Is(err, timesync.ErrSequence),
		errors.Is(err, timesync.ErrJitterOutlier),
		errors.Is(err, timesync.ErrWrongRole):
		s.logger.Debug("sync message not used", "type", msg.Type(), "error", err)
	case sheet.IsCorruption(err):
	default:
		s.logger.Warn("message handling failed", "conn", sess.connID, "type", msg.Type(), "error", err)
		s.logError(sess, dlog.LayerService, err, msg.Type().String())
	}
}

// handleHello validates the peer, answers it and negotiates roles.
func (s *DeviceService) handleHello(sess *session, h *wire.Hello) {
	if err := h.Validate(); err != nil {
		s.logger.Warn("invalid hello", "conn", sess.connID, "error", err)
		return
	}

	ver, err := version.Check(h.ProtocolVersion)
	if err != nil {
		s.logger.Warn("peer rejected", "peer", h.DeviceID, "error", err)
		s.emitEvent(Event{Type: EventIncompatiblePeer, PeerID: h.DeviceID, ConnectionID: sess.connID, Error: err})
		s.detach(sess, "incompatible peer")
		return
	}

	if !h.Reply {
		s.sendHello(sess, true)
	}
	if sess.isNegotiated() && !h.Failover {
		return
	}

	s.mu.RLock()
	promoted := s.promoted
	s.mu.RUnlock()

	peer := role.Candidate{ID: h.DeviceID, PowerBudget: h.PowerBudget}
	var a role.Assignment
	if h.Failover || promoted {
		a, err = s.resolver.Failover(peer)
	} else {
		a, err = s.resolver.Resolve(peer)
	}
	if err != nil {
		s.logError(sess, dlog.LayerService, err, "role negotiation")
		s.detach(sess, "role negotiation failed")
		return
	}

	first := sess.negotiate(*h, a, ver)
	s.times.SetRole(a.Role)
	if first {
		s.times.Connect(sess.connID, h.DeviceID)
	}

	s.mu.Lock()
	s.promoted = false
	s.mu.Unlock()

	s.monitor.LinkRestored()
	s.persistZone()
	s.logRole(sess, a)

	if a.Role == role.Primary && sess.startBeacons() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer sess.stopBeacons()
			_ = s.times.Run(sess.ctx)
		}()
	}

	if hdr, ok := s.sheets.Header(); ok {
		if err := s.send(sess, headerMessage(hdr, false)); err != nil {
			s.logger.Warn("sheet header not sent", "error", err)
		}
	}

	s.emitEvent(Event{Type: EventConnected, PeerID: h.DeviceID, ConnectionID: sess.connID, Assignment: a})
}

func (s *DeviceService) handleSheetHeader(sess *session, m *wire.SheetHeader) error {
	h := sheet.Header{
		BirthTime:    clock.Micros(m.BirthTime),
		Checksum:     m.Checksum,
		SegmentCount: m.SegmentCount,
	}

	if m.Ack {
		if s.sheets.Acknowledge(h) {
			s.emitEvent(Event{Type: EventCorruptionCleared, PeerID: sess.peerID(), ConnectionID: sess.connID, Sheet: h})
		}
		return nil
	}

	out, err := s.sheets.OfferHeader(h, sess.primary())
	if sheet.IsCorruption(err) {
		s.emitEvent(Event{Type: EventSheetCorruption, PeerID: sess.peerID(), ConnectionID: sess.connID, Sheet: h, Error: err})
	}
	if out.Action == sheet.ActionRequest {
		if sendErr := s.send(sess, &wire.SheetRequest{BirthTime: m.BirthTime, Reason: out.Verdict.String()}); sendErr != nil {
			return sendErr
		}
	}
	if err == nil && out.Verdict == sheet.KeepLocal {
		return s.answerLosingSheet(sess, h)
	}
	return err
}

// answerLosingSheet sends the active header to a peer whose version lost,
// so the peer requests and adopts ours instead of playing its own.
func (s *DeviceService) answerLosingSheet(sess *session, remote sheet.Header) error {
	local, ok := s.sheets.Header()
	if !ok || !sess.answer(remote, local) {
		return nil
	}
	s.logger.Debug("peer sheet lost; sending ours", "conn", sess.connID,
		"peer_birth", remote.BirthTime, "birth", local.BirthTime)
	return s.send(sess, headerMessage(local, false))
}

func (s *DeviceService) handleSheetRequest(sess *session, m *wire.SheetRequest) error {
	active := s.sheets.Active()
	if active == nil {
		s.logger.Debug("sheet requested but none is active", "birth", m.BirthTime)
		return nil
	}
	data, err := sheet.Encode(active)
	if err != nil {
		return err
	}
	if err := s.send(sess, &wire.SheetData{Sheet: data}); err != nil {
		return err
	}
	s.logSheetSent(sess, active, m.Reason)
	return nil
}

func (s *DeviceService) handleSheetData(sess *session, data []byte) error {
	sh, err := sheet.Decode(data)
	if err != nil {
		return err
	}

	out, err := s.sheets.OfferSheet(sh, sess.primary())
	switch out.Action {
	case sheet.ActionAck:
		s.emitEvent(Event{Type: EventCorruptionCleared, PeerID: sess.peerID(), ConnectionID: sess.connID, Sheet: sh.Header()})
		if sendErr := s.send(sess, headerMessage(sh.Header(), true)); sendErr != nil {
			return sendErr
		}
	case sheet.ActionRequest:
		reason := "retransmit"
		if err != nil {
			reason = err.Error()
		}
		if sendErr := s.send(sess, &wire.SheetRequest{BirthTime: int64(sh.BirthTime), Reason: reason}); sendErr != nil {
			return sendErr
		}
	}
	if sheet.IsCorruption(err) {
		s.emitEvent(Event{Type: EventSheetCorruption, PeerID: sess.peerID(), ConnectionID: sess.connID, Sheet: sh.Header(), Error: err})
	}
	if err == nil && out.Verdict == sheet.KeepLocal {
		return s.answerLosingSheet(sess, sh.Header())
	}
	return err
}

func headerMessage(h sheet.Header, ack bool) *wire.SheetHeader {
	return &wire.SheetHeader{
		BirthTime:    int64(h.BirthTime),
		Checksum:     h.Checksum,
		SegmentCount: h.SegmentCount,
		Ack:          ack,
	}
}
