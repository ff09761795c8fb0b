package service

import (
	dlog "github.com/duosync/duosync-go/pkg/log"
	"github.com/duosync/duosync-go/pkg/role"
	"github.com/duosync/duosync-go/pkg/sheet"
	"github.com/duosync/duosync-go/pkg/wire"
)

func (s *DeviceService) event(sess *session, layer dlog.Layer, cat dlog.Category, dir dlog.Direction) dlog.Event {
	ev := dlog.Event{
		Timestamp: s.cfg.Timers.Now(),
		Direction: dir,
		Layer:     layer,
		Category:  cat,
		LocalRole: logRole(s.times.Role()),
		DeviceID:  s.deviceID,
	}
	if sess != nil {
		ev.ConnectionID = sess.connID
		ev.PeerID = sess.peerID()
	}
	if z, ok := s.binding.Zone(); ok {
		ev.Zone = z.String()
	}
	return ev
}

func (s *DeviceService) logMessage(sess *session, dir dlog.Direction, msg wire.Message) {
	ev := s.event(sess, dlog.LayerWire, dlog.CategoryMessage, dir)
	ev.Message = &dlog.MessageEvent{Type: msg.Type(), Sequence: sequenceOf(msg), Payload: msg}
	s.plog.Log(ev)
}

func (s *DeviceService) logLink(sess *session, from, to, reason string) {
	ev := s.event(sess, dlog.LayerService, dlog.CategoryState, dlog.DirectionNone)
	ev.StateChange = &dlog.StateChangeEvent{Entity: dlog.StateEntityLink, OldState: from, NewState: to, Reason: reason}
	s.plog.Log(ev)
}

func (s *DeviceService) logRole(sess *session, a role.Assignment) {
	ev := s.event(sess, dlog.LayerService, dlog.CategoryRole, dlog.DirectionNone)
	ev.RoleChange = &dlog.RoleEvent{
		Role:         logRole(a.Role),
		PeerID:       a.PeerID,
		Zone:         a.Zone.String(),
		TiebreakUsed: a.TiebreakUsed,
		Failover:     a.Failover,
	}
	s.plog.Log(ev)
}

func (s *DeviceService) logSheetSent(sess *session, sh *sheet.Sheet, reason string) {
	ev := s.event(sess, dlog.LayerSheet, dlog.CategorySheet, dlog.DirectionOut)
	ev.Sheet = &dlog.SheetEvent{
		Action:       dlog.SheetSent,
		BirthTime:    int64(sh.BirthTime),
		Checksum:     sh.Checksum,
		SegmentCount: sh.SegmentCount(),
		Name:         sh.Name,
		Reason:       reason,
	}
	s.plog.Log(ev)
}

func (s *DeviceService) logError(sess *session, layer dlog.Layer, err error, context string) {
	ev := s.event(sess, layer, dlog.CategoryError, dlog.DirectionNone)
	ev.Error = &dlog.ErrorEventData{Layer: layer, Message: err.Error(), Context: context}
	s.plog.Log(ev)
}

func sequenceOf(msg wire.Message) uint32 {
	switch m := msg.(type) {
	case *wire.SyncBeacon:
		return m.Sequence
	case *wire.SyncResponse:
		return m.Sequence
	case *wire.SyncFollowUp:
		return m.Sequence
	default:
		return 0
	}
}

func logRole(r role.Role) dlog.Role {
	switch r {
	case role.Primary:
		return dlog.RolePrimary
	case role.Secondary:
		return dlog.RoleSecondary
	default:
		return dlog.RoleUnassigned
	}
}
