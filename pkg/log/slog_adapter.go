package log

import (
	"context"
	"log/slog"
)

// SlogAdapter mirrors protocol events to an slog.Logger at Debug level.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter returns an adapter writing to logger (slog.Default when nil).
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAdapter{logger: logger}
}

// Log writes the event as one structured record.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("conn_id", event.ConnectionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}
	if event.LocalRole != RoleUnassigned {
		attrs = append(attrs, slog.String("role", event.LocalRole.String()))
	}
	if event.PeerID != "" {
		attrs = append(attrs, slog.String("peer_id", event.PeerID))
	}
	if event.Zone != "" {
		attrs = append(attrs, slog.String("zone", event.Zone))
	}

	switch {
	case event.Frame != nil:
		attrs = append(attrs,
			slog.Int("frame_size", event.Frame.Size),
			slog.Bool("truncated", event.Frame.Truncated),
		)
	case event.Message != nil:
		attrs = append(attrs, slog.String("msg_type", event.Message.Type.String()))
		if event.Message.Sequence != 0 {
			attrs = append(attrs, slog.Uint64("seq", uint64(event.Message.Sequence)))
		}
	case event.Sync != nil:
		s := event.Sync
		attrs = append(attrs,
			slog.Uint64("seq", uint64(s.Sequence)),
			slog.Int64("offset_us", s.OffsetUs),
			slog.Int64("delay_us", s.DelayUs),
			slog.Int64("filtered_us", s.FilteredOffsetUs),
			slog.Int("quality", int(s.Quality)),
			slog.Bool("accepted", s.Accepted),
		)
		if s.Reason != "" {
			attrs = append(attrs, slog.String("reason", s.Reason))
		}
	case event.Sheet != nil:
		attrs = append(attrs,
			slog.String("action", event.Sheet.Action.String()),
			slog.Int64("birth", event.Sheet.BirthTime),
			slog.Uint64("checksum", uint64(event.Sheet.Checksum)),
		)
		if event.Sheet.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.Sheet.Reason))
		}
	case event.RoleChange != nil:
		attrs = append(attrs,
			slog.String("new_role", event.RoleChange.Role.String()),
			slog.Bool("tiebreak", event.RoleChange.TiebreakUsed),
			slog.Bool("failover", event.RoleChange.Failover),
		)
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "protocol", attrs...)
}

var _ Logger = (*SlogAdapter)(nil)
