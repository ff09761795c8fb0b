package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeSlogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestSlogAdapterSyncEvent(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewSlogAdapter(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	adapter.Log(Event{
		ConnectionID: "conn-1",
		Layer:        LayerSync,
		Category:     CategorySync,
		LocalRole:    RoleSecondary,
		Sync:         &SyncEvent{Sequence: 9, OffsetUs: -250, Quality: 85, Accepted: false, Reason: "jitter outlier"},
	})

	entry := decodeSlogLine(t, &buf)
	assert.Equal(t, "protocol", entry["msg"])
	assert.Equal(t, "SECONDARY", entry["role"])
	assert.Equal(t, float64(-250), entry["offset_us"])
	assert.Equal(t, false, entry["accepted"])
	assert.Equal(t, "jitter outlier", entry["reason"])
}

func TestSlogAdapterStateChange(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewSlogAdapter(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	adapter.Log(Event{
		Category:    CategoryState,
		StateChange: &StateChangeEvent{Entity: StateEntityLink, OldState: "CONNECTED", NewState: "DISCONNECTED", Reason: "timeout"},
	})

	entry := decodeSlogLine(t, &buf)
	assert.Equal(t, "LINK", entry["entity"])
	assert.Equal(t, "DISCONNECTED", entry["new_state"])
	assert.Equal(t, "timeout", entry["reason"])
	_, hasRole := entry["role"]
	assert.False(t, hasRole)
}

func TestSlogAdapterRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewSlogAdapter(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	adapter.Log(Event{Category: CategoryError, Error: &ErrorEventData{Message: "hidden"}})
	assert.Zero(t, buf.Len())
}
