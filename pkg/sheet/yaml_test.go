package sheet

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duosync/duosync-go/pkg/clock"
)

const pulseYAML = `
name: pulse
class: bilateral
loop_point_ms: 1000
segments:
  - at_ms: 0
    transition_ms: 200
    easing: ease-in
    outputs:
      - {motor: 50, brightness: 80, color: 4}
      - {color: 4}
  - at_ms: 500
    easing: step
    outputs:
      - {color: 4}
      - {motor: 50, brightness: 80, color: 4}
  - at_ms: 900
    easing: step
    outputs:
      - {color: 4}
      - {color: 4}
`

func TestLoadYAML(t *testing.T) {
	s, err := LoadYAML(strings.NewReader(pulseYAML))
	require.NoError(t, err)

	assert.Equal(t, "pulse", s.Name)
	assert.Equal(t, ClassBilateral, s.Class)
	assert.True(t, s.Looping)
	assert.Equal(t, uint8(2), s.ZoneCount)
	assert.Equal(t, clock.Millis(1000), s.LoopPoint)
	require.Len(t, s.Segments, 3)
	assert.Equal(t, clock.Millis(200), s.Segments[0].Transition)
	assert.Equal(t, EaseIn, s.Segments[0].Easing)
	assert.Equal(t, Output{Motor: 50, Brightness: 80, Color: 4}, s.Segments[1].Outputs[1])
	assert.Zero(t, s.BirthTime)
}

func TestLoadYAMLErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"unknown field", "name: x\nbogus: 1\n", nil},
		{"straddles loop", "loop_point_ms: 100\nsegments:\n  - {at_ms: 50, transition_ms: 60, outputs: [{motor: 1}]}\n", ErrLoopBoundary},
		{"no segments", "loop_point_ms: 100\nzones: 1\n", ErrInvalidSheet},
		{"bilateral overlap", "class: bilateral\nloop_point_ms: 100\nsegments:\n  - {at_ms: 0, outputs: [{motor: 1}, {brightness: 1}]}\n", ErrZoneOverlap},
		{"bad easing", "loop_point_ms: 100\nsegments:\n  - {at_ms: 0, easing: wobble, outputs: [{motor: 1}]}\n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadYAML(strings.NewReader(tt.doc))
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(pulseYAML), 0o600))

	s, err := LoadYAMLFile(path)
	require.NoError(t, err)
	assert.Equal(t, "pulse", s.Name)

	_, err = LoadYAMLFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
