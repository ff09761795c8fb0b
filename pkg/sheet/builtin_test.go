package sheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltins(t *testing.T) {
	assert.Equal(t, []string{"alternating", "breathe", "emergency", "emergency-quad"}, BuiltinNames())

	for _, name := range BuiltinNames() {
		t.Run(name, func(t *testing.T) {
			s, err := Builtin(name, 1000)
			require.NoError(t, err)
			assert.NoError(t, Validate(s))
			assert.NoError(t, s.Verify())
			assert.True(t, s.Looping)
			assert.Equal(t, uint8(2), s.ZoneCount)

			again, err := Builtin(name, 99)
			require.NoError(t, err)
			assert.Equal(t, s.Checksum, again.Checksum, "checksum is independent of birth time")
		})
	}

	_, err := Builtin("disco", 0)
	assert.Error(t, err)
}

func TestBuiltinsDiffer(t *testing.T) {
	seen := map[uint32]string{}
	for _, name := range BuiltinNames() {
		s, err := Builtin(name, 0)
		require.NoError(t, err)
		if other, dup := seen[s.Checksum]; dup {
			t.Fatalf("%s and %s share checksum %08x", name, other, s.Checksum)
		}
		seen[s.Checksum] = name
	}
}

func TestAlternatingIsBilateral(t *testing.T) {
	s, err := Builtin("alternating", 0)
	require.NoError(t, err)
	assert.Equal(t, ClassBilateral, s.Class)
	for _, seg := range s.Segments {
		assert.False(t, seg.Outputs[0].Active() && seg.Outputs[1].Active(),
			"both sides active at %v", seg.TimeOffset)
	}
}

func TestBuiltinZoneExclusivity(t *testing.T) {
	// These light both sides on purpose.
	shared := map[string]bool{"breathe": true, "emergency-quad": true}

	for _, name := range BuiltinNames() {
		t.Run(name, func(t *testing.T) {
			s, err := Builtin(name, 0)
			require.NoError(t, err)
			err = checkExclusive(s)
			if shared[name] {
				assert.ErrorIs(t, err, ErrZoneOverlap)
				return
			}
			assert.NoError(t, err)
		})
	}
}
