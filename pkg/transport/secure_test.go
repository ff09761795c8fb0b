package transport

import (
	"bytes"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duosync/duosync-go/pkg/clock"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestDeriveLinkKey(t *testing.T) {
	k1, err := DeriveLinkKey(testSecret, "a|b")
	require.NoError(t, err)
	assert.Len(t, k1, LinkKeySize)

	k2, err := DeriveLinkKey(testSecret, "a|b")
	require.NoError(t, err)
	assert.Equal(t, k1, k2, "deterministic")

	k3, err := DeriveLinkKey(testSecret, "a|c")
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3, "pair id separates keys")

	_, err = DeriveLinkKey([]byte("short"), "a|b")
	assert.ErrorIs(t, err, ErrShortSecret)
}

func securePair(t *testing.T, keyA, keyB []byte) (*SecureLink, *SecureLink, *Loopback) {
	t.Helper()
	mono := clock.NewMonotonic(clockwork.NewFakeClock())
	a, b := NewLoopbackPair(LoopbackConfig{}, mono, mono)
	t.Cleanup(func() { _ = a.Close() })

	sa, err := NewSecureLink(a, keyA, nil)
	require.NoError(t, err)
	sb, err := NewSecureLink(b, keyB, nil)
	require.NoError(t, err)
	return sa, sb, a
}

func TestSecureLinkRoundTrip(t *testing.T) {
	key, err := DeriveLinkKey(testSecret, "pair")
	require.NoError(t, err)
	sa, sb, _ := securePair(t, key, key)

	var atB, atA inbox
	sb.SetHandler(atB.handle)
	sa.SetHandler(atA.handle)

	require.NoError(t, sa.Send([]byte("beacon")))
	require.NoError(t, sb.Send([]byte("response")))

	require.Eventually(t, func() bool { return atB.len() == 1 && atA.len() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []byte("beacon"), atB.msgs[0])
	assert.Equal(t, []byte("response"), atA.msgs[0])
	assert.Zero(t, sa.Rejected())
	assert.Zero(t, sb.Rejected())
}

func TestSecureLinkWrongKey(t *testing.T) {
	k1, _ := DeriveLinkKey(testSecret, "one")
	k2, _ := DeriveLinkKey(testSecret, "two")
	sa, sb, _ := securePair(t, k1, k2)

	var atB inbox
	sb.SetHandler(atB.handle)
	require.NoError(t, sa.Send([]byte("secret")))

	require.Eventually(t, func() bool { return sb.Rejected() == 1 }, time.Second, time.Millisecond)
	assert.Zero(t, atB.len())
}

func TestSecureLinkRejectsReplay(t *testing.T) {
	key, _ := DeriveLinkKey(testSecret, "pair")

	// Capture the sealed bytes by sending through a tap link.
	mono := clock.NewMonotonic(clockwork.NewFakeClock())
	tapA, tapB := NewLoopbackPair(LoopbackConfig{}, mono, mono)
	defer tapA.Close()
	var sealed inbox
	tapB.SetHandler(sealed.handle)

	sender, err := NewSecureLink(tapA, key, nil)
	require.NoError(t, err)
	require.NoError(t, sender.Send([]byte("one")))
	require.Eventually(t, func() bool { return sealed.len() == 1 }, time.Second, time.Millisecond)
	frame := sealed.msgs[0]
	assert.False(t, bytes.Contains(frame, []byte("one")), "payload is encrypted")

	recvA, recvB := NewLoopbackPair(LoopbackConfig{}, mono, mono)
	defer recvA.Close()
	receiver, err := NewSecureLink(recvB, key, nil)
	require.NoError(t, err)
	var got inbox
	receiver.SetHandler(got.handle)

	require.NoError(t, recvA.Send(frame))
	require.NoError(t, recvA.Send(frame))

	require.Eventually(t, func() bool { return receiver.Rejected() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, got.len())

	tampered := append([]byte(nil), frame...)
	tampered[len(tampered)-1] ^= 0xFF
	_, err = receiver.Open(tampered)
	assert.ErrorIs(t, err, ErrOpen)
}
