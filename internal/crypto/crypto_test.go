package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return hex.EncodeToString(key)
}

func TestSealOpenRoundTrip(t *testing.T) {
	sealer, err := NewAESGCMSealer(testKey(t))
	require.NoError(t, err)

	sealed, err := sealer.Seal([]byte(`{"refresh_token":"rt-1"}`))
	require.NoError(t, err)
	assert.NotContains(t, sealed, "rt-1")

	opened, err := sealer.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, `{"refresh_token":"rt-1"}`, string(opened))
}

func TestSealIsNonDeterministic(t *testing.T) {
	sealer, err := NewAESGCMSealer(testKey(t))
	require.NoError(t, err)

	a, err := sealer.Seal([]byte("state"))
	require.NoError(t, err)
	b, err := sealer.Seal([]byte("state"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestOpenRejectsTamperedState(t *testing.T) {
	sealer, err := NewAESGCMSealer(testKey(t))
	require.NoError(t, err)

	sealed, err := sealer.Seal([]byte("state"))
	require.NoError(t, err)

	tampered := []byte(sealed)
	tampered[len(tampered)-1] ^= 'f' ^ '0'
	_, err = sealer.Open(string(tampered))
	assert.Error(t, err)
}

func TestOpenRejectsWrongKey(t *testing.T) {
	sealerA, err := NewAESGCMSealer(testKey(t))
	require.NoError(t, err)
	sealerB, err := NewAESGCMSealer(testKey(t))
	require.NoError(t, err)

	sealed, err := sealerA.Seal([]byte("state"))
	require.NoError(t, err)

	_, err = sealerB.Open(sealed)
	assert.Error(t, err)
}

func TestInvalidKey(t *testing.T) {
	_, err := NewAESGCMSealer("not hex")
	assert.Error(t, err)

	_, err = NewAESGCMSealer("abcd")
	assert.Error(t, err)
}

func TestNoopSealer(t *testing.T) {
	sealed, err := NoopSealer{}.Seal([]byte("state"))
	require.NoError(t, err)

	opened, err := NoopSealer{}.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "state", string(opened))
}
