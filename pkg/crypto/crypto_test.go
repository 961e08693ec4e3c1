package crypto_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleancoindev2/csnode/pkg/crypto"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte("stage-1 mask hash")
	sig := kp.Sign(msg)

	assert.True(t, crypto.Verify(kp.Public, msg, sig))
	assert.False(t, crypto.Verify(kp.Public, []byte("tampered"), sig))
}

func TestHashIsDeterministic(t *testing.T) {
	a := crypto.HashBytes([]byte("packet"))
	b := crypto.HashBytes([]byte("packet"))
	assert.Equal(t, a, b)

	c := crypto.HashBytes([]byte("different packet"))
	assert.NotEqual(t, a, c)
}

func TestSpoiledHashIsDomainSeparated(t *testing.T) {
	lastHash := crypto.HashBytes([]byte("block-41"))
	sender := []byte("sender-key-0000000000000000000")

	spoiled := crypto.SpoiledHash(lastHash, sender)
	plain := crypto.HashBytes(append(append([]byte{}, lastHash...), sender...))

	assert.NotEqual(t, spoiled, plain)
}
