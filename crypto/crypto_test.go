package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	digest := Hash256([]byte("hello world"))
	sig, err := key.Sign(digest)
	require.NoError(t, err)
	require.Len(t, sig, SignatureLength)

	recovered, ok := Verify(digest, sig)
	require.True(t, ok)
	require.Equal(t, key.Address(), recovered)
}

func TestVerifyRejectsTamperedDigest(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	digest := Hash256([]byte("original"))
	sig, err := key.Sign(digest)
	require.NoError(t, err)

	tampered := Hash256([]byte("tampered"))
	recovered, ok := Verify(tampered, sig)
	if ok {
		require.NotEqual(t, key.Address(), recovered)
	}
}

func TestAddressOfIsDeterministic(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	a1 := AddressOf(key.PublicKey())
	a2 := AddressOf(key.PublicKey())
	require.Equal(t, a1, a2)
	require.Equal(t, key.Address(), a1)
}
