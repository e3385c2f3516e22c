package ethsig

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeccak256_EmptyInput(t *testing.T) {
	sum := Keccak256()
	assert.Equal(t, "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", hex.EncodeToString(sum[:]))
}

func TestAddressOf_KnownKey(t *testing.T) {
	key, err := ParsePrivateKey("0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	assert.Equal(t, "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", AddressOf(key.PubKey()).String())
}

func TestSignRecover_RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	digest := Keccak256([]byte("document"))

	sig := Sign(digest, key)
	require.Len(t, sig, SignatureLength)
	assert.Contains(t, []byte{27, 28}, sig[64])

	signer, err := Recover(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, AddressOf(key.PubKey()), signer)
}

func TestRecover_AcceptsZeroBasedRecoveryID(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	digest := Keccak256([]byte("legacy v"))

	sig := Sign(digest, key)
	sig[64] -= 27

	signer, err := Recover(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, AddressOf(key.PubKey()), signer)
}

func TestRecover_DifferentDigestYieldsDifferentSigner(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	sig := Sign(Keccak256([]byte("nonce 4")), key)
	signer, err := Recover(Keccak256([]byte("nonce 5")), sig)
	if err == nil {
		assert.NotEqual(t, AddressOf(key.PubKey()), signer)
	} else {
		assert.True(t, signer.IsZero())
	}
}

func TestRecover_Malformed(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	digest := Keccak256([]byte("malformed"))
	good := Sign(digest, key)

	t.Run("wrong length", func(t *testing.T) {
		signer, err := Recover(digest, good[:64])
		assert.ErrorIs(t, err, ErrInvalidSignatureLength)
		assert.True(t, signer.IsZero())
	})

	t.Run("bad recovery id", func(t *testing.T) {
		sig := append([]byte(nil), good...)
		sig[64] = 29
		signer, err := Recover(digest, sig)
		assert.ErrorIs(t, err, ErrInvalidRecoveryID)
		assert.True(t, signer.IsZero())
	})

	t.Run("high s rejected", func(t *testing.T) {
		sig := append([]byte(nil), good...)
		for i := 32; i < 64; i++ {
			sig[i] = 0xff
		}
		signer, err := Recover(digest, sig)
		assert.ErrorIs(t, err, ErrMalleableSignature)
		assert.True(t, signer.IsZero())
	})

	t.Run("all zero", func(t *testing.T) {
		signer, err := Recover(digest, make([]byte, SignatureLength))
		assert.Error(t, err)
		assert.True(t, signer.IsZero())
	})
}

func TestParsePrivateKey_Rejects(t *testing.T) {
	for _, input := range []string{"", "0x1234", "zz", "0x" + hex.EncodeToString(make([]byte, 32))} {
		_, err := ParsePrivateKey(input)
		assert.ErrorIs(t, err, ErrInvalidPrivateKey, "input %q", input)
	}
}

func TestSignatureHexRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	sig := SignMessage(Keccak256([]byte("hex")), key)

	decoded, err := DecodeSignature(EncodeSignature(sig))
	require.NoError(t, err)
	assert.Equal(t, sig, decoded)

	upper, err := DecodeSignature("0X" + strings.ToUpper(EncodeSignature(sig)[2:]))
	require.NoError(t, err)
	assert.Equal(t, sig, upper)
}
