// Package ethsig wraps the secp256k1 and Keccak primitives used for
// wallet-style signatures: 65-byte r||s||v signatures over the
// personal-message digest, identities as 20-byte addresses.
package ethsig

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"

	id "notary/pkg/domain"
)

// SignatureLength is the size of an r||s||v signature.
const SignatureLength = 65

// personalPrefix is the personal-message header for a 32-byte payload.
const personalPrefix = "\x19Ethereum Signed Message:\n32"

var (
	ErrInvalidSignatureLength = errors.New("ethsig: signature must be 65 bytes")
	ErrInvalidRecoveryID      = errors.New("ethsig: invalid recovery id")
	ErrMalleableSignature     = errors.New("ethsig: signature s value out of range")
	ErrInvalidPrivateKey      = errors.New("ethsig: invalid private key")
)

// Keccak256 hashes the concatenation of data with legacy Keccak-256.
func Keccak256(data ...[]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	for _, b := range data {
		h.Write(b)
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}

// PersonalDigest wraps a 32-byte message in the personal-message envelope and
// hashes it again. This is the value the ECDSA signature actually covers.
func PersonalDigest(message [32]byte) [32]byte {
	return Keccak256([]byte(personalPrefix), message[:])
}

// Recover returns the address whose key produced sig over digest.
// Any structural problem returns the zero address and an error.
func Recover(digest [32]byte, sig []byte) (id.Address, error) {
	if len(sig) != SignatureLength {
		return id.Address{}, ErrInvalidSignatureLength
	}
	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return id.Address{}, ErrInvalidRecoveryID
	}

	var s secp256k1.ModNScalar
	if overflow := s.SetByteSlice(sig[32:64]); overflow || s.IsZero() || s.IsOverHalfOrder() {
		return id.Address{}, ErrMalleableSignature
	}

	compact := make([]byte, SignatureLength)
	compact[0] = 27 + v
	copy(compact[1:], sig[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, digest[:])
	if err != nil {
		return id.Address{}, fmt.Errorf("ethsig: recover: %w", err)
	}
	return AddressOf(pub), nil
}

// Sign produces an r||s||v signature over digest with v in {27, 28}.
func Sign(digest [32]byte, key *secp256k1.PrivateKey) []byte {
	compact := ecdsa.SignCompact(key, digest[:], false)
	sig := make([]byte, SignatureLength)
	copy(sig, compact[1:])
	sig[64] = compact[0]
	return sig
}

// SignMessage signs message under the personal-message convention.
func SignMessage(message [32]byte, key *secp256k1.PrivateKey) []byte {
	return Sign(PersonalDigest(message), key)
}

// AddressOf derives the 20-byte address of a public key.
func AddressOf(pub *secp256k1.PublicKey) id.Address {
	uncompressed := pub.SerializeUncompressed()
	sum := Keccak256(uncompressed[1:])
	var addr id.Address
	copy(addr[:], sum[12:])
	return addr
}

// GenerateKey creates a new random secp256k1 private key.
func GenerateKey() (*secp256k1.PrivateKey, error) {
	return secp256k1.GeneratePrivateKey()
}

// ParsePrivateKey decodes a 32-byte hex private key.
func ParsePrivateKey(s string) (*secp256k1.PrivateKey, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return nil, ErrInvalidPrivateKey
	}
	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(raw); overflow || scalar.IsZero() {
		return nil, ErrInvalidPrivateKey
	}
	return secp256k1.NewPrivateKey(&scalar), nil
}

// EncodeSignature renders a signature as 0x-prefixed hex.
func EncodeSignature(sig []byte) string {
	return "0x" + hex.EncodeToString(sig)
}

// DecodeSignature parses 0x-prefixed hex. Length is checked by Recover, not here.
func DecodeSignature(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	return hex.DecodeString(s)
}
