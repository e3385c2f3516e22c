// Package binder builds the canonical bytes an Issuer signs for a
// (fingerprint, nonce) pair.
//
// The layout is fixed-width and therefore length-unambiguous:
//
//	message = keccak256(fingerprint[32] || nonce[32, big-endian] || domainID[20])
//	digest  = keccak256("\x19Ethereum Signed Message:\n32" || message)
//
// Off-system signers hash message with a wallet's personal-sign call; the
// registry recovers the signer from digest. Both are pure functions of their
// inputs and this instance's domain id.
package binder

import (
	"notary/pkg/crypto/ethsig"
	id "notary/pkg/domain"
)

// PackedLength is the size of the packed preimage.
const PackedLength = id.FingerprintLength + id.NonceLength + id.AddressLength

// Binder binds messages to one registry instance.
type Binder struct {
	domain id.DomainID
}

// New returns a Binder for the given instance domain.
func New(domain id.DomainID) *Binder {
	return &Binder{domain: domain}
}

// Domain returns the instance domain mixed into every message.
func (b *Binder) Domain() id.DomainID {
	return b.domain
}

// Pack returns the packed preimage. Exposed for clients that hash themselves.
func (b *Binder) Pack(fp id.Fingerprint, nonce id.Nonce) [PackedLength]byte {
	return Pack(fp, nonce, b.domain)
}

// Message returns the 32-byte value a signer passes to personal-sign.
func (b *Binder) Message(fp id.Fingerprint, nonce id.Nonce) [32]byte {
	packed := b.Pack(fp, nonce)
	return ethsig.Keccak256(packed[:])
}

// Digest returns the prefixed hash the ECDSA signature covers.
func (b *Binder) Digest(fp id.Fingerprint, nonce id.Nonce) [32]byte {
	return ethsig.PersonalDigest(b.Message(fp, nonce))
}

// Pack lays out fingerprint, nonce and domain back to back.
func Pack(fp id.Fingerprint, nonce id.Nonce, domain id.DomainID) [PackedLength]byte {
	var out [PackedLength]byte
	n := copy(out[:], fp[:])
	n += copy(out[n:], nonce[:])
	copy(out[n:], domain[:])
	return out
}
