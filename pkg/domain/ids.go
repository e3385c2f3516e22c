package domain

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"

	"golang.org/x/crypto/sha3"

	dErrors "notary/pkg/domain-errors"
)

const (
	FingerprintLength = 32
	AddressLength     = 20
	NonceLength       = 32
)

// maxHexInput bounds parser work on untrusted input (0x + 64 hex chars, with slack).
const maxHexInput = 130

// Fingerprint is the 32-byte hash of a document's canonical content.
// It is the primary key of a registry record.
type Fingerprint [FingerprintLength]byte

// Address is a 20-byte account identity. The zero Address is the
// "no identity" value produced by failed signature recovery.
type Address [AddressLength]byte

// DomainID is the stable identifier of one registry instance. It is mixed
// into every signed message so signatures do not transfer between deployments.
type DomainID [AddressLength]byte

// Nonce is an unsigned 256-bit integer stored big-endian.
type Nonce [NonceLength]byte

// ParseFingerprint parses a 0x-prefixed (or bare) 64 character hex string.
func ParseFingerprint(s string) (Fingerprint, error) {
	var fp Fingerprint
	if err := decodeFixedHex(s, fp[:], "fingerprint"); err != nil {
		return Fingerprint{}, err
	}
	return fp, nil
}

// ParseAddress parses a 0x-prefixed (or bare) 40 character hex string. Mixed
// case input is accepted without enforcing the checksum.
func ParseAddress(s string) (Address, error) {
	var a Address
	if err := decodeFixedHex(s, a[:], "address"); err != nil {
		return Address{}, err
	}
	if a.IsZero() {
		return Address{}, dErrors.New(dErrors.CodeInvalidInput, "address must not be zero")
	}
	return a, nil
}

// ParseDomainID parses a 20-byte hex domain identifier.
func ParseDomainID(s string) (DomainID, error) {
	var d DomainID
	if err := decodeFixedHex(s, d[:], "domain id"); err != nil {
		return DomainID{}, err
	}
	if d == (DomainID{}) {
		return DomainID{}, dErrors.New(dErrors.CodeInvalidInput, "domain id must not be zero")
	}
	return d, nil
}

// DeriveDomainID derives a stable instance identifier from a name: the low
// 20 bytes of keccak256(name).
func DeriveDomainID(name string) DomainID {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(name))
	sum := h.Sum(nil)
	var d DomainID
	copy(d[:], sum[FingerprintLength-AddressLength:])
	return d
}

// ParseNonce accepts a base-10 integer or a 0x-prefixed hex integer in
// [0, 2^256).
func ParseNonce(s string) (Nonce, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Nonce{}, dErrors.New(dErrors.CodeInvalidInput, "nonce is required")
	}
	if len(s) > maxHexInput {
		return Nonce{}, dErrors.New(dErrors.CodeInvalidInput, "nonce is too long")
	}
	n := new(big.Int)
	var ok bool
	if rest, isHex := cutHexPrefix(s); isHex {
		if rest == "" {
			return Nonce{}, dErrors.New(dErrors.CodeInvalidInput, "nonce must be an unsigned 256-bit integer")
		}
		_, ok = n.SetString(rest, 16)
	} else {
		_, ok = n.SetString(s, 10)
	}
	if !ok || n.Sign() < 0 || n.BitLen() > NonceLength*8 {
		return Nonce{}, dErrors.New(dErrors.CodeInvalidInput, "nonce must be an unsigned 256-bit integer")
	}
	return NonceFromBig(n), nil
}

// NonceFromUint64 widens v to a 256-bit nonce.
func NonceFromUint64(v uint64) Nonce {
	return NonceFromBig(new(big.Int).SetUint64(v))
}

// NonceFromBig converts n, which must satisfy 0 <= n < 2^256.
func NonceFromBig(n *big.Int) Nonce {
	var out Nonce
	n.FillBytes(out[:])
	return out
}

func (n Nonce) Big() *big.Int {
	return new(big.Int).SetBytes(n[:])
}

// String renders the nonce in base 10.
func (n Nonce) String() string {
	return n.Big().String()
}

func (f Fingerprint) String() string {
	return "0x" + hex.EncodeToString(f[:])
}

func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Fingerprint) UnmarshalText(b []byte) error {
	parsed, err := ParseFingerprint(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

func (a Address) IsZero() bool {
	return a == Address{}
}

// String renders the address with the mixed-case checksum used by wallets.
func (a Address) String() string {
	return checksumHex(a[:])
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText accepts the zero address so recovered signers round-trip.
func (a *Address) UnmarshalText(b []byte) error {
	var parsed Address
	if err := decodeFixedHex(string(b), parsed[:], "address"); err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (d DomainID) String() string {
	return checksumHex(d[:])
}

func (d DomainID) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func decodeFixedHex(s string, dst []byte, what string) error {
	if len(s) > maxHexInput {
		return dErrors.New(dErrors.CodeInvalidInput, what+" is too long")
	}
	s, _ = cutHexPrefix(strings.TrimSpace(s))
	if len(s) != hex.EncodedLen(len(dst)) {
		return dErrors.New(dErrors.CodeInvalidInput, what+" must be "+strconv.Itoa(len(dst))+" hex-encoded bytes")
	}
	if _, err := hex.Decode(dst, []byte(s)); err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, what+" is not valid hex")
	}
	return nil
}

func cutHexPrefix(s string) (string, bool) {
	if rest, ok := strings.CutPrefix(s, "0x"); ok {
		return rest, true
	}
	return strings.CutPrefix(s, "0X")
}

func checksumHex(b []byte) string {
	lower := []byte(hex.EncodeToString(b))
	h := sha3.NewLegacyKeccak256()
	h.Write(lower)
	sum := h.Sum(nil)
	for i, c := range lower {
		if c < 'a' || c > 'f' {
			continue
		}
		nibble := sum[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if nibble&0x0f >= 8 {
			lower[i] = c - ('a' - 'A')
		}
	}
	return "0x" + string(lower)
}
