package domain

import (
	"testing"
)

// FuzzParseFingerprint checks that parsing never panics and that accepted
// input round-trips through String.
func FuzzParseFingerprint(f *testing.F) {
	f.Add("")
	f.Add("0x6f2a0c1bbd3c1ad33a8b7c9fb0d1a1e35e7c4cbbd4f9f6b7d8d1d2c3b4a59687")
	f.Add("0X6F2A0C1BBD3C1AD33A8B7C9FB0D1A1E35E7C4CBBD4F9F6B7D8D1D2C3B4A59687")
	f.Add("not-a-fingerprint")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		fp, err := ParseFingerprint(input)
		if err != nil {
			return
		}
		again, err := ParseFingerprint(fp.String())
		if err != nil {
			t.Fatalf("canonical form rejected: %v", err)
		}
		if again != fp {
			t.Fatal("round-trip changed fingerprint")
		}
	})
}

// FuzzParseNonce checks that accepted nonces survive a decimal round-trip.
func FuzzParseNonce(f *testing.F) {
	f.Add("0")
	f.Add("4")
	f.Add("0xdeadbeef")
	f.Add("-1")
	f.Add("115792089237316195423570985008687907853269984665640564039457584007913129639935")

	f.Fuzz(func(t *testing.T, input string) {
		n, err := ParseNonce(input)
		if err != nil {
			return
		}
		again, err := ParseNonce(n.String())
		if err != nil {
			t.Fatalf("canonical form rejected: %v", err)
		}
		if again != n {
			t.Fatal("round-trip changed nonce")
		}
	})
}
