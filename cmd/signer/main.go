// Command signer is the Issuer's offline tooling: it manages the signing key,
// computes the message bound to a (fingerprint, nonce) pair for a registry
// instance, signs it, and mints bearer tokens for the registry API.
//
// Usage:
//
//	signer keygen
//	signer address -key <hex>
//	signer message -fingerprint <hex> -nonce <n> (-domain <hex> | -instance <name>)
//	signer sign    -key <hex> -fingerprint <hex> -nonce <n> (-domain <hex> | -instance <name>)
//	signer token   -key <hex> -secret <jwt signing key> [-ttl 1h]
package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	jwttoken "notary/internal/jwt_token"
	"notary/internal/registry/binder"
	"notary/pkg/crypto/ethsig"
	id "notary/pkg/domain"
)

var errUsage = errors.New("usage: signer <keygen|address|message|sign|token> [flags]")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "keygen":
		return keygen(out)
	case "address":
		return address(rest, out)
	case "message":
		return message(rest, out)
	case "sign":
		return sign(rest, out)
	case "token":
		return token(rest, out)
	default:
		return fmt.Errorf("unknown command %q\n%w", cmd, errUsage)
	}
}

func keygen(out io.Writer) error {
	key, err := ethsig.GenerateKey()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "private_key: 0x%s\naddress:     %s\n", hex.EncodeToString(key.Serialize()), ethsig.AddressOf(key.PubKey()))
	return nil
}

func address(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	keyHex := fs.String("key", os.Getenv("SIGNER_KEY"), "issuer private key (hex)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := ethsig.ParsePrivateKey(*keyHex)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, ethsig.AddressOf(key.PubKey()))
	return nil
}

// bindingFlags are shared by message and sign.
type bindingFlags struct {
	fingerprint string
	nonce       string
	domain      string
	instance    string
}

func (b *bindingFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&b.fingerprint, "fingerprint", "", "document fingerprint (32-byte hex)")
	fs.StringVar(&b.nonce, "nonce", "", "nonce (decimal or 0x hex)")
	fs.StringVar(&b.domain, "domain", "", "registry domain id (20-byte hex), see GET /registry")
	fs.StringVar(&b.instance, "instance", "", "derive the domain id from a registry instance name")
}

func (b *bindingFlags) parse() (*binder.Binder, id.Fingerprint, id.Nonce, error) {
	fp, err := id.ParseFingerprint(b.fingerprint)
	if err != nil {
		return nil, id.Fingerprint{}, id.Nonce{}, err
	}
	nonce, err := id.ParseNonce(b.nonce)
	if err != nil {
		return nil, id.Fingerprint{}, id.Nonce{}, err
	}
	var domain id.DomainID
	switch {
	case b.domain != "" && b.instance != "":
		return nil, id.Fingerprint{}, id.Nonce{}, errors.New("use either -domain or -instance, not both")
	case b.domain != "":
		if domain, err = id.ParseDomainID(b.domain); err != nil {
			return nil, id.Fingerprint{}, id.Nonce{}, err
		}
	case b.instance != "":
		domain = id.DeriveDomainID(b.instance)
	default:
		return nil, id.Fingerprint{}, id.Nonce{}, errors.New("-domain or -instance is required")
	}
	return binder.New(domain), fp, nonce, nil
}

func message(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("message", flag.ContinueOnError)
	var bf bindingFlags
	bf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	b, fp, nonce, err := bf.parse()
	if err != nil {
		return err
	}
	msg := b.Message(fp, nonce)
	digest := b.Digest(fp, nonce)
	fmt.Fprintf(out, "message: 0x%s\ndigest:  0x%s\n", hex.EncodeToString(msg[:]), hex.EncodeToString(digest[:]))
	return nil
}

func sign(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	keyHex := fs.String("key", os.Getenv("SIGNER_KEY"), "issuer private key (hex)")
	var bf bindingFlags
	bf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := ethsig.ParsePrivateKey(*keyHex)
	if err != nil {
		return err
	}
	b, fp, nonce, err := bf.parse()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, ethsig.EncodeSignature(ethsig.SignMessage(b.Message(fp, nonce), key)))
	return nil
}

func token(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	keyHex := fs.String("key", os.Getenv("SIGNER_KEY"), "issuer private key (hex)")
	secret := fs.String("secret", os.Getenv("JWT_SIGNING_KEY"), "JWT signing key shared with the registry")
	issuer := fs.String("issuer", envOr("JWT_ISSUER", "notary"), "token issuer claim")
	audience := fs.String("audience", envOr("JWT_AUDIENCE", "notary-api"), "token audience claim")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *secret == "" {
		return errors.New("-secret is required")
	}
	key, err := ethsig.ParsePrivateKey(*keyHex)
	if err != nil {
		return err
	}
	tok, err := mintToken(key, *secret, *issuer, *audience, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, tok)
	return nil
}

func mintToken(key *secp256k1.PrivateKey, secret, issuer, audience string, ttl time.Duration) (string, error) {
	svc := jwttoken.NewJWTService(secret, issuer, audience)
	return svc.GenerateAccessToken(ethsig.AddressOf(key.PubKey()), ttl)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
