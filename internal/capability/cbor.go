package capability

import (
	"encoding/base64"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// AuthError is the stable decode/verify error vocabulary, grounded on
// original_source/crates/ron-auth's AuthError enum.
type AuthError string

func (e AuthError) Error() string { return string(e) }

const (
	ErrBounds      AuthError = "capability: token exceeds configured bounds"
	ErrUnknownKid  AuthError = "capability: no key registered for (kid, tid)"
	ErrMacMismatch AuthError = "capability: MAC verification failed"
	ErrMalformed   AuthError = "capability: malformed token"
)

var strictDecMode = func() cbor.DecMode {
	opts := cbor.DecOptions{
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}
	mode, err := opts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("capability: building strict CBOR decode mode: %v", err))
	}
	return mode
}()

var canonicalEncMode = func() cbor.EncMode {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("capability: building canonical CBOR encode mode: %v", err))
	}
	return mode
}()

// DecodeToken decodes a Base64URL-encoded CBOR token, enforcing the byte
// and caveat-count bounds from cfg before returning it.
func DecodeToken(tokenB64URL string, cfg VerifierConfig) (Token, error) {
	raw, err := base64.RawURLEncoding.DecodeString(tokenB64URL)
	if err != nil {
		return Token{}, fmt.Errorf("%w: base64url decode: %v", ErrMalformed, err)
	}
	if len(raw) > cfg.MaxTokenBytes {
		return Token{}, ErrBounds
	}

	var tok Token
	if err := strictDecMode.Unmarshal(raw, &tok); err != nil {
		return Token{}, fmt.Errorf("%w: cbor decode: %v", ErrMalformed, err)
	}
	if len(tok.Caveats) > cfg.MaxCaveats {
		return Token{}, ErrBounds
	}
	return tok, nil
}

// canonicalUnsignedBytes renders the canonical CBOR encoding of tok with
// its Mac field omitted, the exact bytes the MAC is computed over.
func canonicalUnsignedBytes(tok Token) ([]byte, error) {
	unsigned := Token{V: tok.V, Kid: tok.Kid, Tid: tok.Tid, Scope: tok.Scope, Caveats: tok.Caveats}
	return canonicalEncMode.Marshal(unsigned)
}

// EncodeToken produces a Base64URL token string for tok, computing its MAC
// with key first. Used by tests and token-issuing callers.
func EncodeToken(tok Token, key []byte) (string, error) {
	unsignedBytes, err := canonicalUnsignedBytes(tok)
	if err != nil {
		return "", fmt.Errorf("capability: encode unsigned token: %w", err)
	}
	mac, err := computeMACOverBytes(key, unsignedBytes)
	if err != nil {
		return "", err
	}
	tok.Mac = mac

	full, err := canonicalEncMode.Marshal(tok)
	if err != nil {
		return "", fmt.Errorf("capability: encode signed token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(full), nil
}
