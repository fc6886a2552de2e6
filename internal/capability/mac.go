package capability

import (
	"crypto/subtle"
	"fmt"

	"lukechampine.com/blake3"
)

// macKeySize is the only key length lukechampine.com/blake3 accepts for
// keyed hashing.
const macKeySize = 32

// computeMACOverBytes computes the BLAKE3-keyed MAC of data under key.
func computeMACOverBytes(key, data []byte) ([]byte, error) {
	if len(key) != macKeySize {
		return nil, fmt.Errorf("capability: MAC key must be %d bytes, got %d", macKeySize, len(key))
	}
	h, err := blake3.New(32, key)
	if err != nil {
		return nil, fmt.Errorf("capability: keyed blake3: %w", err)
	}
	h.Write(data)
	return h.Sum(nil), nil
}

// computeMAC computes the expected MAC for tok under key, over the
// canonical CBOR encoding of tok with its Mac field omitted.
func computeMAC(key []byte, tok Token) ([]byte, error) {
	unsignedBytes, err := canonicalUnsignedBytes(tok)
	if err != nil {
		return nil, fmt.Errorf("capability: canonicalize token: %w", err)
	}
	return computeMACOverBytes(key, unsignedBytes)
}

// macsEqual compares two MACs in constant time.
func macsEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
