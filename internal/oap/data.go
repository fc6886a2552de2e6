package oap

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"lukechampine.com/blake3"
)

// DataHeader is the CBOR map prefix of a DATA frame's payload, per
// spec.md §4.5: `{"obj": "b3:<64hex>", ...}` immediately followed by raw
// body bytes.
type DataHeader struct {
	Obj string `cbor:"obj"`
}

// ErrDigestMismatch is returned when a DATA frame's declared digest does
// not match the BLAKE3 hash of its body.
var ErrDigestMismatch = fmt.Errorf("oap: obj digest mismatch")

// DecodeDataPayload splits a DATA frame's payload into its CBOR header and
// the raw body bytes that follow it, then verifies the header's "obj"
// digest against the body's BLAKE3 hash.
func DecodeDataPayload(payload []byte) (DataHeader, []byte, error) {
	r := bytes.NewReader(payload)
	dec := cbor.NewDecoder(r)

	var hdr DataHeader
	if err := dec.Decode(&hdr); err != nil {
		return DataHeader{}, nil, fmt.Errorf("oap: decode DATA header: %w", err)
	}

	body := payload[dec.NumBytesRead():]

	want := b3Digest(body)
	if hdr.Obj != want {
		return DataHeader{}, nil, ErrDigestMismatch
	}
	return hdr, body, nil
}

// EncodeDataPayload builds a DATA frame payload from a body: a canonical
// CBOR header naming the body's BLAKE3 digest, followed by the raw bytes.
func EncodeDataPayload(body []byte) ([]byte, error) {
	hdr := DataHeader{Obj: b3Digest(body)}
	hdrBytes, err := cbor.Marshal(hdr)
	if err != nil {
		return nil, fmt.Errorf("oap: encode DATA header: %w", err)
	}
	out := make([]byte, 0, len(hdrBytes)+len(body))
	out = append(out, hdrBytes...)
	out = append(out, body...)
	return out, nil
}

// b3Digest renders a body's BLAKE3-256 hash in the "b3:<64hex>" form named
// in spec.md §4.5.
func b3Digest(body []byte) string {
	sum := blake3.Sum256(body)
	return "b3:" + fmt.Sprintf("%x", sum[:])
}
