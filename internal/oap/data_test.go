package oap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeDataPayloadRoundTrip(t *testing.T) {
	body := []byte("hello rustyonions")
	payload, err := EncodeDataPayload(body)
	require.NoError(t, err)

	hdr, gotBody, err := DecodeDataPayload(payload)
	require.NoError(t, err)
	require.Equal(t, body, gotBody)
	require.Equal(t, b3Digest(body), hdr.Obj)
}

func TestDecodeDataPayloadRejectsDigestMismatch(t *testing.T) {
	payload, err := EncodeDataPayload([]byte("original"))
	require.NoError(t, err)

	// Corrupt the body after the CBOR header so the digest no longer
	// matches.
	payload[len(payload)-1] ^= 0xFF

	_, _, err = DecodeDataPayload(payload)
	require.ErrorIs(t, err, ErrDigestMismatch)
}
