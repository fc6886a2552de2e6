package admission

import (
	"mime"
	"strings"

	"github.com/rustyonions/ron-core/internal/apierr"
)

// CheckDecompression implements spec.md §4.7.1 step 5, grounded on
// original_source/crates/omnigate/src/middleware/decompress_guard.rs: reject
// stacked or unsupported Content-Encoding with 415, and reject a declared
// body whose worst-case decompressed size would exceed cfg.MaxExpandedBytes
// with 413.
//
// contentEncoding is the raw header value (may list multiple codings
// separated by commas, e.g. "gzip, identity"); contentLength is the
// declared (still-compressed) body size.
func CheckDecompression(cfg Config, contentEncoding string, contentLength int64, hasLength bool) (apierr.Envelope, bool) {
	codings := splitEncodings(contentEncoding)

	if cfg.DenyStacked && len(codings) > 1 {
		return apierr.New(apierr.ReasonUnsupportedMediaType, "", "stacked Content-Encoding is not supported"), false
	}
	for _, c := range codings {
		if !allowedEncoding(cfg.AllowedEncodings, c) {
			return apierr.New(apierr.ReasonUnsupportedMediaType, "", "unsupported Content-Encoding: "+c), false
		}
	}

	isCompressed := len(codings) > 0 && !(len(codings) == 1 && codings[0] == "identity")
	if isCompressed && hasLength && contentLength*cfg.ExpansionCap > cfg.MaxExpandedBytes {
		return apierr.New(apierr.ReasonPayloadTooLarge, "", "declared body could expand past the configured cap"), false
	}
	return apierr.Envelope{}, true
}

func splitEncodings(header string) []string {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		// mime.ParseMediaType tolerates stray parameters some clients
		// append (e.g. "gzip;q=1"); fall back to the raw token otherwise.
		if tok, _, err := mime.ParseMediaType(p); err == nil {
			p = tok
		}
		out = append(out, p)
	}
	return out
}

func allowedEncoding(allowed []string, coding string) bool {
	for _, a := range allowed {
		if a == coding {
			return true
		}
	}
	return false
}
