package admission

import (
	"net/http"

	"github.com/rustyonions/ron-core/internal/apierr"
)

// CheckBodyCap implements spec.md §4.7.1 step 4: a declared Content-Length
// over cfg.MaxContentLength is rejected 413; a missing Content-Length is
// rejected 411 only when cfg.RejectOnMissingLength is set.
func CheckBodyCap(cfg Config, contentLength int64, hasLength bool) (apierr.Envelope, bool) {
	if !hasLength {
		if cfg.RejectOnMissingLength {
			return apierr.New(apierr.ReasonBadRequest, "length_required", "Content-Length is required").
				WithStatus(http.StatusLengthRequired), false
		}
		return apierr.Envelope{}, true
	}
	if contentLength > cfg.MaxContentLength {
		return apierr.New(apierr.ReasonPayloadTooLarge, "", "request body exceeds the configured size limit"), false
	}
	return apierr.Envelope{}, true
}
