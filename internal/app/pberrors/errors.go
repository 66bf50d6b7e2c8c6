// Package pberrors defines the sentinel error kinds the core distinguishes,
// per the error-handling design: auth, validation, conflict, upstream-fetch,
// transient, and security-refusal failures. Call sites wrap these with
// fmt.Errorf("%w: ...") and callers classify with errors.Is.
package pberrors

import (
	"errors"
	"net/http"
)

var (
	// ErrAuthMissing is returned when a request carries no node/session credential.
	ErrAuthMissing = errors.New("pberrors: authentication missing")

	// ErrAuthInvalid is returned when a supplied credential does not match.
	ErrAuthInvalid = errors.New("pberrors: authentication invalid")

	// ErrValidation is returned for malformed input that the caller can fix.
	ErrValidation = errors.New("pberrors: validation failed")

	// ErrConflict is returned on unique-key violations, notably rollback-restore.
	ErrConflict = errors.New("pberrors: conflict")

	// ErrUpstreamFetch is returned when an external fetch (blocklist URL, PTR,
	// resolver warm/clear) fails. The failing entity records its own
	// last_error; compilation or the calling job proceeds without that source.
	ErrUpstreamFetch = errors.New("pberrors: upstream fetch failed")

	// ErrTransient is returned for retryable failures: DB deadlocks, fetch
	// timeouts. Schedulers retry on the next cadence; HTTP handlers surface 500.
	ErrTransient = errors.New("pberrors: transient failure")

	// ErrSecurityRefusal is returned at boot when admin defaults are unchanged
	// and no bypass flag is set. The process must exit nonzero before serving.
	ErrSecurityRefusal = errors.New("pberrors: refusing to start with insecure defaults")

	// ErrNotFound is returned when a lookup by id/key finds no row.
	ErrNotFound = errors.New("pberrors: not found")
)

// StatusForError maps a sentinel kind to the HTTP status code the outer
// handlers should write. Unrecognized errors map to 500.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, ErrAuthMissing), errors.Is(err, ErrAuthInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUpstreamFetch):
		return http.StatusBadGateway
	case errors.Is(err, ErrTransient):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
