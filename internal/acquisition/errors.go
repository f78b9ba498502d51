package acquisition

import "errors"

// Failure classes surfaced by tiers and collaborators. Only ErrSourceDisallowed
// aborts a run; every other class lets the cascade continue.
var (
	ErrSourceDisallowed   = errors.New("source url not allowed")
	ErrDisallowedRedirect = errors.New("disallowed redirect target")
	ErrTooManyRedirects   = errors.New("too many redirects")
	ErrMissingLocation    = errors.New("redirect without location")
	ErrNotDocument        = errors.New("response is not a document")
	ErrTooLarge           = errors.New("document exceeds size ceiling")
	ErrUnreadable         = errors.New("document retrieved but unreadable")
	ErrDeadlineExceeded   = errors.New("deadline exceeded before analysis")
	ErrExhausted          = errors.New("no document found")
	ErrNotConfigured      = errors.New("collaborator not configured")
)
