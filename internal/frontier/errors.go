package frontier

import "errors"

var (
	// ErrUnknownURL is returned when an operation names a URL the frontier has never seen.
	ErrUnknownURL = errors.New("url is not in the frontier")

	// ErrIllegalTransition is returned when a state change is not allowed from the current state.
	ErrIllegalTransition = errors.New("illegal url state transition")

	// ErrInvalidURL is returned when a URL cannot be parsed or is not http(s).
	ErrInvalidURL = errors.New("invalid url")

	// ErrEmptySite is returned when a scope is built without a site.
	ErrEmptySite = errors.New("site must not be empty")
)
