// Package apperrors defines the error taxonomy shared by the pipeline stages.
//
// Errors are classified with errors.Mark so the original message and stack are
// kept while errors.Is matches the class.
package apperrors

import "github.com/cockroachdb/errors"

var (
	// ErrUnauthenticated means the access token is missing, expired or rejected.
	// Callers redirect to login; it is never retried.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrUpstreamUnavailable means a transport-level failure calling the catalog
	// or the language model.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrMalformedModelOutput means the model reply did not follow the
	// Songs:/Artists: contract. Not fatal.
	ErrMalformedModelOutput = errors.New("malformed model output")

	// ErrNoValidatedMatch means a single candidate could not be confirmed in
	// the catalog. Not fatal.
	ErrNoValidatedMatch = errors.New("no validated match")
)

// Unauthenticated marks err as ErrUnauthenticated.
func Unauthenticated(err error) error {
	if err == nil {
		return ErrUnauthenticated
	}
	return errors.Mark(err, ErrUnauthenticated)
}

// Upstream marks err as ErrUpstreamUnavailable.
func Upstream(err error) error {
	if err == nil {
		return ErrUpstreamUnavailable
	}
	return errors.Mark(err, ErrUpstreamUnavailable)
}

// IsUnauthenticated reports whether err is classified as ErrUnauthenticated.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}

// IsUpstream reports whether err is classified as ErrUpstreamUnavailable.
func IsUpstream(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable)
}
