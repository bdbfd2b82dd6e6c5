// Package apperror holds the error kinds shared across paycal.
// Callers wrap them with fmt.Errorf("...: %w", err) and classify with errors.Is.
package apperror

import "errors"

var (
	// ErrBadRequest marks a malformed or unverifiable inbound request (HTTP 400).
	ErrBadRequest = errors.New("bad request")

	// ErrConfiguration marks missing deployment configuration (HTTP 500, detail logged only).
	ErrConfiguration = errors.New("configuration error")

	// ErrRemote marks a failure returned by an external API.
	ErrRemote = errors.New("remote service error")

	// ErrRemoteNotFound marks a remote resource that does not exist (any more).
	ErrRemoteNotFound = errors.New("remote resource not found")

	// ErrMissingField marks a decoded payload lacking a field required by its kind.
	ErrMissingField = errors.New("missing required field")

	// ErrInternal marks anything else.
	ErrInternal = errors.New("internal error")
)
