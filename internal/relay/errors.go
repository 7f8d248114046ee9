package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a post response carries no signed URL.
	ErrNotFound = errors.New("no stream credentials found")

	// ErrMalformedCredentials is returned when the signed URL is present but
	// one of the CloudFront parameters is missing or unparsable.
	ErrMalformedCredentials = errors.New("malformed stream credentials")

	// ErrMissingSessionID is returned when a request carries no tab id.
	ErrMissingSessionID = errors.New("missing tab id")

	// ErrUnauthorized is returned when no live credentials exist for a key.
	ErrUnauthorized = errors.New("stream credentials expired or missing")

	// ErrInvalidKey is returned by stores for keys with an empty session id
	// or a non-positive resource id.
	ErrInvalidKey = errors.New("invalid credential key")

	// ErrUpstreamTimeout is returned when the content host did not answer in time.
	ErrUpstreamTimeout = errors.New("upstream timeout")

	// ErrUpstreamTransport is returned for connection-level failures.
	ErrUpstreamTransport = errors.New("upstream transport failure")
)

// UpstreamError reports a non-2xx answer from the content host.
type UpstreamError struct {
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d", e.StatusCode)
}
