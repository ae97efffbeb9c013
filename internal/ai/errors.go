package ai

import (
	"fmt"

	appErr "github.com/xxxsen/ragpipe/internal/pkg/errors"
)

var ErrUnavailable = fmt.Errorf("%w: ai provider unavailable", appErr.ErrUpstream)

// UpstreamError describes a failed call to an embedding or completion API.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s request failed: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s request failed: %s", e.Provider, e.Message)
}

func (e *UpstreamError) Unwrap() error {
	return appErr.ErrUpstream
}
