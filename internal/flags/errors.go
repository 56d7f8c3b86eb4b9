package flags

import (
	"errors"
	"fmt"
)

var ErrNotConfigured = errors.New("flag client not configured")

// TransportError wraps every failure to reach or get a 2xx answer from the flag
// control plane. StatusCode is zero when no response was received.
type TransportError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("flag %s failed with status %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("flag %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
