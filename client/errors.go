package client

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed backend call.
type ErrorKind string

const (
	// KindConnectivity covers network failures and timeouts.
	KindConnectivity ErrorKind = "connectivity"
	// KindStatus is a non-200 response.
	KindStatus ErrorKind = "status"
	// KindProtocol is a 200 response whose body could not be understood.
	KindProtocol ErrorKind = "protocol"
)

// ErrHistoryNotReady is returned by GetHistory while the backend has no
// history record for the prompt yet.
var ErrHistoryNotReady = errors.New("history not ready")

// APIError describes a failed call to the ComfyUI backend.
type APIError struct {
	Op         string
	Kind       ErrorKind
	StatusCode int
	// Body holds the start of the response body for status and protocol
	// errors, or the backend's own error message when it sent one.
	Body string
	Err  error
}

func (e *APIError) Error() string {
	switch e.Kind {
	case KindStatus:
		if e.Body != "" {
			return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
		}
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.StatusCode)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an APIError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

const maxErrorBody = 512

func truncateBody(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}
