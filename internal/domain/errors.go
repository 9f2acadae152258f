package domain

import (
	"encoding/json"
	"fmt"
)

// ErrorKind tags a FilterError.
type ErrorKind string

const (
	KindAlreadyRunning     ErrorKind = "alreadyRunning"
	KindNotRunning         ErrorKind = "notRunning"
	KindUnsupported        ErrorKind = "unsupported"
	KindServiceUnavailable ErrorKind = "serviceUnavailable"
	KindPlatform           ErrorKind = "platform"
)

// FilterError is the error type returned by hooks and the filter service.
// Only KindPlatform carries a message.
type FilterError struct {
	Kind    ErrorKind
	Message string
}

var (
	ErrAlreadyRunning     = &FilterError{Kind: KindAlreadyRunning}
	ErrNotRunning         = &FilterError{Kind: KindNotRunning}
	ErrUnsupported        = &FilterError{Kind: KindUnsupported}
	ErrServiceUnavailable = &FilterError{Kind: KindServiceUnavailable}
)

// NewPlatformError builds a KindPlatform error with a formatted message.
func NewPlatformError(format string, args ...any) *FilterError {
	return &FilterError{Kind: KindPlatform, Message: fmt.Sprintf(format, args...)}
}

func (e *FilterError) Error() string {
	switch e.Kind {
	case KindAlreadyRunning:
		return "mouse filter is already running"
	case KindNotRunning:
		return "mouse filter is not running"
	case KindUnsupported:
		return "mouse filter is not supported on this platform"
	case KindServiceUnavailable:
		return "mouse filter service is unavailable"
	case KindPlatform:
		return "platform error: " + e.Message
	default:
		return fmt.Sprintf("filter error (%s): %s", e.Kind, e.Message)
	}
}

// Is matches any FilterError of the same kind, so errors.Is(err, ErrNotRunning)
// works for decoded errors too.
func (e *FilterError) Is(target error) bool {
	t, ok := target.(*FilterError)
	if !ok {
		return false
	}
	if t.Kind == KindPlatform && t.Message != "" {
		return e.Kind == t.Kind && e.Message == t.Message
	}
	return e.Kind == t.Kind
}

type filterErrorJSON struct {
	Name    ErrorKind `json:"name"`
	Message string    `json:"message,omitempty"`
}

// MarshalJSON encodes as {"name": kind, "message": msg}.
func (e *FilterError) MarshalJSON() ([]byte, error) {
	return json.Marshal(filterErrorJSON{Name: e.Kind, Message: e.Message})
}

// UnmarshalJSON decodes the form produced by MarshalJSON.
func (e *FilterError) UnmarshalJSON(data []byte) error {
	var v filterErrorJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v.Name == "" {
		return fmt.Errorf("filter error missing name")
	}
	e.Kind = v.Name
	e.Message = v.Message
	return nil
}
