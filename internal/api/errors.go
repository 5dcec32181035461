package api

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes client errors for handling.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindTransport is a network-level failure: no response was received.
	KindTransport
	// KindStatus is a non-2xx response.
	KindStatus
	// KindDecode is a response body that could not be decoded.
	KindDecode
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindStatus:
		return "status"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Error is returned by every Client call except on cancellation, which is
// reported as the bare context error.
type Error struct {
	Kind       ErrorKind
	Op         string // endpoint path
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Message)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: HTTP %d %s", e.Op, e.StatusCode, e.Message)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func IsTransport(err error) bool { return isKind(err, KindTransport) }

func IsStatus(err error) bool { return isKind(err, KindStatus) }

func IsDecode(err error) bool { return isKind(err, KindDecode) }

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func isKind(err error, kind ErrorKind) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind == kind
	}
	return false
}
