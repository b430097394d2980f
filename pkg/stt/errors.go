package stt

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindUnknown Kind = iota
	// KindTransient covers rate limits, timeouts and temporary outages.
	KindTransient
	KindAuthentication
	KindInvalidPayload
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuthentication:
		return "authentication"
	case KindInvalidPayload:
		return "invalid payload"
	default:
		return "unknown"
	}
}

var (
	ErrTransient      = errors.New("transient service error")
	ErrAuthentication = errors.New("authentication failed")
	ErrInvalidPayload = errors.New("invalid payload")
)

// Error is a classified failure returned by a Client.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := "stt: " + e.Kind.String() + " error"
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrAuthentication:
		return e.Kind == KindAuthentication
	case ErrInvalidPayload:
		return e.Kind == KindInvalidPayload
	}
	return false
}

// IsTransient reports whether retrying the same request may succeed.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// KindForStatus maps an HTTP status code to an error kind.
func KindForStatus(code int) Kind {
	switch {
	case code == http.StatusTooManyRequests,
		code == http.StatusRequestTimeout,
		code == http.StatusConflict,
		code >= 500:
		return KindTransient
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return KindAuthentication
	case code == http.StatusBadRequest,
		code == http.StatusNotFound,
		code == http.StatusRequestEntityTooLarge,
		code == http.StatusUnsupportedMediaType,
		code == http.StatusUnprocessableEntity:
		return KindInvalidPayload
	default:
		return KindUnknown
	}
}
