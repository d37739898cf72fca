// Package chaterr classifies failures on the chat client path and turns them into
// notices a user can act on.
package chaterr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Kind is the category of a chat failure
type Kind string

const (
	KindNetwork    Kind = "network"
	KindTimeout    Kind = "timeout"
	KindService    Kind = "service"
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindStorage    Kind = "storage"
)

// Error is a classified chat failure
type Error struct {
	Kind       Kind
	Status     int
	Code       string
	Message    string
	Retryable  bool
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Network wraps a transport-level failure
func Network(err error) *Error {
	return &Error{Kind: KindNetwork, Message: "network request failed", Retryable: true, Err: err}
}

// Offline is returned when a send is refused because the client is known to be offline
func Offline() *Error {
	return &Error{Kind: KindNetwork, Code: "offline", Message: "client is offline", Retryable: true}
}

// Timeout wraps an attempt that exceeded its deadline
func Timeout(err error) *Error {
	return &Error{Kind: KindTimeout, Message: "request timed out", Retryable: true, Err: err}
}

// Validation rejects user input before it reaches the network
func Validation(reason string) *Error {
	return &Error{Kind: KindValidation, Status: http.StatusBadRequest, Code: "invalid_input", Message: reason}
}

// Storage wraps a persistence backend failure
func Storage(err error) *Error {
	return &Error{Kind: KindStorage, Message: "storage unavailable", Err: err}
}

// FromStatus builds the error for a non-2xx chat response
func FromStatus(status int, code, message string, retryAfter time.Duration) *Error {
	kind := KindService
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		kind = KindValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = KindAuth
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		kind = KindTimeout
	}
	return &Error{
		Kind:       kind,
		Status:     status,
		Code:       code,
		Message:    message,
		Retryable:  IsRetryableStatus(status),
		RetryAfter: retryAfter,
	}
}

// IsRetryableStatus reports whether an HTTP status marks a transient failure
func IsRetryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Classify maps any error onto an *Error. Unknown errors are terminal service errors.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Timeout(err)
		}
		return Network(err)
	}

	return &Error{Kind: KindService, Message: err.Error(), Err: err}
}

// IsRetryable reports whether err is worth another attempt.
// Network errors, timeouts and 408/429/500/502/503/504 are retryable.
func IsRetryable(err error) bool {
	ce := Classify(err)
	if ce == nil {
		return false
	}
	switch ce.Kind {
	case KindNetwork, KindTimeout:
		return true
	case KindValidation, KindAuth, KindStorage:
		return false
	}
	return ce.Retryable
}

// IsOffline reports whether err came from the offline fast-fail
func IsOffline(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == KindNetwork && ce.Code == "offline"
}

// IsKind reports whether err classifies as kind
func IsKind(err error, kind Kind) bool {
	ce := Classify(err)
	return ce != nil && ce.Kind == kind
}
