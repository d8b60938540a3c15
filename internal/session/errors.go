package session

import (
	"errors"
	"fmt"
)

// RequestError is a problem with an inbound request that the client is told
// about. The request otherwise does nothing.
type RequestError struct {
	// Code identifies the error category.
	Code RequestErrorCode

	// Message is a human-readable description.
	Message string

	// Request is the offending request, rendered for logs.
	Request string
}

// RequestErrorCode categorizes request errors.
type RequestErrorCode string

const (
	// ErrCodeUnknownAddress indicates the block or element does not exist.
	ErrCodeUnknownAddress RequestErrorCode = "UNKNOWN_ADDRESS"

	// ErrCodeAmbiguousName indicates a friendly name matched several nodes.
	ErrCodeAmbiguousName RequestErrorCode = "AMBIGUOUS_NAME"

	// ErrCodeUnknownScreen indicates a screen switch to a missing screen.
	ErrCodeUnknownScreen RequestErrorCode = "UNKNOWN_SCREEN"

	// ErrCodeUnknownEvent indicates the node does not handle the event.
	ErrCodeUnknownEvent RequestErrorCode = "UNKNOWN_EVENT"
)

// Error implements the error interface.
func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsAddressError returns true for unknown or ambiguous addresses and screens.
func IsAddressError(err error) bool {
	var re *RequestError
	if errors.As(err, &re) {
		switch re.Code {
		case ErrCodeUnknownAddress, ErrCodeAmbiguousName, ErrCodeUnknownScreen:
			return true
		}
	}
	return false
}

// IsEventError returns true when the target node does not handle the event.
func IsEventError(err error) bool {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Code == ErrCodeUnknownEvent
	}
	return false
}
