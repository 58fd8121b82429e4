package services

import (
	"errors"
	"fmt"
	"maps"
)

// Kind categorises service failures so transports can map them without inspecting messages.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindInvalidAddress     Kind = "invalid_address"
	KindInvalidLineItem    Kind = "invalid_line_item"
	KindNotFound           Kind = "not_found"
	KindGatewayUnavailable Kind = "gateway_unavailable"
	KindInvalidSignature   Kind = "invalid_signature"
	KindInternal           Kind = "internal"
)

var (
	// ErrValidation matches any *Error of KindValidation via errors.Is.
	ErrValidation = &Error{Kind: KindValidation}
	// ErrInvalidAddress matches any *Error of KindInvalidAddress.
	ErrInvalidAddress = &Error{Kind: KindInvalidAddress}
	// ErrInvalidLineItem matches any *Error of KindInvalidLineItem.
	ErrInvalidLineItem = &Error{Kind: KindInvalidLineItem}
	// ErrNotFound matches any *Error of KindNotFound.
	ErrNotFound = &Error{Kind: KindNotFound}
	// ErrGatewayUnavailable matches any *Error of KindGatewayUnavailable.
	ErrGatewayUnavailable = &Error{Kind: KindGatewayUnavailable}
	// ErrInvalidSignature matches any *Error of KindInvalidSignature.
	ErrInvalidSignature = &Error{Kind: KindInvalidSignature}
	// ErrInternal matches any *Error of KindInternal.
	ErrInternal = &Error{Kind: KindInternal}
)

// Error is the tagged failure returned by every service operation.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches on Kind so sentinels compare equal to any error of the same kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || e == nil || other == nil {
		return false
	}
	return e.Kind == other.Kind
}

// KindOf reports the kind of err, or KindInternal when err is not a service error.
func KindOf(err error) Kind {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return KindInternal
}

func newError(kind Kind, message string, cause error, details map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Details: maps.Clone(details), cause: cause}
}

func validationError(message string) error {
	return newError(KindValidation, message, nil, nil)
}

func notFoundError(message string) error {
	return newError(KindNotFound, message, nil, nil)
}

func internalError(message string, cause error) error {
	return newError(KindInternal, message, cause, nil)
}
