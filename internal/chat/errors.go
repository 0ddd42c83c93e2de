package chat

import (
	"errors"
	"fmt"
)

// Kind classifies failures that callers are allowed to see.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindAccessDenied
	KindAuthentication
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	case KindAccessDenied:
		return "access_denied"
	case KindAuthentication:
		return "authentication_failure"
	default:
		return "internal_error"
	}
}

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var chatErr *Error
	if errors.As(err, &chatErr) {
		return chatErr.Kind
	}
	return KindInternal
}

// PublicMessage returns a message safe to show to clients. Internal failures
// are reduced to a generic text.
func PublicMessage(err error) string {
	var chatErr *Error
	if errors.As(err, &chatErr) && chatErr.Kind != KindInternal {
		return chatErr.Message
	}
	return "internal error"
}

func NewValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NewNotFoundError(what string) *Error {
	return &Error{Kind: KindNotFound, Message: what + " not found"}
}

func NewAccessDeniedError(msg string) *Error {
	return &Error{Kind: KindAccessDenied, Message: msg}
}

func NewAuthenticationError(err error) *Error {
	return &Error{Kind: KindAuthentication, Message: "authentication failed", Err: err}
}
