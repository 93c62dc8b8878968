package notify

import (
	"errors"
	"fmt"
)

// Store level sentinels.
var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrPushTokenTaken = errors.New("push token already registered to another device")
)

// Kind classifies a failure for the caller.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuth
	KindCredential
	KindDispatch
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindCredential:
		return "credential"
	case KindDispatch:
		return "dispatch"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Error carries a caller-facing Message and the internal cause in Err.
// Only Message is ever rendered to clients.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func ValidationError(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

func AuthError(msg string) error {
	return &Error{Kind: KindAuth, Message: msg}
}

func CredentialError(msg string, err error) error {
	return &Error{Kind: KindCredential, Message: msg, Err: err}
}

func DispatchError(msg string, err error) error {
	return &Error{Kind: KindDispatch, Message: msg, Err: err}
}

func PersistenceError(msg string, err error) error {
	return &Error{Kind: KindPersistence, Message: msg, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// PublicMessage returns the text that is safe to show a caller.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
