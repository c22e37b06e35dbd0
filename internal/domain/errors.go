package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can tell "re-authenticate" apart
// from "tampered" or "try again later".
type ErrorKind string

const (
	KindCrypto   ErrorKind = "crypto"
	KindAuth     ErrorKind = "auth"
	KindNotFound ErrorKind = "not_found"
	KindExpired  ErrorKind = "expired"
	KindStorage  ErrorKind = "storage"
	KindInvalid  ErrorKind = "invalid"
)

// Error carries a kind, a stable code that is safe to show to clients, and an
// optional cause that must not be.
type Error struct {
	Kind    ErrorKind `json:"-"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same kind and, when the target names
// one, the same code. This lets wrapped copies match package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// Wrap returns a copy of e with cause attached.
func (e *Error) Wrap(cause error) error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message, Err: cause}
}

// Constructors

func NewCryptoError(code, message string, cause error) error {
	return &Error{Kind: KindCrypto, Code: code, Message: message, Err: cause}
}

func NewAuthError(code, message string, cause error) error {
	return &Error{Kind: KindAuth, Code: code, Message: message, Err: cause}
}

func NewNotFoundError(code, message string) error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

func NewExpiredError(code, message string, cause error) error {
	return &Error{Kind: KindExpired, Code: code, Message: message, Err: cause}
}

func NewStorageError(code, message string, cause error) error {
	return &Error{Kind: KindStorage, Code: code, Message: message, Err: cause}
}

// NewInvalidError reports a request the caller must not retry unchanged.
func NewInvalidError(code, message string) error {
	return &Error{Kind: KindInvalid, Code: code, Message: message}
}

var (
	// ErrSecretNotFound is returned when no session secret exists for a GUID.
	ErrSecretNotFound = &Error{Kind: KindNotFound, Code: "secret_not_found", Message: "session secret not found"}
	// ErrInvalidPublicKey is returned for malformed or off-curve points.
	ErrInvalidPublicKey = &Error{Kind: KindCrypto, Code: "invalid_public_key", Message: "invalid public key"}
	// ErrDecryptFailed is returned when an AEAD frame does not open.
	ErrDecryptFailed = &Error{Kind: KindCrypto, Code: "decryption_failed", Message: "frame decryption failed"}
)

// KindOf returns the kind of the first *Error in err's chain, or "" when
// there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the client-safe code of the first *Error in err's chain,
// falling back to "internal_error".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal_error"
}
