package contact

import (
	"errors"
	"fmt"
)

// Errors
var (
	// ErrMalformedSerialization means a card body could not be parsed. Decode
	// records it on the card and carries on.
	ErrMalformedSerialization = errors.New("malformed card serialization")
	// ErrSignatureInvalid means no supplied key verified a card signature.
	ErrSignatureInvalid = errors.New("card signature invalid")
	// ErrDecryptionFailed means no supplied key decrypted a card.
	ErrDecryptionFailed = errors.New("card decryption failed")
	// ErrKeyUnavailable means no usable key was supplied.
	ErrKeyUnavailable = errors.New("key unavailable")
	// ErrInvalidEmail means a record holds an address that is not an email.
	ErrInvalidEmail = errors.New("invalid email address")
)

// EmailError reports the offending address of an ErrInvalidEmail.
type EmailError struct {
	Index   int
	Address string
}

func (e *EmailError) Error() string {
	return fmt.Sprintf("%v: email %d %q", ErrInvalidEmail, e.Index, e.Address)
}

func (e *EmailError) Unwrap() error {
	return ErrInvalidEmail
}
