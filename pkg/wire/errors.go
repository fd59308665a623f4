package wire

import "fmt"

// DecodeErrorKind classifies why Decode rejected an input (spec.md §7).
type DecodeErrorKind int

const (
	DecodeErrTooShort DecodeErrorKind = iota
	DecodeErrBadVersion
	DecodeErrUnknownProfile
	DecodeErrEncryptedNoKey
	DecodeErrCompressed
	DecodeErrExtension
)

// DecodeError is returned by Decode for any malformed or unauthenticated
// input; the receiver always drops the packet, never propagating the error
// past the codec boundary (spec.md §7). Only DecodeErrEncryptedNoKey is
// counted (as a decrypt failure); other kinds are logged and not counted.
type DecodeError struct {
	Kind DecodeErrorKind
	Msg  string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("wire: decode error (%d): %s", e.Kind, e.Msg)
}

func newDecodeError(kind DecodeErrorKind, msg string) *DecodeError {
	return &DecodeError{Kind: kind, Msg: msg}
}

// IsEncryptedNoKey reports whether err is the specific "encrypted, no key
// configured" case, which callers treat as a silent drop + counter bump
// rather than a fatal condition.
func IsEncryptedNoKey(err error) bool {
	de, ok := err.(*DecodeError)
	return ok && de.Kind == DecodeErrEncryptedNoKey
}
