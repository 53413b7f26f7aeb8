package serialization

import "errors"

// Errors returned by the token-stream reader and writer.
var (
	// ErrUnexpectedToken reports a token-order violation. The stream is
	// strictly ordered, so this is unrecoverable for the caller.
	ErrUnexpectedToken = errors.New("unexpected token")
	// ErrInvalidToken reports an attempt to write a token containing
	// whitespace or no characters at all.
	ErrInvalidToken = errors.New("invalid token")
	// ErrCorrupt reports malformed stream contents other than a token
	// mismatch.
	ErrCorrupt = errors.New("corrupt stream")
)
