package registry

import "errors"

// Error kinds surfaced by registry operations. Every failed operation
// returns exactly one kind; callers test with errors.Is and retry, if at
// all, by resubmitting a corrected or newer input.
var (
	// ErrAlreadyInitialized is returned when initializing a record twice.
	ErrAlreadyInitialized = errors.New("already initialized")

	// ErrNotInitialized is returned when an operation requires a record
	// that has not been initialized yet.
	ErrNotInitialized = errors.New("not initialized")

	// ErrMalformedRecord is returned for wrong byte widths and undecodable
	// instructions.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrSignatureInvalid is returned when an attestation does not carry a
	// valid authority signature. Key parse, signature parse, and mismatch
	// failures are deliberately indistinguishable.
	ErrSignatureInvalid = errors.New("signature verification failed")

	// ErrStale is returned when an attestation's timestamp does not advance
	// past the entity's last accepted timestamp.
	ErrStale = errors.New("stale attestation")
)
