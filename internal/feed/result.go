package feed

import (
	"errors"
	"fmt"

	"Oraculum/internal/record"
	"Oraculum/internal/registry"
)

// Status is the one-byte outcome carried in a result frame.
type Status uint8

const (
	// StatusOK means the instruction was applied.
	StatusOK Status = 0

	// StatusAlreadyInitialized maps registry.ErrAlreadyInitialized.
	StatusAlreadyInitialized Status = 1

	// StatusNotInitialized maps registry.ErrNotInitialized.
	StatusNotInitialized Status = 2

	// StatusMalformed maps registry.ErrMalformedRecord.
	StatusMalformed Status = 3

	// StatusSignatureInvalid maps registry.ErrSignatureInvalid.
	StatusSignatureInvalid Status = 4

	// StatusStale maps registry.ErrStale.
	StatusStale Status = 5

	// StatusDuplicateFrame means a byte-identical frame arrived within the
	// dedup window and was dropped before dispatch.
	StatusDuplicateFrame Status = 6

	// StatusInternal covers storage and other unexpected failures.
	StatusInternal Status = 255
)

// statusFor maps a registry error to its wire status.
func statusFor(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, registry.ErrAlreadyInitialized):
		return StatusAlreadyInitialized
	case errors.Is(err, registry.ErrNotInitialized):
		return StatusNotInitialized
	case errors.Is(err, registry.ErrMalformedRecord):
		return StatusMalformed
	case errors.Is(err, registry.ErrSignatureInvalid):
		return StatusSignatureInvalid
	case errors.Is(err, registry.ErrStale):
		return StatusStale
	default:
		return StatusInternal
	}
}

// Err returns the registry error kind for a non-OK status.
func (s Status) Err() error {
	switch s {
	case StatusOK:
		return nil
	case StatusAlreadyInitialized:
		return registry.ErrAlreadyInitialized
	case StatusNotInitialized:
		return registry.ErrNotInitialized
	case StatusMalformed:
		return registry.ErrMalformedRecord
	case StatusSignatureInvalid:
		return registry.ErrSignatureInvalid
	case StatusStale:
		return registry.ErrStale
	case StatusDuplicateFrame:
		return fmt.Errorf("duplicate frame")
	default:
		return fmt.Errorf("internal error")
	}
}

// EncodeResult builds a result frame: 1 status byte, then the updated
// entity state when the operation produced one.
func EncodeResult(status Status, state *record.EntityState) []byte {
	if state == nil {
		return []byte{byte(status)}
	}

	buf := make([]byte, 1, 1+record.EntityStateSize)
	buf[0] = byte(status)

	return append(buf, state.Encode()...)
}

// DecodeResult parses a result frame.
func DecodeResult(data []byte) (Status, *record.EntityState, error) {
	if len(data) == 0 {
		return StatusInternal, nil, fmt.Errorf("empty result frame")
	}

	status := Status(data[0])
	payload := data[1:]

	if len(payload) == 0 {
		return status, nil, nil
	}

	state, err := record.DecodeEntityState(payload)
	if err != nil {
		return status, nil, fmt.Errorf("result state: %w", err)
	}

	return status, &state, nil
}
