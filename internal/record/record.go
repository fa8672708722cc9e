// Package record defines the fixed-width binary layouts of the durable and
// transient records handled by the registry. All layouts are little-endian
// with no padding; sizes are part of the wire contract and never change
// without a format version bump.
package record

import (
	"encoding/binary"
	"fmt"
)

const (
	// RefSize is the size of an entity reference in bytes.
	RefSize = 32

	// KeySize is the size of an authority public key in bytes (ed25519).
	KeySize = 32

	// SignatureSize is the size of an attestation signature in bytes (ed25519).
	SignatureSize = 64

	// TrustAnchorSize is the encoded size of a TrustAnchor record.
	// 1 byte initialized flag + 32 byte authority key.
	TrustAnchorSize = 1 + KeySize

	// EntityStateSize is the encoded size of an EntityState record.
	// 1 byte initialized flag + 32 byte ref + u64 value + i64 timestamp + u64 score.
	EntityStateSize = 1 + RefSize + 8 + 8 + 8

	// AttestationSize is the encoded size of an AttestationRecord.
	// u64 value + i64 timestamp + 64 byte signature.
	AttestationSize = 8 + 8 + SignatureSize
)

// TrustAnchor holds the single public key authorized to produce attestations.
// Written once at initialization; immutable afterwards.
type TrustAnchor struct {
	Initialized  bool          // Initialized is set by the first initialization call
	AuthorityKey [KeySize]byte // AuthorityKey is the trusted ed25519 public key
}

// Encode serializes the anchor into its 33-byte layout.
func (a *TrustAnchor) Encode() []byte {
	buf := make([]byte, TrustAnchorSize)
	buf[0] = encodeBool(a.Initialized)
	copy(buf[1:], a.AuthorityKey[:])

	return buf
}

// DecodeTrustAnchor parses a 33-byte TrustAnchor record.
func DecodeTrustAnchor(data []byte) (TrustAnchor, error) {
	if len(data) != TrustAnchorSize {
		return TrustAnchor{}, fmt.Errorf("trust anchor size: got %d, want %d", len(data), TrustAnchorSize)
	}

	var a TrustAnchor
	a.Initialized = data[0] != 0
	copy(a.AuthorityKey[:], data[1:])

	return a, nil
}

// EntityState is the durable per-entity record mutated only through verified
// updates. LastTimestamp strictly increases on every accepted update.
type EntityState struct {
	Initialized      bool          // Initialized is set by the entity allocation call
	EntityRef        [RefSize]byte // EntityRef is the opaque entity identifier
	LastValue        uint64        // LastValue is the most recently accepted attested value
	LastTimestamp    int64         // LastTimestamp is the timestamp of the last accepted attestation
	AccumulatedScore uint64        // AccumulatedScore is the running score derived from attested values
}

// Encode serializes the state into its 57-byte layout.
func (e *EntityState) Encode() []byte {
	buf := make([]byte, EntityStateSize)
	buf[0] = encodeBool(e.Initialized)
	copy(buf[1:1+RefSize], e.EntityRef[:])
	binary.LittleEndian.PutUint64(buf[33:41], e.LastValue)
	binary.LittleEndian.PutUint64(buf[41:49], uint64(e.LastTimestamp))
	binary.LittleEndian.PutUint64(buf[49:57], e.AccumulatedScore)

	return buf
}

// DecodeEntityState parses a 57-byte EntityState record.
func DecodeEntityState(data []byte) (EntityState, error) {
	if len(data) != EntityStateSize {
		return EntityState{}, fmt.Errorf("entity state size: got %d, want %d", len(data), EntityStateSize)
	}

	var e EntityState
	e.Initialized = data[0] != 0
	copy(e.EntityRef[:], data[1:1+RefSize])
	e.LastValue = binary.LittleEndian.Uint64(data[33:41])
	e.LastTimestamp = int64(binary.LittleEndian.Uint64(data[41:49]))
	e.AccumulatedScore = binary.LittleEndian.Uint64(data[49:57])

	return e, nil
}

// Attestation is the transient signed record supplied on every update call.
// It is owned by the external attestation channel and never persisted here.
type Attestation struct {
	Value     uint64              // Value is the attested value
	Timestamp int64               // Timestamp is the authority-assigned freshness marker
	Signature [SignatureSize]byte // Signature is the authority's ed25519 signature
}

// Encode serializes the attestation into its 80-byte layout.
func (r *Attestation) Encode() []byte {
	buf := make([]byte, AttestationSize)
	binary.LittleEndian.PutUint64(buf[0:8], r.Value)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(r.Timestamp))
	copy(buf[16:], r.Signature[:])

	return buf
}

// DecodeAttestation parses an 80-byte attestation record.
// The layout width is exact: shorter or longer input is rejected.
func DecodeAttestation(data []byte) (Attestation, error) {
	if len(data) != AttestationSize {
		return Attestation{}, fmt.Errorf("attestation size: got %d, want %d", len(data), AttestationSize)
	}

	var r Attestation
	r.Value = binary.LittleEndian.Uint64(data[0:8])
	r.Timestamp = int64(binary.LittleEndian.Uint64(data[8:16]))
	copy(r.Signature[:], data[16:])

	return r, nil
}

// encodeBool maps a bool to its 1-byte wire form.
func encodeBool(b bool) byte {
	if b {
		return 1
	}
	return 0
}
