// Package attest reconstructs and verifies the signed message carried by
// attestation records. The exact byte sequence the authority signs is a
// deployment-time contract: both sides fix one Scheme and records produced
// under any other scheme fail verification.
package attest

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"

	"Oraculum/internal/record"
)

// MessageSize is the size of the reconstructed signed message:
// value (8 bytes LE) followed by timestamp (8 bytes LE).
const MessageSize = 16

// Scheme identifies the signed-message construction.
type Scheme uint8

const (
	// SchemeRaw signs the raw 16-byte message directly.
	SchemeRaw Scheme = 1

	// SchemeBlake3 signs the blake3-256 hash of the 16-byte message.
	SchemeBlake3 Scheme = 2
)

// DefaultScheme is the scheme used when none is configured.
const DefaultScheme = SchemeRaw

// String returns the scheme's wire-contract name.
func (s Scheme) String() string {
	switch s {
	case SchemeRaw:
		return "raw-v1"
	case SchemeBlake3:
		return "blake3-v2"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// ParseScheme maps a wire-contract name to a Scheme.
func ParseScheme(name string) (Scheme, error) {
	switch name {
	case "raw-v1":
		return SchemeRaw, nil
	case "blake3-v2":
		return SchemeBlake3, nil
	default:
		return 0, fmt.Errorf("unknown signing scheme: %q", name)
	}
}

// Engine verifies attestation signatures under one fixed scheme.
type Engine struct {
	scheme Scheme // scheme is the deployment-wide signed-message construction
}

// NewEngine creates an engine for the given scheme.
// Unknown schemes are rejected rather than guessed at.
func NewEngine(scheme Scheme) (*Engine, error) {
	switch scheme {
	case SchemeRaw, SchemeBlake3:
		return &Engine{scheme: scheme}, nil
	default:
		return nil, fmt.Errorf("unknown signing scheme: %d", scheme)
	}
}

// Scheme returns the engine's configured scheme.
func (e *Engine) Scheme() Scheme {
	return e.scheme
}

// BuildMessage reconstructs the exact 16-byte sequence covered by the
// authority's signature: value LE8 followed by timestamp LE8.
func BuildMessage(value uint64, timestamp int64) [MessageSize]byte {
	var msg [MessageSize]byte
	binary.LittleEndian.PutUint64(msg[0:8], value)
	binary.LittleEndian.PutUint64(msg[8:16], uint64(timestamp))

	return msg
}

// Verify checks the attestation's signature against the trusted key.
// It returns a single yes/no answer: key parse failures, malleable signature
// encodings, and verification mismatches are indistinguishable to the caller.
func (e *Engine) Verify(r record.Attestation, trustedKey [record.KeySize]byte) bool {
	// Reject non-canonical s before the curve check. crypto/ed25519 also
	// rejects s >= L, but a cleared top prefilter keeps malleable encodings
	// out regardless of verifier internals.
	if r.Signature[63]&0xE0 != 0 {
		return false
	}

	// A small-order public key or R component lets the group equation hold
	// for signatures forged without any private key (with A of order 1,
	// [k]A vanishes and any s with R = [s]B verifies). crypto/ed25519
	// accepts these points, so their encodings are rejected here.
	if isSmallOrder(trustedKey) {
		return false
	}

	var sigR [record.KeySize]byte
	copy(sigR[:], r.Signature[:record.KeySize])
	if isSmallOrder(sigR) {
		return false
	}

	msg := e.signedBytes(r.Value, r.Timestamp)

	return ed25519.Verify(trustedKey[:], msg, r.Signature[:])
}

// smallOrderPoints holds the canonical encodings of the curve's eight
// small-order points. The sign bit of the last byte is masked before
// comparison, so the non-canonical sign-flipped variants match too.
var smallOrderPoints = [7][record.KeySize]byte{
	// y = 0 (order 4)
	{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
	// y = 1, the identity (order 1)
	{0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
	// order 8
	{0x26, 0xe8, 0x95, 0x8f, 0xc2, 0xb2, 0x27, 0xb0,
		0x45, 0xc3, 0xf4, 0x89, 0xf2, 0xef, 0x98, 0xf0,
		0xd5, 0xdf, 0xac, 0x05, 0xd3, 0xc6, 0x33, 0x39,
		0xb1, 0x38, 0x02, 0x88, 0x6d, 0x53, 0xfc, 0x05},
	// order 8
	{0xc7, 0x17, 0x6a, 0x70, 0x3d, 0x4d, 0xd8, 0x4f,
		0xba, 0x3c, 0x0b, 0x76, 0x0d, 0x10, 0x67, 0x0f,
		0x2a, 0x20, 0x53, 0xfa, 0x2c, 0x39, 0xcc, 0xc6,
		0x4e, 0xc7, 0xfd, 0x77, 0x92, 0xac, 0x03, 0x7a},
	// y = p-1 (order 2)
	{0xec, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x7f},
	// y = p, non-canonical zero (order 4)
	{0xed, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x7f},
	// y = p+1, non-canonical identity (order 1)
	{0xee, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x7f},
}

// isSmallOrder reports whether p encodes a point in the small-order
// subgroup, in either sign-bit variant.
func isSmallOrder(p [record.KeySize]byte) bool {
	for _, bad := range smallOrderPoints {
		if p[31]&0x7f != bad[31] {
			continue
		}

		match := true
		for i := 0; i < 31; i++ {
			if p[i] != bad[i] {
				match = false
				break
			}
		}

		if match {
			return true
		}
	}

	return false
}

// Sign produces the authority-side signature over (value, timestamp).
func (e *Engine) Sign(priv ed25519.PrivateKey, value uint64, timestamp int64) [record.SignatureSize]byte {
	var sig [record.SignatureSize]byte
	copy(sig[:], ed25519.Sign(priv, e.signedBytes(value, timestamp)))

	return sig
}

// SignRecord builds a complete attestation record signed by the authority.
func (e *Engine) SignRecord(priv ed25519.PrivateKey, value uint64, timestamp int64) record.Attestation {
	return record.Attestation{
		Value:     value,
		Timestamp: timestamp,
		Signature: e.Sign(priv, value, timestamp),
	}
}

// signedBytes returns the bytes actually passed to ed25519 under the
// engine's scheme.
func (e *Engine) signedBytes(value uint64, timestamp int64) []byte {
	msg := BuildMessage(value, timestamp)

	if e.scheme == SchemeBlake3 {
		sum := blake3.Sum256(msg[:])
		return sum[:]
	}

	return msg[:]
}
