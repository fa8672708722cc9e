package registry

import (
	"fmt"

	"Oraculum/internal/record"
)

// Kind identifies a registry operation. The set is closed: every entry
// point decodes into one of these and dispatch matches exhaustively.
type Kind uint8

const (
	// KindInitTrustAnchor initializes the trust anchor with an authority key.
	KindInitTrustAnchor Kind = 0

	// KindInitEntity allocates a zeroed entity state for a reference.
	KindInitEntity Kind = 1

	// KindUpdateEntity applies a signed attestation to an entity.
	KindUpdateEntity Kind = 2
)

// String returns the operation name for diagnostics.
func (k Kind) String() string {
	switch k {
	case KindInitTrustAnchor:
		return "init_trust_anchor"
	case KindInitEntity:
		return "init_entity"
	case KindUpdateEntity:
		return "update_entity"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Instruction is a decoded registry operation.
// Only the fields relevant to Kind are meaningful.
type Instruction struct {
	Kind         Kind                 // Kind selects the operation
	AuthorityKey [record.KeySize]byte // AuthorityKey for KindInitTrustAnchor
	EntityRef    [record.RefSize]byte // EntityRef for KindInitEntity and KindUpdateEntity
	Attestation  []byte               // Attestation carries raw record bytes for KindUpdateEntity
}

// Encode serializes the instruction: 1 tag byte followed by the payload.
// The attestation payload is carried verbatim; its width is checked by the
// update pipeline, not by the instruction codec.
func (ins *Instruction) Encode() []byte {
	switch ins.Kind {
	case KindInitTrustAnchor:
		buf := make([]byte, 1+record.KeySize)
		buf[0] = byte(ins.Kind)
		copy(buf[1:], ins.AuthorityKey[:])
		return buf

	case KindInitEntity:
		buf := make([]byte, 1+record.RefSize)
		buf[0] = byte(ins.Kind)
		copy(buf[1:], ins.EntityRef[:])
		return buf

	case KindUpdateEntity:
		buf := make([]byte, 1+record.RefSize+len(ins.Attestation))
		buf[0] = byte(ins.Kind)
		copy(buf[1:], ins.EntityRef[:])
		copy(buf[1+record.RefSize:], ins.Attestation)
		return buf

	default:
		return []byte{byte(ins.Kind)}
	}
}

// DecodeInstruction parses instruction bytes received at an entry boundary.
// Unknown tags and wrong payload widths are malformed.
func DecodeInstruction(data []byte) (Instruction, error) {
	if len(data) == 0 {
		return Instruction{}, fmt.Errorf("empty instruction:\n%w", ErrMalformedRecord)
	}

	var ins Instruction
	ins.Kind = Kind(data[0])
	payload := data[1:]

	switch ins.Kind {
	case KindInitTrustAnchor:
		if len(payload) != record.KeySize {
			return Instruction{}, fmt.Errorf("init_trust_anchor payload: got %d bytes, want %d:\n%w",
				len(payload), record.KeySize, ErrMalformedRecord)
		}
		copy(ins.AuthorityKey[:], payload)

	case KindInitEntity:
		if len(payload) != record.RefSize {
			return Instruction{}, fmt.Errorf("init_entity payload: got %d bytes, want %d:\n%w",
				len(payload), record.RefSize, ErrMalformedRecord)
		}
		copy(ins.EntityRef[:], payload)

	case KindUpdateEntity:
		if len(payload) < record.RefSize {
			return Instruction{}, fmt.Errorf("update_entity payload: got %d bytes, want at least %d:\n%w",
				len(payload), record.RefSize, ErrMalformedRecord)
		}
		copy(ins.EntityRef[:], payload[:record.RefSize])
		ins.Attestation = make([]byte, len(payload)-record.RefSize)
		copy(ins.Attestation, payload[record.RefSize:])

	default:
		return Instruction{}, fmt.Errorf("unknown instruction tag %d:\n%w", data[0], ErrMalformedRecord)
	}

	return ins, nil
}
