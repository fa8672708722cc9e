package registry

import (
	"bytes"
	"errors"
	"testing"

	"Oraculum/internal/record"
)

// TestInstructionRoundtrip verifies each kind encodes and decodes back.
func TestInstructionRoundtrip(t *testing.T) {
	var key [record.KeySize]byte
	key[0] = 0xAA

	var ref [record.RefSize]byte
	ref[31] = 0xBB

	cases := []struct {
		name string
		ins  Instruction
	}{
		{"init_trust_anchor", Instruction{Kind: KindInitTrustAnchor, AuthorityKey: key}},
		{"init_entity", Instruction{Kind: KindInitEntity, EntityRef: ref}},
		{"update_entity", Instruction{
			Kind:        KindUpdateEntity,
			EntityRef:   ref,
			Attestation: make([]byte, record.AttestationSize),
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data := tc.ins.Encode()

			got, err := DecodeInstruction(data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}

			if got.Kind != tc.ins.Kind {
				t.Errorf("kind: got %v, want %v", got.Kind, tc.ins.Kind)
			}
			if got.AuthorityKey != tc.ins.AuthorityKey {
				t.Error("authority key mismatch")
			}
			if got.EntityRef != tc.ins.EntityRef {
				t.Error("entity ref mismatch")
			}
			if !bytes.Equal(got.Attestation, tc.ins.Attestation) {
				t.Error("attestation bytes mismatch")
			}
		})
	}
}

// TestDecodeInstructionMalformed verifies empty input, unknown tags, and
// wrong payload widths all report ErrMalformedRecord.
func TestDecodeInstructionMalformed(t *testing.T) {
	cases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"unknown tag", []byte{0x7F}},
		{"anchor short payload", append([]byte{byte(KindInitTrustAnchor)}, make([]byte, 31)...)},
		{"anchor long payload", append([]byte{byte(KindInitTrustAnchor)}, make([]byte, 33)...)},
		{"entity short payload", append([]byte{byte(KindInitEntity)}, make([]byte, 16)...)},
		{"update short payload", append([]byte{byte(KindUpdateEntity)}, make([]byte, 8)...)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeInstruction(tc.data); !errors.Is(err, ErrMalformedRecord) {
				t.Errorf("got %v, want ErrMalformedRecord", err)
			}
		})
	}
}

// TestDecodeUpdateCarriesAttestationVerbatim verifies the codec does not
// enforce the attestation width: the update pipeline owns that check.
func TestDecodeUpdateCarriesAttestationVerbatim(t *testing.T) {
	var ref [record.RefSize]byte

	payload := append([]byte{byte(KindUpdateEntity)}, ref[:]...)
	payload = append(payload, 0x01, 0x02, 0x03) // deliberately not 80 bytes

	ins, err := DecodeInstruction(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if !bytes.Equal(ins.Attestation, []byte{0x01, 0x02, 0x03}) {
		t.Errorf("attestation: got %x", ins.Attestation)
	}
}
