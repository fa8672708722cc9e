package registry

import (
	"encoding/binary"
	"sync"

	"Oraculum/internal/record"
)

// lockStripes is the number of entity lock stripes.
const lockStripes = 64

// Service wraps a Registry with the serialization guarantee the core
// relies on: two operations mutating the same entity never interleave,
// while operations on disjoint entities run in parallel. Entry points
// (HTTP API, attestation feed) go through Service, never the Registry
// directly.
type Service struct {
	reg   *Registry
	locks [lockStripes]sync.Mutex
}

// NewService creates the serializing wrapper around a registry.
func NewService(reg *Registry) *Service {
	return &Service{reg: reg}
}

// Registry exposes the underlying registry for read-only calls.
func (s *Service) Registry() *Registry {
	return s.reg
}

// Apply serializes and dispatches one instruction.
func (s *Service) Apply(ins Instruction) (*record.EntityState, error) {
	lock := s.lockFor(ins)
	lock.Lock()
	defer lock.Unlock()

	return s.reg.Apply(ins)
}

// ApplyBytes decodes instruction bytes and applies them.
func (s *Service) ApplyBytes(data []byte) (*record.EntityState, error) {
	ins, err := DecodeInstruction(data)
	if err != nil {
		return nil, err
	}

	return s.Apply(ins)
}

// lockFor picks the lock stripe for an instruction. Anchor operations use a
// fixed stripe; entity operations hash the reference so the same entity
// always maps to the same stripe.
func (s *Service) lockFor(ins Instruction) *sync.Mutex {
	if ins.Kind == KindInitTrustAnchor {
		return &s.locks[0]
	}

	idx := binary.LittleEndian.Uint64(ins.EntityRef[:8]) % lockStripes

	return &s.locks[idx]
}
