// Package registry ingests signed attestation records into durable
// per-entity state. Every mutation flows through one pipeline: decode,
// verify against the trust anchor, check freshness, apply the transition
// policy, persist. Any failure aborts the operation with no partial write.
package registry

import (
	"encoding/hex"
	"fmt"

	"Oraculum/internal/attest"
	"Oraculum/internal/logger"
	"Oraculum/internal/policy"
	"Oraculum/internal/record"
	"Oraculum/internal/storage"
)

// anchorKey is the storage address of the trust anchor singleton.
var anchorKey = []byte("anchor")

// entityPrefix is the storage address prefix for entity state records.
var entityPrefix = []byte("e:")

// Registry applies registry operations against a byte-addressed store.
// It performs no locking of its own: callers mutating the same entity must
// be serialized by the surrounding environment (see Service), while
// operations on disjoint entities may run fully in parallel.
type Registry struct {
	db     *storage.Storage // db is the backing record store
	engine *attest.Engine   // engine verifies attestation signatures
	tiers  policy.Tiers     // tiers is the score transition policy
}

// New creates a registry over the given store, verification engine, and
// transition policy.
func New(db *storage.Storage, engine *attest.Engine, tiers policy.Tiers) *Registry {
	return &Registry{
		db:     db,
		engine: engine,
		tiers:  tiers,
	}
}

// Scheme returns the signing scheme the registry verifies under.
func (r *Registry) Scheme() attest.Scheme {
	return r.engine.Scheme()
}

// Apply dispatches a decoded instruction to its operation.
// For entity operations the resulting entity state is returned.
func (r *Registry) Apply(ins Instruction) (*record.EntityState, error) {
	switch ins.Kind {
	case KindInitTrustAnchor:
		return nil, r.InitializeTrustAnchor(ins.AuthorityKey)

	case KindInitEntity:
		state, err := r.InitializeEntity(ins.EntityRef)
		if err != nil {
			return nil, err
		}
		return &state, nil

	case KindUpdateEntity:
		state, err := r.UpdateEntity(ins.EntityRef, ins.Attestation)
		if err != nil {
			return nil, err
		}
		return &state, nil

	default:
		return nil, fmt.Errorf("unknown instruction kind %d:\n%w", ins.Kind, ErrMalformedRecord)
	}
}

// InitializeTrustAnchor stores the authority public key.
// Fails with ErrAlreadyInitialized on any call after the first; there is no
// rotation operation.
func (r *Registry) InitializeTrustAnchor(authorityKey [record.KeySize]byte) error {
	anchor, err := r.loadAnchor()
	if err != nil {
		return err
	}

	if anchor.Initialized {
		logger.Warn("trust anchor init rejected", "reason", "already initialized")
		return fmt.Errorf("trust anchor:\n%w", ErrAlreadyInitialized)
	}

	anchor = record.TrustAnchor{
		Initialized:  true,
		AuthorityKey: authorityKey,
	}

	if err := r.db.Set(anchorKey, anchor.Encode()); err != nil {
		return fmt.Errorf("persist trust anchor:\n%w", err)
	}

	logger.Info("trust anchor initialized", "authority", hex.EncodeToString(authorityKey[:]))

	return nil
}

// TrustAnchor returns the current trust anchor record.
// The zero record (Initialized false) is returned before initialization.
func (r *Registry) TrustAnchor() (record.TrustAnchor, error) {
	return r.loadAnchor()
}

// InitializeEntity allocates a zeroed entity state bound to ref.
// Pure allocation with no trust implications; fails with
// ErrAlreadyInitialized if the record already exists.
func (r *Registry) InitializeEntity(ref [record.RefSize]byte) (record.EntityState, error) {
	existing, found, err := r.loadEntity(ref)
	if err != nil {
		return record.EntityState{}, err
	}

	if found && existing.Initialized {
		logger.Warn("entity init rejected", "entity", refString(ref), "reason", "already initialized")
		return record.EntityState{}, fmt.Errorf("entity %s:\n%w", refString(ref), ErrAlreadyInitialized)
	}

	state := record.EntityState{
		Initialized: true,
		EntityRef:   ref,
	}

	if err := r.db.Set(entityKey(ref), state.Encode()); err != nil {
		return record.EntityState{}, fmt.Errorf("persist entity state:\n%w", err)
	}

	logger.Info("entity initialized", "entity", refString(ref))

	return state, nil
}

// Entity returns the entity state for ref.
// Returns ErrNotInitialized if no such record exists.
func (r *Registry) Entity(ref [record.RefSize]byte) (record.EntityState, error) {
	state, found, err := r.loadEntity(ref)
	if err != nil {
		return record.EntityState{}, err
	}

	if !found || !state.Initialized {
		return record.EntityState{}, fmt.Errorf("entity %s:\n%w", refString(ref), ErrNotInitialized)
	}

	return state, nil
}

// UpdateEntity runs the verified update pipeline for one attestation.
// Preconditions are checked in a fixed order and the first failure wins:
// anchor initialized, entity initialized, record decodes at its exact
// width, signature verifies, timestamp advances. Only then does the
// transition run, and the new state is committed in a single write.
func (r *Registry) UpdateEntity(ref [record.RefSize]byte, attestation []byte) (record.EntityState, error) {
	anchor, err := r.loadAnchor()
	if err != nil {
		return record.EntityState{}, err
	}

	if !anchor.Initialized {
		logger.Warn("update rejected", "entity", refString(ref), "reason", "trust anchor not initialized")
		return record.EntityState{}, fmt.Errorf("trust anchor:\n%w", ErrNotInitialized)
	}

	state, found, err := r.loadEntity(ref)
	if err != nil {
		return record.EntityState{}, err
	}

	if !found || !state.Initialized {
		logger.Warn("update rejected", "entity", refString(ref), "reason", "entity not initialized")
		return record.EntityState{}, fmt.Errorf("entity %s:\n%w", refString(ref), ErrNotInitialized)
	}

	rec, err := record.DecodeAttestation(attestation)
	if err != nil {
		logger.Warn("update rejected", "entity", refString(ref), "reason", err)
		return record.EntityState{}, fmt.Errorf("decode attestation:\n%w", ErrMalformedRecord)
	}

	// Verification strictly precedes freshness: an unverified record must
	// never influence stored state, not even the replay bookkeeping.
	if !r.engine.Verify(rec, anchor.AuthorityKey) {
		logger.Warn("update rejected", "entity", refString(ref), "reason", "signature invalid")
		return record.EntityState{}, fmt.Errorf("attestation for entity %s:\n%w", refString(ref), ErrSignatureInvalid)
	}

	if err := checkFreshness(rec.Timestamp, state.LastTimestamp); err != nil {
		logger.Warn("update rejected", "entity", refString(ref),
			"timestamp", rec.Timestamp, "last", state.LastTimestamp, "reason", "stale")
		return record.EntityState{}, err
	}

	// Compute into locals; nothing is persisted until the single Set below.
	updated := state
	updated.LastValue = rec.Value
	updated.LastTimestamp = rec.Timestamp
	updated.AccumulatedScore = r.tiers.Apply(rec.Value, state.AccumulatedScore)

	if err := r.db.Set(entityKey(ref), updated.Encode()); err != nil {
		return record.EntityState{}, fmt.Errorf("persist entity state:\n%w", err)
	}

	logger.Info("entity updated", "entity", refString(ref),
		"value", updated.LastValue, "timestamp", updated.LastTimestamp, "score", updated.AccumulatedScore)

	return updated, nil
}

// checkFreshness rejects timestamps that do not strictly advance.
// This is the sole replay defense; timestamps come from the trusted
// authority and are not clock-validated here.
func checkFreshness(timestamp, last int64) error {
	if timestamp <= last {
		return fmt.Errorf("timestamp %d not newer than %d:\n%w", timestamp, last, ErrStale)
	}

	return nil
}

// EntityCount returns the number of initialized entities.
func (r *Registry) EntityCount() (int, error) {
	count := 0

	err := r.db.IteratePrefix(entityPrefix, func(key, value []byte) error {
		count++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count entities:\n%w", err)
	}

	return count, nil
}

// loadAnchor reads the trust anchor record, returning the zero record if it
// does not exist yet.
func (r *Registry) loadAnchor() (record.TrustAnchor, error) {
	data, err := r.db.Get(anchorKey)
	if err != nil {
		return record.TrustAnchor{}, fmt.Errorf("read trust anchor:\n%w", err)
	}

	if data == nil {
		return record.TrustAnchor{}, nil
	}

	anchor, err := record.DecodeTrustAnchor(data)
	if err != nil {
		return record.TrustAnchor{}, fmt.Errorf("decode trust anchor:\n%w", ErrMalformedRecord)
	}

	return anchor, nil
}

// loadEntity reads an entity state record. found is false if absent.
func (r *Registry) loadEntity(ref [record.RefSize]byte) (record.EntityState, bool, error) {
	data, err := r.db.Get(entityKey(ref))
	if err != nil {
		return record.EntityState{}, false, fmt.Errorf("read entity state:\n%w", err)
	}

	if data == nil {
		return record.EntityState{}, false, nil
	}

	state, err := record.DecodeEntityState(data)
	if err != nil {
		return record.EntityState{}, false, fmt.Errorf("decode entity state:\n%w", ErrMalformedRecord)
	}

	return state, true, nil
}

// entityKey builds the storage address for an entity: "e:" + ref.
func entityKey(ref [record.RefSize]byte) []byte {
	key := make([]byte, len(entityPrefix)+record.RefSize)
	copy(key, entityPrefix)
	copy(key[len(entityPrefix):], ref[:])

	return key
}

// refString renders a shortened entity reference for log lines.
func refString(ref [record.RefSize]byte) string {
	return hex.EncodeToString(ref[:8])
}
