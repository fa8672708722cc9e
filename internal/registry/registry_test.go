package registry

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"os"
	"testing"

	"Oraculum/internal/attest"
	"Oraculum/internal/policy"
	"Oraculum/internal/record"
	"Oraculum/internal/storage"
)

// newTestStorage creates a temporary storage for testing.
func newTestStorage(t *testing.T) *storage.Storage {
	t.Helper()

	dir, err := os.MkdirTemp("", "registry_test_*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	db, err := storage.New(dir)
	if err != nil {
		os.RemoveAll(dir)
		t.Fatalf("failed to create storage: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
		os.RemoveAll(dir)
	})

	return db
}

// newTestRegistry creates a registry with the default policy and a fresh
// authority key pair.
func newTestRegistry(t *testing.T) (*Registry, ed25519.PrivateKey, [record.KeySize]byte) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate authority key: %v", err)
	}

	var key [record.KeySize]byte
	copy(key[:], pub)

	engine, err := attest.NewEngine(attest.SchemeRaw)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	reg := New(newTestStorage(t), engine, policy.DefaultTiers())

	return reg, priv, key
}

// testRef builds an entity reference from a seed byte.
func testRef(seed byte) [record.RefSize]byte {
	var ref [record.RefSize]byte
	for i := range ref {
		ref[i] = seed
	}
	return ref
}

// signedAttestation builds an 80-byte attestation signed by the authority.
func signedAttestation(priv ed25519.PrivateKey, value uint64, timestamp int64) []byte {
	engine, _ := attest.NewEngine(attest.SchemeRaw)
	rec := engine.SignRecord(priv, value, timestamp)
	return rec.Encode()
}

// TestInitializeTrustAnchor verifies the anchor is stored and readable.
func TestInitializeTrustAnchor(t *testing.T) {
	reg, _, key := newTestRegistry(t)

	if err := reg.InitializeTrustAnchor(key); err != nil {
		t.Fatalf("init anchor: %v", err)
	}

	anchor, err := reg.TrustAnchor()
	if err != nil {
		t.Fatalf("read anchor: %v", err)
	}

	if !anchor.Initialized {
		t.Error("anchor not marked initialized")
	}
	if anchor.AuthorityKey != key {
		t.Error("stored authority key differs from input")
	}
}

// TestInitializeTrustAnchorTwice verifies the second call fails with
// ErrAlreadyInitialized and leaves the first key in place.
func TestInitializeTrustAnchorTwice(t *testing.T) {
	reg, _, key := newTestRegistry(t)

	if err := reg.InitializeTrustAnchor(key); err != nil {
		t.Fatalf("first init: %v", err)
	}

	var other [record.KeySize]byte
	other[0] = 0xFF

	err := reg.InitializeTrustAnchor(other)
	if !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("second init: got %v, want ErrAlreadyInitialized", err)
	}

	anchor, _ := reg.TrustAnchor()
	if anchor.AuthorityKey != key {
		t.Error("authority key changed by rejected init")
	}
}

// TestInitializeEntity verifies allocation zeroes all attested fields.
func TestInitializeEntity(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ref := testRef(1)

	state, err := reg.InitializeEntity(ref)
	if err != nil {
		t.Fatalf("init entity: %v", err)
	}

	if !state.Initialized {
		t.Error("entity not marked initialized")
	}
	if state.EntityRef != ref {
		t.Error("entity ref not bound")
	}
	if state.LastValue != 0 || state.LastTimestamp != 0 || state.AccumulatedScore != 0 {
		t.Errorf("attested fields not zeroed: %+v", state)
	}
}

// TestInitializeEntityTwice verifies double allocation fails with
// ErrAlreadyInitialized and the state is unchanged.
func TestInitializeEntityTwice(t *testing.T) {
	reg, priv, key := newTestRegistry(t)
	ref := testRef(2)

	if err := reg.InitializeTrustAnchor(key); err != nil {
		t.Fatalf("init anchor: %v", err)
	}
	if _, err := reg.InitializeEntity(ref); err != nil {
		t.Fatalf("init entity: %v", err)
	}

	// Advance the entity so a reset would be visible.
	if _, err := reg.UpdateEntity(ref, signedAttestation(priv, 80, 100)); err != nil {
		t.Fatalf("update: %v", err)
	}

	_, err := reg.InitializeEntity(ref)
	if !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("second init: got %v, want ErrAlreadyInitialized", err)
	}

	state, err := reg.Entity(ref)
	if err != nil {
		t.Fatalf("read entity: %v", err)
	}
	if state.LastTimestamp != 100 || state.AccumulatedScore != 10 {
		t.Errorf("state changed by rejected init: %+v", state)
	}
}

// TestUpdateEntityRequiresAnchor verifies precondition 1: the trust anchor
// must be initialized before any update.
func TestUpdateEntityRequiresAnchor(t *testing.T) {
	reg, priv, _ := newTestRegistry(t)
	ref := testRef(3)

	if _, err := reg.InitializeEntity(ref); err != nil {
		t.Fatalf("init entity: %v", err)
	}

	_, err := reg.UpdateEntity(ref, signedAttestation(priv, 80, 100))
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("update without anchor: got %v, want ErrNotInitialized", err)
	}
}

// TestUpdateEntityRequiresEntity verifies precondition 2: the entity state
// must be initialized.
func TestUpdateEntityRequiresEntity(t *testing.T) {
	reg, priv, key := newTestRegistry(t)

	if err := reg.InitializeTrustAnchor(key); err != nil {
		t.Fatalf("init anchor: %v", err)
	}

	_, err := reg.UpdateEntity(testRef(4), signedAttestation(priv, 80, 100))
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("update without entity: got %v, want ErrNotInitialized", err)
	}
}

// TestUpdateEntityMalformedRecord verifies precondition 3: wrong-width
// attestation bytes fail with ErrMalformedRecord.
func TestUpdateEntityMalformedRecord(t *testing.T) {
	reg, _, key := newTestRegistry(t)
	ref := testRef(5)

	if err := reg.InitializeTrustAnchor(key); err != nil {
		t.Fatalf("init anchor: %v", err)
	}
	if _, err := reg.InitializeEntity(ref); err != nil {
		t.Fatalf("init entity: %v", err)
	}

	for _, size := range []int{0, 16, 79, 81} {
		_, err := reg.UpdateEntity(ref, make([]byte, size))
		if !errors.Is(err, ErrMalformedRecord) {
			t.Errorf("update with %d bytes: got %v, want ErrMalformedRecord", size, err)
		}
	}
}

// TestUpdateEntityForgedSignature verifies precondition 4: a record signed
// by an untrusted key is rejected with ErrSignatureInvalid.
func TestUpdateEntityForgedSignature(t *testing.T) {
	reg, _, key := newTestRegistry(t)
	ref := testRef(6)

	if err := reg.InitializeTrustAnchor(key); err != nil {
		t.Fatalf("init anchor: %v", err)
	}
	if _, err := reg.InitializeEntity(ref); err != nil {
		t.Fatalf("init entity: %v", err)
	}

	_, forger, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate forger key: %v", err)
	}

	_, updateErr := reg.UpdateEntity(ref, signedAttestation(forger, 80, 100))
	if !errors.Is(updateErr, ErrSignatureInvalid) {
		t.Fatalf("forged update: got %v, want ErrSignatureInvalid", updateErr)
	}

	// State untouched.
	state, err := reg.Entity(ref)
	if err != nil {
		t.Fatalf("read entity: %v", err)
	}
	if state.LastTimestamp != 0 || state.AccumulatedScore != 0 {
		t.Errorf("rejected update mutated state: %+v", state)
	}
}

// TestUpdateEntityIdempotentRejection verifies a byte-identical resubmission
// fails with ErrStale.
func TestUpdateEntityIdempotentRejection(t *testing.T) {
	reg, priv, key := newTestRegistry(t)
	ref := testRef(7)

	if err := reg.InitializeTrustAnchor(key); err != nil {
		t.Fatalf("init anchor: %v", err)
	}
	if _, err := reg.InitializeEntity(ref); err != nil {
		t.Fatalf("init entity: %v", err)
	}

	att := signedAttestation(priv, 80, 100)

	if _, err := reg.UpdateEntity(ref, att); err != nil {
		t.Fatalf("first update: %v", err)
	}

	_, err := reg.UpdateEntity(ref, att)
	if !errors.Is(err, ErrStale) {
		t.Fatalf("replay: got %v, want ErrStale", err)
	}
}

// TestUpdateEntityVerifyBeforeFreshness verifies the order dependency: a
// record that is both stale and forged reports ErrSignatureInvalid.
func TestUpdateEntityVerifyBeforeFreshness(t *testing.T) {
	reg, priv, key := newTestRegistry(t)
	ref := testRef(8)

	if err := reg.InitializeTrustAnchor(key); err != nil {
		t.Fatalf("init anchor: %v", err)
	}
	if _, err := reg.InitializeEntity(ref); err != nil {
		t.Fatalf("init entity: %v", err)
	}

	if _, err := reg.UpdateEntity(ref, signedAttestation(priv, 80, 100)); err != nil {
		t.Fatalf("first update: %v", err)
	}

	// Stale timestamp and forged signature at once.
	_, forger, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate forger key: %v", err)
	}

	_, updateErr := reg.UpdateEntity(ref, signedAttestation(forger, 80, 100))
	if !errors.Is(updateErr, ErrSignatureInvalid) {
		t.Fatalf("stale+forged: got %v, want ErrSignatureInvalid (verify precedes freshness)", updateErr)
	}
}

// TestUpdateEntityMonotonicTimestamps verifies last_timestamp strictly
// increases across a sequence of accepted updates and out-of-order
// submissions are rejected.
func TestUpdateEntityMonotonicTimestamps(t *testing.T) {
	reg, priv, key := newTestRegistry(t)
	ref := testRef(9)

	if err := reg.InitializeTrustAnchor(key); err != nil {
		t.Fatalf("init anchor: %v", err)
	}
	if _, err := reg.InitializeEntity(ref); err != nil {
		t.Fatalf("init entity: %v", err)
	}

	last := int64(0)
	for _, ts := range []int64{5, 17, 18, 100, 1000} {
		state, err := reg.UpdateEntity(ref, signedAttestation(priv, 60, ts))
		if err != nil {
			t.Fatalf("update at %d: %v", ts, err)
		}

		if state.LastTimestamp <= last {
			t.Fatalf("timestamp did not advance: %d after %d", state.LastTimestamp, last)
		}
		last = state.LastTimestamp
	}

	// Equal and older timestamps both fail.
	for _, ts := range []int64{1000, 999, 5, 0, -1} {
		_, err := reg.UpdateEntity(ref, signedAttestation(priv, 60, ts))
		if !errors.Is(err, ErrStale) {
			t.Errorf("update at %d: got %v, want ErrStale", ts, err)
		}
	}
}

// TestUpdateEntityScenario runs the full acceptance scenario: 80@100 is
// accepted for 10 points, resubmission is stale, then 10@200 is accepted
// and the low tier drops the score to 8.
func TestUpdateEntityScenario(t *testing.T) {
	reg, priv, key := newTestRegistry(t)
	ref := testRef(10)

	if err := reg.InitializeTrustAnchor(key); err != nil {
		t.Fatalf("init anchor: %v", err)
	}
	if _, err := reg.InitializeEntity(ref); err != nil {
		t.Fatalf("init entity: %v", err)
	}

	first := signedAttestation(priv, 80, 100)

	state, err := reg.UpdateEntity(ref, first)
	if err != nil {
		t.Fatalf("first update: %v", err)
	}
	if state.LastTimestamp != 100 || state.AccumulatedScore != 10 {
		t.Fatalf("after first update: timestamp=%d score=%d, want 100/10",
			state.LastTimestamp, state.AccumulatedScore)
	}

	if _, err := reg.UpdateEntity(ref, first); !errors.Is(err, ErrStale) {
		t.Fatalf("resubmission: got %v, want ErrStale", err)
	}

	state, err = reg.UpdateEntity(ref, signedAttestation(priv, 10, 200))
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if state.LastValue != 10 || state.LastTimestamp != 200 || state.AccumulatedScore != 8 {
		t.Fatalf("after second update: value=%d timestamp=%d score=%d, want 10/200/8",
			state.LastValue, state.LastTimestamp, state.AccumulatedScore)
	}
}

// TestUpdateEntityDisjointEntities verifies updates on different entities do
// not interfere: each entity tracks its own timestamps and score.
func TestUpdateEntityDisjointEntities(t *testing.T) {
	reg, priv, key := newTestRegistry(t)
	refA := testRef(11)
	refB := testRef(12)

	if err := reg.InitializeTrustAnchor(key); err != nil {
		t.Fatalf("init anchor: %v", err)
	}
	for _, ref := range [][record.RefSize]byte{refA, refB} {
		if _, err := reg.InitializeEntity(ref); err != nil {
			t.Fatalf("init entity: %v", err)
		}
	}

	if _, err := reg.UpdateEntity(refA, signedAttestation(priv, 90, 500)); err != nil {
		t.Fatalf("update A: %v", err)
	}

	// B still accepts an older timestamp: freshness is per entity.
	state, err := reg.UpdateEntity(refB, signedAttestation(priv, 90, 1))
	if err != nil {
		t.Fatalf("update B: %v", err)
	}
	if state.LastTimestamp != 1 || state.AccumulatedScore != 10 {
		t.Errorf("entity B state: %+v", state)
	}
}

// TestEntityNotFound verifies reading an unallocated entity reports
// ErrNotInitialized.
func TestEntityNotFound(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	_, err := reg.Entity(testRef(13))
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("read missing entity: got %v, want ErrNotInitialized", err)
	}
}

// TestEntityCount verifies the count tracks initialized entities.
func TestEntityCount(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	for i := byte(0); i < 5; i++ {
		if _, err := reg.InitializeEntity(testRef(i + 20)); err != nil {
			t.Fatalf("init entity %d: %v", i, err)
		}
	}

	count, err := reg.EntityCount()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 5 {
		t.Errorf("count = %d, want 5", count)
	}
}
