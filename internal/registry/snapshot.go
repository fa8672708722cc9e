package registry

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"Oraculum/internal/logger"
	"Oraculum/internal/record"
	"Oraculum/internal/storage"
)

const (
	// snapshotVersion is the current snapshot format version.
	snapshotVersion = 1

	// snapshotHeaderSize is version (4) + checksum (32).
	snapshotHeaderSize = 4 + 32
)

// ExportSnapshot serializes the trust anchor and every entity state into a
// versioned, checksummed, zstd-compressed snapshot. Entities are sorted by
// reference so the checksum is deterministic.
func (r *Registry) ExportSnapshot() ([]byte, error) {
	start := time.Now()

	anchor, err := r.loadAnchor()
	if err != nil {
		return nil, err
	}

	states, err := r.collectEntities()
	if err != nil {
		return nil, err
	}

	sortEntities(states)

	body := encodeSnapshotBody(&anchor, states)
	checksum := snapshotChecksum(snapshotVersion, body)

	raw := make([]byte, 0, snapshotHeaderSize+len(body))
	raw = binary.LittleEndian.AppendUint32(raw, snapshotVersion)
	raw = append(raw, checksum[:]...)
	raw = append(raw, body...)

	compressed, err := compressSnapshot(raw)
	if err != nil {
		return nil, err
	}

	logger.Info("snapshot exported",
		"entities", len(states), "bytes", len(compressed), logger.Timed(start))

	return compressed, nil
}

// ImportSnapshot verifies and applies a snapshot, replacing the anchor and
// all entity states in one atomic batch.
func (r *Registry) ImportSnapshot(data []byte) (int, error) {
	start := time.Now()

	raw, err := decompressSnapshot(data)
	if err != nil {
		return 0, fmt.Errorf("decompress snapshot:\n%w", err)
	}

	if len(raw) < snapshotHeaderSize {
		return 0, fmt.Errorf("snapshot too short: %d bytes:\n%w", len(raw), ErrMalformedRecord)
	}

	version := binary.LittleEndian.Uint32(raw[0:4])
	if version != snapshotVersion {
		return 0, fmt.Errorf("snapshot version mismatch: got %d, want %d:\n%w",
			version, snapshotVersion, ErrMalformedRecord)
	}

	var stored [32]byte
	copy(stored[:], raw[4:snapshotHeaderSize])

	body := raw[snapshotHeaderSize:]

	computed := snapshotChecksum(version, body)
	if !bytes.Equal(computed[:], stored[:]) {
		return 0, fmt.Errorf("snapshot checksum mismatch:\n%w", ErrMalformedRecord)
	}

	anchor, states, err := decodeSnapshotBody(body)
	if err != nil {
		return 0, err
	}

	pairs := make([]storage.KeyValue, 0, len(states)+1)
	pairs = append(pairs, storage.KeyValue{Key: anchorKey, Value: anchor.Encode()})

	for i := range states {
		pairs = append(pairs, storage.KeyValue{
			Key:   entityKey(states[i].EntityRef),
			Value: states[i].Encode(),
		})
	}

	if err := r.db.SetBatch(pairs); err != nil {
		return 0, fmt.Errorf("apply snapshot:\n%w", err)
	}

	logger.Info("snapshot imported", "entities", len(states), logger.Timed(start))

	return len(states), nil
}

// collectEntities reads every entity state record under the entity prefix.
func (r *Registry) collectEntities() ([]record.EntityState, error) {
	var states []record.EntityState

	err := r.db.IteratePrefix(entityPrefix, func(key, value []byte) error {
		state, err := record.DecodeEntityState(value)
		if err != nil {
			return fmt.Errorf("entity %x: %w", key, err)
		}

		states = append(states, state)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect entities:\n%w", err)
	}

	return states, nil
}

// sortEntities sorts states by reference for deterministic ordering.
func sortEntities(states []record.EntityState) {
	sort.Slice(states, func(i, j int) bool {
		return bytes.Compare(states[i].EntityRef[:], states[j].EntityRef[:]) < 0
	})
}

// encodeSnapshotBody builds the canonical body: anchor record, entity
// count, then each entity state in its fixed wire layout.
func encodeSnapshotBody(anchor *record.TrustAnchor, states []record.EntityState) []byte {
	body := make([]byte, 0, record.TrustAnchorSize+4+len(states)*record.EntityStateSize)
	body = append(body, anchor.Encode()...)
	body = binary.LittleEndian.AppendUint32(body, uint32(len(states)))

	for i := range states {
		body = append(body, states[i].Encode()...)
	}

	return body
}

// decodeSnapshotBody parses the canonical body back into records.
func decodeSnapshotBody(body []byte) (record.TrustAnchor, []record.EntityState, error) {
	if len(body) < record.TrustAnchorSize+4 {
		return record.TrustAnchor{}, nil, fmt.Errorf("snapshot body too short:\n%w", ErrMalformedRecord)
	}

	anchor, err := record.DecodeTrustAnchor(body[:record.TrustAnchorSize])
	if err != nil {
		return record.TrustAnchor{}, nil, fmt.Errorf("snapshot anchor:\n%w", ErrMalformedRecord)
	}

	offset := record.TrustAnchorSize
	count := binary.LittleEndian.Uint32(body[offset : offset+4])
	offset += 4

	want := offset + int(count)*record.EntityStateSize
	if len(body) != want {
		return record.TrustAnchor{}, nil, fmt.Errorf("snapshot body size: got %d, want %d:\n%w",
			len(body), want, ErrMalformedRecord)
	}

	states := make([]record.EntityState, count)
	for i := range states {
		state, err := record.DecodeEntityState(body[offset : offset+record.EntityStateSize])
		if err != nil {
			return record.TrustAnchor{}, nil, fmt.Errorf("snapshot entity %d:\n%w", i, ErrMalformedRecord)
		}

		states[i] = state
		offset += record.EntityStateSize
	}

	return anchor, states, nil
}

// snapshotChecksum computes a blake3 checksum over the version and the
// canonical body.
func snapshotChecksum(version uint32, body []byte) [32]byte {
	hasher := blake3.New()

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], version)
	hasher.Write(buf[:])
	hasher.Write(body)

	var checksum [32]byte
	hasher.Sum(checksum[:0])

	return checksum
}

// compressSnapshot compresses snapshot bytes using zstd.
func compressSnapshot(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, nil), nil
}

// decompressSnapshot decompresses zstd-compressed snapshot bytes.
func decompressSnapshot(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	return decoder.DecodeAll(data, nil)
}
