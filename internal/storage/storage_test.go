package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// newTestStorage creates a temporary storage for testing.
func newTestStorage(t *testing.T) (*Storage, func()) {
	t.Helper()

	dir, err := os.MkdirTemp("", "storage-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	s, err := New(filepath.Join(dir, "db"))
	if err != nil {
		os.RemoveAll(dir)
		t.Fatalf("failed to create storage: %v", err)
	}

	cleanup := func() {
		s.Close()
		os.RemoveAll(dir)
	}

	return s, cleanup
}

func TestSetAndGet(t *testing.T) {
	s, cleanup := newTestStorage(t)
	defer cleanup()

	key := []byte("e:entity-ref")
	value := []byte("record bytes")

	if err := s.Set(key, value); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if !bytes.Equal(got, value) {
		t.Errorf("Get returned %q, want %q", got, value)
	}
}

func TestGetNonExistent(t *testing.T) {
	s, cleanup := newTestStorage(t)
	defer cleanup()

	got, err := s.Get([]byte("non-existent"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if got != nil {
		t.Errorf("Get returned %q, want nil", got)
	}
}

func TestDelete(t *testing.T) {
	s, cleanup := newTestStorage(t)
	defer cleanup()

	key := []byte("to-delete")

	if err := s.Set(key, []byte("value")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := s.Delete(key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if got != nil {
		t.Errorf("Get after Delete returned %q, want nil", got)
	}
}

func TestSetBatchAtomic(t *testing.T) {
	s, cleanup := newTestStorage(t)
	defer cleanup()

	pairs := []KeyValue{
		{Key: []byte("e:one"), Value: []byte("v1")},
		{Key: []byte("e:two"), Value: []byte("v2")},
		{Key: []byte("e:three"), Value: []byte("v3")},
	}

	if err := s.SetBatch(pairs); err != nil {
		t.Fatalf("SetBatch failed: %v", err)
	}

	for _, kv := range pairs {
		got, err := s.Get(kv.Key)
		if err != nil {
			t.Fatalf("Get %q failed: %v", kv.Key, err)
		}

		if !bytes.Equal(got, kv.Value) {
			t.Errorf("Get %q returned %q, want %q", kv.Key, got, kv.Value)
		}
	}
}

func TestIteratePrefix(t *testing.T) {
	s, cleanup := newTestStorage(t)
	defer cleanup()

	// Records under two prefixes; only "e:" should be visited.
	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("e:%02d", i)
		if err := s.Set([]byte(key), []byte{byte(i)}); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	if err := s.Set([]byte("anchor"), []byte("x")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var visited []string
	err := s.IteratePrefix([]byte("e:"), func(key, value []byte) error {
		visited = append(visited, string(key))
		return nil
	})
	if err != nil {
		t.Fatalf("IteratePrefix failed: %v", err)
	}

	if len(visited) != 5 {
		t.Fatalf("expected 5 records, got %d: %v", len(visited), visited)
	}

	// Lexicographic order
	for i := 1; i < len(visited); i++ {
		if visited[i-1] >= visited[i] {
			t.Errorf("keys not ordered: %q before %q", visited[i-1], visited[i])
		}
	}
}

func TestIteratePrefixStopsOnError(t *testing.T) {
	s, cleanup := newTestStorage(t)
	defer cleanup()

	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("e:%02d", i)
		if err := s.Set([]byte(key), []byte{byte(i)}); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	wantErr := fmt.Errorf("stop")
	count := 0

	err := s.IteratePrefix([]byte("e:"), func(key, value []byte) error {
		count++
		return wantErr
	})

	if err == nil {
		t.Fatal("expected error from IteratePrefix")
	}

	if count != 1 {
		t.Errorf("expected iteration to stop after 1 record, visited %d", count)
	}
}

func TestReopenPersists(t *testing.T) {
	dir, err := os.MkdirTemp("", "storage-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "db")

	s, err := New(path)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	if err := s.Set([]byte("key"), []byte("value")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s2, err := New(path)
	if err != nil {
		t.Fatalf("failed to reopen storage: %v", err)
	}
	defer s2.Close()

	got, err := s2.Get([]byte("key"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if !bytes.Equal(got, []byte("value")) {
		t.Errorf("Get after reopen returned %q, want %q", got, "value")
	}
}
