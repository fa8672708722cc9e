package feed

import (
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

const (
	// defaultDedupTTL is the default time-to-live for seen frame hashes.
	// A pure pre-filter: the freshness guard remains the authoritative
	// replay defense once a frame reaches the registry.
	defaultDedupTTL = 30 * time.Second

	// cleanupInterval is the interval between cleanup runs.
	cleanupInterval = 5 * time.Second
)

// Dedup tracks recently seen frames to drop byte-identical resubmissions
// before they reach the registry. It uses blake3 hashing and automatically
// expires entries after a TTL.
type Dedup struct {
	seen map[[32]byte]int64 // seen maps frame hash to timestamp (unix nano)
	mu   sync.RWMutex       // mu protects the seen map
	ttl  int64              // ttl in nanoseconds
	stop chan struct{}      // stop signals the cleanup goroutine to stop
	wg   sync.WaitGroup     // wg waits for the cleanup goroutine
}

// NewDedup creates a new frame deduplication tracker.
func NewDedup() *Dedup {
	d := &Dedup{
		seen: make(map[[32]byte]int64),
		ttl:  int64(defaultDedupTTL),
		stop: make(chan struct{}),
	}

	d.startCleanup()

	return d
}

// Seen returns true if the frame was recorded within the TTL.
// It never records: a frame only enters the filter through Record, after
// its outcome is known, so a transiently rejected frame can be retried.
func (d *Dedup) Seen(data []byte) bool {
	hash := blake3.Sum256(data)
	now := time.Now().UnixNano()

	d.mu.RLock()
	ts, exists := d.seen[hash]
	d.mu.RUnlock()

	return exists && now-ts < d.ttl
}

// Record marks a frame as seen for the TTL window.
func (d *Dedup) Record(data []byte) {
	hash := blake3.Sum256(data)

	d.mu.Lock()
	d.seen[hash] = time.Now().UnixNano()
	d.mu.Unlock()
}

// Close stops the cleanup goroutine and releases resources.
func (d *Dedup) Close() {
	close(d.stop)
	d.wg.Wait()
}

// startCleanup starts the background cleanup goroutine.
func (d *Dedup) startCleanup() {
	d.wg.Add(1)

	go func() {
		defer d.wg.Done()

		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				d.cleanup()
			case <-d.stop:
				return
			}
		}
	}()
}

// cleanup removes expired entries from the seen map.
func (d *Dedup) cleanup() {
	now := time.Now().UnixNano()
	ttl := d.ttl

	d.mu.Lock()

	for hash, ts := range d.seen {
		if now-ts >= ttl {
			delete(d.seen, hash)
		}
	}

	d.mu.Unlock()
}
