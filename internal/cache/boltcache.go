// Package cache implements the persistent, content-addressed task result
// store: a bbolt-backed key/value database plus a per-run fixed-width
// index file, behind a single-writer agent so concurrent processors never
// race on the same bucket.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"weftflow/internal/core"
)

var (
	bucketEntries   = []byte("entries")
	bucketRefCounts = []byte("refcounts")
)

// BoltCache is a bbolt-backed implementation of core.Cache, extended with
// the reference-counted entry lifecycle operations a cache-clean CLI needs.
// All mutations run through a single-writer agent goroutine.
type BoltCache struct {
	db       *bbolt.DB
	baseDir  string
	sessID   string
	writer   *writerAgent
	readOnly bool
}

// Open (re)creates the per-session cache database in write mode.
func Open(baseDir, sessionID string) (*BoltCache, error) {
	return open(baseDir, sessionID, false)
}

// OpenForRead opens an existing per-session cache database read-only.
func OpenForRead(baseDir, sessionID string) (*BoltCache, error) {
	return open(baseDir, sessionID, true)
}

func open(baseDir, sessionID string, readOnly bool) (*BoltCache, error) {
	dir := sessionDir(baseDir, sessionID)
	if !readOnly {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cache: create session dir: %w", err)
		}
	}
	dbPath := filepath.Join(dir, "db")

	opts := &bbolt.Options{
		Timeout:      1 * time.Second,
		ReadOnly:     readOnly,
		FreelistType: bbolt.FreelistArrayType,
	}
	db, err := bbolt.Open(dbPath, 0o600, opts)
	if err != nil {
		return nil, fmt.Errorf("cache: open boltdb: %w", err)
	}

	if !readOnly {
		err = db.Update(func(tx *bbolt.Tx) error {
			for _, b := range [][]byte{bucketEntries, bucketRefCounts} {
				if _, err := tx.CreateBucketIfNotExists(b); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("cache: create buckets: %w", err)
		}
	}

	c := &BoltCache{db: db, baseDir: baseDir, sessID: sessionID, readOnly: readOnly}
	if !readOnly {
		c.writer = newWriterAgent()
	}
	return c, nil
}

func sessionDir(baseDir, sessionID string) string {
	return filepath.Join(baseDir, ".cache", sessionID)
}

// Close stops the writer agent (if any) and closes the database.
func (c *BoltCache) Close() error {
	if c.writer != nil {
		c.writer.stop()
	}
	return c.db.Close()
}

// record is the on-disk payload: a CacheEntry plus an optional serialized
// TaskContext and the shared refCount.
type record struct {
	Entry      core.CacheEntry `json:"entry"`
	Context    json.RawMessage `json:"context,omitempty"`
	RefCount   int32           `json:"ref_count"`
}

// Has implements core.Cache.
func (c *BoltCache) Has(hash core.TaskHash) (bool, error) {
	var found bool
	err := c.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketEntries).Get([]byte(hash))
		found = v != nil
		return nil
	})
	return found, err
}

// Get implements core.Cache.
func (c *BoltCache) Get(hash core.TaskHash) (*core.CacheEntry, error) {
	var rec *record
	err := c.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketEntries).Get([]byte(hash))
		if v == nil {
			return nil
		}
		var r record
		if err := json.Unmarshal(v, &r); err != nil {
			return fmt.Errorf("decode entry: %w", err)
		}
		rec = &r
		return nil
	})
	if err != nil || rec == nil {
		return nil, err
	}
	entry := rec.Entry
	return &entry, nil
}

// Put implements core.Cache: stores the entry with a fresh refCount of 1.
// Serialization and the write itself are dispatched through the writer
// agent so concurrent processors never interleave bucket mutations.
func (c *BoltCache) Put(entry *core.CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache: entry is nil")
	}
	return c.PutEntry(entry, nil)
}

// PutEntry stores entry with an associated serialized TaskContext (nil if
// none) and refCount=1, atomically.
func (c *BoltCache) PutEntry(entry *core.CacheEntry, taskContext json.RawMessage) error {
	rec := record{Entry: *entry, Context: taskContext, RefCount: 1}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("cache: marshal entry: %w", err)
	}
	return c.writer.do(func() error {
		return c.db.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket(bucketEntries).Put([]byte(entry.Hash), data)
		})
	})
}

// getRecord returns the full decoded record for hash, or nil if absent.
func (c *BoltCache) getRecord(hash core.TaskHash) (*record, error) {
	var rec *record
	err := c.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketEntries).Get([]byte(hash))
		if v == nil {
			return nil
		}
		var r record
		if err := json.Unmarshal(v, &r); err != nil {
			return fmt.Errorf("decode entry: %w", err)
		}
		rec = &r
		return nil
	})
	return rec, err
}

// GetEntry returns the decoded (CacheEntry, TaskContext) for hash, or nil
// if absent.
func (c *BoltCache) GetEntry(hash core.TaskHash) (*core.CacheEntry, json.RawMessage, error) {
	rec, err := c.getRecord(hash)
	if err != nil || rec == nil {
		return nil, nil, err
	}
	entry := rec.Entry
	return &entry, rec.Context, nil
}

// IncEntry increments the refCount of hash's entry.
func (c *BoltCache) IncEntry(hash core.TaskHash) error {
	return c.writer.do(func() error {
		return c.db.Update(func(tx *bbolt.Tx) error {
			b := tx.Bucket(bucketEntries)
			v := b.Get([]byte(hash))
			if v == nil {
				return fmt.Errorf("cache: incEntry: no entry for hash")
			}
			var r record
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			r.RefCount++
			data, err := json.Marshal(r)
			if err != nil {
				return err
			}
			return b.Put([]byte(hash), data)
		})
	})
}

// DecEntry decrements the refCount of hash's entry and deletes it once the
// count reaches zero. Decrement happens before the zero test (the source's
// postfix-decrement ambiguity resolved per the zero-refcount-deletes rule).
func (c *BoltCache) DecEntry(hash core.TaskHash) error {
	return c.writer.do(func() error {
		return c.db.Update(func(tx *bbolt.Tx) error {
			b := tx.Bucket(bucketEntries)
			v := b.Get([]byte(hash))
			if v == nil {
				return nil // already gone
			}
			var r record
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			r.RefCount--
			if r.RefCount <= 0 {
				return b.Delete([]byte(hash))
			}
			data, err := json.Marshal(r)
			if err != nil {
				return err
			}
			return b.Put([]byte(hash), data)
		})
	})
}

// Drop removes the entire per-session cache directory, closing the
// database first.
func (c *BoltCache) Drop() error {
	if err := c.Close(); err != nil {
		return err
	}
	return os.RemoveAll(sessionDir(c.baseDir, c.sessID))
}

// hashBytesFromTaskHash decodes the hex TaskHash into its raw 16 bytes for
// fixed-width index records. TaskHash is always exactly 32 hex chars (128
// bits); a malformed hash is a programmer error upstream, not a cache fault.
func hashBytesFromTaskHash(hash core.TaskHash) ([16]byte, error) {
	var out [16]byte
	raw := []byte(hash)
	if len(raw) < 32 {
		return out, fmt.Errorf("cache: task hash %q too short for a 16-byte index record", hash)
	}
	n, err := decodeHex(raw[:32], out[:])
	if err != nil || n != 16 {
		return out, fmt.Errorf("cache: decoding task hash %q: %w", hash, err)
	}
	return out, nil
}

func decodeHex(src []byte, dst []byte) (int, error) {
	n := len(src) / 2
	for i := 0; i < n; i++ {
		hi, err := hexVal(src[2*i])
		if err != nil {
			return 0, err
		}
		lo, err := hexVal(src[2*i+1])
		if err != nil {
			return 0, err
		}
		dst[i] = hi<<4 | lo
	}
	return n, nil
}

func hexVal(b byte) (byte, error) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', nil
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, nil
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("invalid hex digit %q", b)
	}
}
