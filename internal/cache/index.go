package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"weftflow/internal/core"
)

// indexRecordSize is the fixed width of one index record: a 16-byte hash
// plus a 1-byte cached/fresh boolean.
const indexRecordSize = 17

// Index is the append-only per-run record of which hashes a processor
// bound, in binding order, and whether each was served from cache.
type Index struct {
	path   string
	writer *writerAgent
}

// OpenIndex (re)creates index.<runName> under the session's cache
// directory for writing.
func (c *BoltCache) OpenIndex(runName string) (*Index, error) {
	path := filepath.Join(sessionDir(c.baseDir, c.sessID), "index."+runName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cache: create index: %w", err)
	}
	f.Close()
	return &Index{path: path, writer: c.writer}, nil
}

// OpenIndexForRead requires index.<runName> to already exist.
func (c *BoltCache) OpenIndexForRead(runName string) (*Index, error) {
	path := filepath.Join(sessionDir(c.baseDir, c.sessID), "index."+runName)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("cache: open index for read: %w", err)
	}
	return &Index{path: path}, nil
}

// WriteIndex appends one fixed-width record for hash. Routed through the
// writer agent so concurrent binds append in the order they are submitted.
func (idx *Index) WriteIndex(hash core.TaskHash, cached bool) error {
	raw, err := hashBytesFromTaskHash(hash)
	if err != nil {
		return err
	}
	write := func() error {
		f, err := os.OpenFile(idx.path, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("cache: open index for append: %w", err)
		}
		defer f.Close()

		var rec [indexRecordSize]byte
		copy(rec[:16], raw[:])
		if cached {
			rec[16] = 1
		}
		_, err = f.Write(rec[:])
		return err
	}
	if idx.writer != nil {
		return idx.writer.do(write)
	}
	return write()
}

// IndexRecord is one decoded entry yielded by EachRecord.
type IndexRecord struct {
	Hash     core.TaskHash
	Cached   bool
	Entry    core.CacheEntry
	RefCount int32
}

// EachRecord iterates the index in binding order, resolving each hash
// against c's db and invoking fn. Index records whose db payload is
// missing (a stale index entry, e.g. after clean) are skipped with a debug
// log rather than surfaced as an error.
func (c *BoltCache) EachRecord(idx *Index, fn func(IndexRecord) error) error {
	data, err := os.ReadFile(idx.path)
	if err != nil {
		return fmt.Errorf("cache: read index: %w", err)
	}
	if len(data)%indexRecordSize != 0 {
		return fmt.Errorf("cache: index %s has truncated trailing record", idx.path)
	}

	for off := 0; off+indexRecordSize <= len(data); off += indexRecordSize {
		raw := data[off : off+indexRecordSize]
		hash := core.TaskHash(encodeHex(raw[:16]))
		cached := raw[16] != 0

		rec, err := c.getRecord(hash)
		if err != nil {
			return fmt.Errorf("cache: lookup %s: %w", hash, err)
		}
		if rec == nil {
			logrus.WithField("hash", hash).Debug("cache: skipping stale index record with no matching db payload")
			continue
		}

		if err := fn(IndexRecord{Hash: hash, Cached: cached, Entry: rec.Entry, RefCount: rec.RefCount}); err != nil {
			return err
		}
	}
	return nil
}

// DropIndex removes the named run's index file.
func (c *BoltCache) DropIndex(runName string) error {
	path := filepath.Join(sessionDir(c.baseDir, c.sessID), "index."+runName)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cache: drop index: %w", err)
	}
	return nil
}

func encodeHex(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[2*i] = hexDigits[v>>4]
		out[2*i+1] = hexDigits[v&0x0f]
	}
	return string(out)
}
