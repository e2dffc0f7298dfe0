package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"roadspeed/pkg/db"
)

// Cacher defines the caching interface.
type Cacher interface {
	GetCache(ctx context.Context, key string) ([]byte, bool)
	SetCache(ctx context.Context, key string, val []byte) error
}

// SQLiteCache implements Cacher on the cache table of pkg/db.
// Values are stored gzip compressed.
type SQLiteCache struct {
	db  *db.DB
	ttl time.Duration
}

// NewSQLiteCache creates a new cache. Entries older than ttl read as misses;
// a zero ttl never expires them.
func NewSQLiteCache(d *db.DB, ttl time.Duration) *SQLiteCache {
	return &SQLiteCache{db: d, ttl: ttl}
}

// GetCache returns the cached value for key.
func (c *SQLiteCache) GetCache(ctx context.Context, key string) ([]byte, bool) {
	var (
		val     []byte
		created int64
	)
	err := c.db.QueryRowContext(ctx,
		"SELECT value, CAST(strftime('%s', created_at) AS INTEGER) FROM cache WHERE key = ?", key,
	).Scan(&val, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		slog.Warn("Cache read failed", "key", key, "error", err)
		return nil, false
	}
	if c.ttl > 0 && time.Since(time.Unix(created, 0)) > c.ttl {
		return nil, false
	}

	// Values written by older versions may be uncompressed
	if len(val) > 2 && val[0] == 0x1f && val[1] == 0x8b {
		out, err := decompress(val)
		if err != nil {
			slog.Warn("Cache entry corrupt", "key", key, "error", err)
			return nil, false
		}
		return out, true
	}
	return val, true
}

// SetCache stores val under key, replacing any previous value.
func (c *SQLiteCache) SetCache(ctx context.Context, key string, val []byte) error {
	compressed, err := compress(val)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO cache (key, value, created_at) VALUES (?, ?, ?)",
		key, compressed, time.Now().UTC().Format("2006-01-02 15:04:05"))
	return err
}

var gzipWriterPool = sync.Pool{
	New: func() interface{} {
		return gzip.NewWriter(io.Discard)
	},
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzipWriterPool.Get().(*gzip.Writer)
	defer gzipWriterPool.Put(w)

	w.Reset(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
