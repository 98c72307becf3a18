// Package cache stores compiled programs in SQLite, keyed by the hash of
// their source text, so unchanged files are not recompiled.
package cache

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	"github.com/tom-mohr/compiler/compiler"
	"github.com/tom-mohr/compiler/vm"
	"github.com/tom-mohr/compiler/vm/dist"

	_ "modernc.org/sqlite"
)

// ErrNotFound indicates the source has no cached binary.
var ErrNotFound = errors.New("binary not in cache")

// Entry describes one cached binary.
type Entry struct {
	Name       string
	SourceHash string
	BinaryHash string
	Size       int
	Hits       int
	CreatedAt  time.Time
	UsedAt     time.Time
}

// Cache is a SQLite-backed store of dist.Chunk blobs.
type Cache struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
	log  commonlog.Logger
}

// Open opens or creates the cache database at path.
func Open(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS binaries (
		source_hash TEXT PRIMARY KEY,
		binary_hash TEXT NOT NULL,
		name        TEXT NOT NULL,
		chunk       BLOB NOT NULL,
		hits        INTEGER NOT NULL DEFAULT 0,
		created_at  INTEGER NOT NULL,
		used_at     INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Cache{db: db, path: path, log: commonlog.GetLogger("ivm.cache")}, nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Path returns the database file path.
func (c *Cache) Path() string {
	return c.path
}

// Get returns the cached chunk for source.
func (c *Cache) Get(source string) (*dist.Chunk, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := sourceKey(source)
	var blob []byte
	err := c.db.QueryRow("SELECT chunk FROM binaries WHERE source_hash = ?", key).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying binary: %w", err)
	}

	chunk, err := dist.UnmarshalChunk(blob)
	if err != nil {
		return nil, err
	}
	if err := dist.VerifyChunk(chunk, nil); err != nil {
		c.log.Warningf("dropping corrupt cache entry %s: %v", key, err)
		if _, err := c.db.Exec("DELETE FROM binaries WHERE source_hash = ?", key); err != nil {
			return nil, fmt.Errorf("deleting corrupt entry: %w", err)
		}
		return nil, ErrNotFound
	}

	if _, err := c.db.Exec(
		"UPDATE binaries SET hits = hits + 1, used_at = ? WHERE source_hash = ?",
		time.Now().Unix(), key,
	); err != nil {
		return nil, fmt.Errorf("updating usage: %w", err)
	}
	return chunk, nil
}

// Put stores a chunk under the given display name, replacing any entry for
// the same source.
func (c *Cache) Put(name string, chunk *dist.Chunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	blob, err := dist.MarshalChunk(chunk)
	if err != nil {
		return fmt.Errorf("encoding chunk: %w", err)
	}
	now := time.Now().Unix()
	_, err = c.db.Exec(
		`INSERT OR REPLACE INTO binaries
			(source_hash, binary_hash, name, chunk, hits, created_at, used_at)
			VALUES (?, ?, ?, ?, 0, ?, ?)`,
		hex.EncodeToString(chunk.SourceHash[:]),
		hex.EncodeToString(chunk.BinaryHash[:]),
		name, blob, now, now,
	)
	if err != nil {
		return fmt.Errorf("saving binary: %w", err)
	}
	return nil
}

// Compile returns the cached binary for source, compiling and storing it
// on a miss. hit reports whether the cache answered.
func (c *Cache) Compile(name, source string) (bin *vm.Binary, hit bool, err error) {
	chunk, err := c.Get(source)
	if err == nil {
		c.log.Debugf("cache hit for %s", name)
		return chunk.Binary, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		c.log.Warningf("cache lookup for %s failed: %v", name, err)
	}

	bin, err = compiler.CompileString(source)
	if err != nil {
		return nil, false, err
	}
	chunk, err = dist.NewChunk(source, bin)
	if err != nil {
		return nil, false, err
	}
	if err := c.Put(name, chunk); err != nil {
		c.log.Warningf("caching %s failed: %v", name, err)
	}
	return bin, false, nil
}

// Entries lists cached binaries, most recently used first.
func (c *Cache) Entries() ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.Query(`SELECT name, source_hash, binary_hash, length(chunk), hits, created_at, used_at
		FROM binaries ORDER BY used_at DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("listing binaries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created, used int64
		if err := rows.Scan(&e.Name, &e.SourceHash, &e.BinaryHash, &e.Size, &e.Hits, &created, &used); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		e.CreatedAt = time.Unix(created, 0)
		e.UsedAt = time.Unix(used, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune removes entries not used since before cutoff and returns how many
// were removed.
func (c *Cache) Prune(cutoff time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.Exec("DELETE FROM binaries WHERE used_at < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("pruning: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes every entry.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.Exec("DELETE FROM binaries"); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	return nil
}

func sourceKey(source string) string {
	h := dist.HashSource(source)
	return hex.EncodeToString(h[:])
}
