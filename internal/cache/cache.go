// Package cache implements the client-side SQLite cache: the files table
// memoizing a file's chunk list by (path, size, mtime), and the remote table
// recording when the client last confirmed the server held a chunk.
package cache

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"mbackup/internal/backuperr"
	"mbackup/internal/sqlitemigrate"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Cache is the client's local backup-run database. All access serializes
// through mu — a parallel backup run may hash several files concurrently,
// but cache writes must remain serializable.
type Cache struct {
	mu  sync.Mutex
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if absent) the SQLite database at path in WAL mode
// and runs migrations.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: set journal_mode: %w", err)
	}
	if err := sqlitemigrate.Run(db, migrationsFS, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: migrate: %w", err)
	}
	return &Cache{db: db, now: time.Now}, nil
}

func (c *Cache) Close() error { return c.db.Close() }

// FileEntry is a memoized (path, size, mtime) -> chunk-list row.
type FileEntry struct {
	Size   int64
	Mtime  int64
	Chunks []string // hex chunk hashes, in file order
}

// LookupFile returns the memoized chunk list for path if its size and mtime
// still match, or ok=false otherwise (including on a stale or absent row).
func (c *Cache) LookupFile(path string, size, mtime int64) (chunks []string, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var row FileEntry
	var chunksCSV string
	err = c.db.QueryRow(`SELECT size, mtime, chunks FROM files WHERE path = ?`, path).
		Scan(&row.Size, &row.Mtime, &chunksCSV)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, backuperr.New(backuperr.Db, err)
	}
	if row.Size != size || row.Mtime != mtime {
		return nil, false, nil
	}
	if chunksCSV == "" {
		return nil, true, nil
	}
	return strings.Split(chunksCSV, ","), true, nil
}

// PutFile memoizes path's chunk list under (size, mtime), replacing any
// prior row for path.
func (c *Cache) PutFile(path string, size, mtime int64, chunks []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec(
		`INSERT INTO files (path, size, mtime, chunks) VALUES (?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET size = excluded.size, mtime = excluded.mtime, chunks = excluded.chunks`,
		path, size, mtime, strings.Join(chunks, ","),
	)
	if err != nil {
		return backuperr.New(backuperr.Db, err)
	}
	return nil
}

// HasRemote reports whether chunk has a remote row recorded strictly after
// lastDelete, the server's delete epoch observed at the start of the run.
func (c *Cache) HasRemote(chunk string, lastDelete int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var t int64
	err := c.db.QueryRow(`SELECT time FROM remote WHERE chunk = ?`, chunk).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, backuperr.New(backuperr.Db, err)
	}
	return t > lastDelete, nil
}

// PutRemote records that chunk was just confirmed present on the server.
func (c *Cache) PutRemote(chunk string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec(
		`INSERT INTO remote (chunk, time) VALUES (?, ?)
		 ON CONFLICT(chunk) DO UPDATE SET time = excluded.time`,
		chunk, c.now().Unix(),
	)
	if err != nil {
		return backuperr.New(backuperr.Db, err)
	}
	return nil
}
