// Package store implements the server-side chunk store: a SQLite database of
// chunk metadata (inline content for small chunks, external files otherwise),
// the root registry, and the per-bucket delete epoch.
package store

import (
	"crypto/rand"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"mbackup/internal/backuperr"
	"mbackup/internal/chunkmodel"
	"mbackup/internal/sqlitemigrate"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the server's chunk and root store. All database access serializes
// through mu; filesystem operations (write, rename, unlink) run outside it —
// only the metadata transitions are serialized.
type Store struct {
	mu      sync.Mutex
	db      *sql.DB
	dataDir string
	now     func() time.Time
}

// Open opens (creating if absent) the SQLite database at dbPath and runs
// migrations. dataDir is the root of the external chunk tree.
func Open(dbPath, dataDir string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: set journal_mode: %w", err)
	}
	if err := sqlitemigrate.Run(db, migrationsFS, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Store{db: db, dataDir: dataDir, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func externalPath(dataDir, bucket, hash string) string {
	return filepath.Join(dataDir, "data", bucket, hash[:2], hash[2:])
}

func uploadDir(dataDir, bucket string) string {
	return filepath.Join(dataDir, "data", "upload", bucket)
}

// Insert stores a chunk's ciphertext body (nonce prefix included) and that
// body's byte length under (bucket, hash). Small bodies go inline in the database;
// larger ones are written to the external filesystem tree via a
// write-then-rename sequence. Returns a *backuperr.Error with Status 409 if
// the chunk already exists.
func (s *Store) Insert(bucket, hash string, body io.Reader, size int64) error {
	if exists, err := s.chunkExists(bucket, hash); err != nil {
		return err
	} else if exists {
		return backuperr.NewHTTP(409)
	}

	if size < chunkmodel.SmallSize {
		content, err := io.ReadAll(body)
		if err != nil {
			return backuperr.New(backuperr.Io, err)
		}
		return s.insertRow(bucket, hash, int64(len(content)), content)
	}

	if err := os.MkdirAll(uploadDir(s.dataDir, bucket), 0o755); err != nil {
		return backuperr.New(backuperr.Io, err)
	}
	tmpName := fmt.Sprintf("%s_%s", hash, randSuffix())
	tmpPath := filepath.Join(uploadDir(s.dataDir, bucket), tmpName)

	f, err := os.Create(tmpPath)
	if err != nil {
		return backuperr.New(backuperr.Io, err)
	}
	written, err := io.Copy(f, body)
	closeErr := f.Close()
	if err != nil {
		return backuperr.New(backuperr.Io, err)
	}
	if closeErr != nil {
		return backuperr.New(backuperr.Io, closeErr)
	}

	finalDir := filepath.Join(s.dataDir, "data", bucket, hash[:2])
	if err := os.MkdirAll(finalDir, 0o755); err != nil {
		return backuperr.New(backuperr.Io, err)
	}

	if err := s.insertRow(bucket, hash, written, nil); err != nil {
		return err
	}

	// Ordering note: the metadata row above is committed before this rename.
	// A crash here leaves a dangling row whose external file is missing.
	if err := os.Rename(tmpPath, externalPath(s.dataDir, bucket, hash)); err != nil {
		return backuperr.New(backuperr.Io, err)
	}
	return nil
}

func randSuffix() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func (s *Store) chunkExists(bucket, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	err := s.db.QueryRow(`SELECT count(*) FROM chunks WHERE bucket = ? AND hash = ?`, bucket, hash).Scan(&n)
	if err != nil {
		return false, backuperr.New(backuperr.Db, err)
	}
	return n > 0, nil
}

func (s *Store) insertRow(bucket, hash string, size int64, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO chunks (bucket, hash, size, time, content) VALUES (?, ?, ?, ?, ?)`,
		bucket, hash, size, s.now().Unix(), content,
	)
	if err != nil {
		return backuperr.New(backuperr.Db, err)
	}
	return nil
}

// chunkRow is the row shape shared by Fetch/Head/list.
type chunkRow struct {
	size    int64
	content []byte
}

func (s *Store) lookup(bucket, hash string) (chunkRow, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var row chunkRow
	var content sql.NullString
	err := s.db.QueryRow(
		`SELECT size, content FROM chunks WHERE bucket = ? AND hash = ?`, bucket, hash,
	).Scan(&row.size, &content)
	if errors.Is(err, sql.ErrNoRows) {
		return chunkRow{}, false, nil
	}
	if err != nil {
		return chunkRow{}, false, backuperr.New(backuperr.Db, err)
	}
	if content.Valid {
		row.content = []byte(content.String)
	}
	return row, true, nil
}

// Size returns a chunk's plaintext-and-nonce size without reading its body.
func (s *Store) Size(bucket, hash string) (int64, bool, error) {
	row, ok, err := s.lookup(bucket, hash)
	if err != nil || !ok {
		return 0, ok, err
	}
	return row.size, true, nil
}

// Fetch returns a chunk's stored bytes (nonce || ciphertext).
func (s *Store) Fetch(bucket, hash string) ([]byte, bool, error) {
	row, ok, err := s.lookup(bucket, hash)
	if err != nil || !ok {
		return nil, ok, err
	}
	if row.content != nil {
		return row.content, true, nil
	}
	data, err := os.ReadFile(externalPath(s.dataDir, bucket, hash))
	if err != nil {
		return nil, true, backuperr.New(backuperr.Io, fmt.Errorf("chunk missing: %w", err))
	}
	return data, true, nil
}

// ListEntry is one row of a chunk listing.
type ListEntry struct {
	Hash        string
	Size        int64
	OnDiskSize  int64 // -1 if the external file is missing; equals Size for inline
	HasExternal bool
}

// List returns every chunk in bucket. When validate is true, OnDiskSize is
// populated by stat'ing external files; otherwise it mirrors Size.
func (s *Store) List(bucket string, validate bool) ([]ListEntry, error) {
	rows, err := func() (*sql.Rows, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.db.Query(`SELECT hash, size, content IS NULL FROM chunks WHERE bucket = ? ORDER BY hash`, bucket)
	}()
	if err != nil {
		return nil, backuperr.New(backuperr.Db, err)
	}
	defer rows.Close()

	var entries []ListEntry
	for rows.Next() {
		var e ListEntry
		if err := rows.Scan(&e.Hash, &e.Size, &e.HasExternal); err != nil {
			return nil, backuperr.New(backuperr.Db, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, backuperr.New(backuperr.Db, err)
	}

	if !validate {
		for i := range entries {
			entries[i].OnDiskSize = entries[i].Size
		}
		return entries, nil
	}

	for i := range entries {
		if !entries[i].HasExternal {
			entries[i].OnDiskSize = entries[i].Size
			continue
		}
		info, err := os.Stat(externalPath(s.dataDir, bucket, entries[i].Hash))
		if err != nil {
			entries[i].OnDiskSize = -1
			continue
		}
		entries[i].OnDiskSize = info.Size()
	}
	return entries, nil
}

// DeleteOne removes a single chunk and bumps the bucket's delete epoch.
// Returns false if the chunk did not exist.
func (s *Store) DeleteOne(bucket, hash string) (bool, error) {
	return s.deleteMany(bucket, []string{hash})
}

// DeleteMany removes every listed chunk. Returns false (with the deletion of
// present chunks still applied) if any hash was absent.
func (s *Store) DeleteMany(bucket string, hashes []string) (bool, error) {
	return s.deleteMany(bucket, hashes)
}

func (s *Store) deleteMany(bucket string, hashes []string) (bool, error) {
	type victim struct {
		hash        string
		hasExternal bool
	}
	var victims []victim

	err := func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		for _, h := range hashes {
			var hasExternal bool
			err := s.db.QueryRow(
				`SELECT content IS NULL FROM chunks WHERE bucket = ? AND hash = ?`, bucket, h,
			).Scan(&hasExternal)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return backuperr.New(backuperr.Db, err)
			}
			victims = append(victims, victim{hash: h, hasExternal: hasExternal})
		}

		placeholders := make([]any, 0, len(hashes)+1)
		placeholders = append(placeholders, bucket)
		q := `DELETE FROM chunks WHERE bucket = ? AND hash IN (`
		for i, h := range hashes {
			if i > 0 {
				q += ","
			}
			q += "?"
			placeholders = append(placeholders, h)
		}
		q += ")"
		res, err := s.db.Exec(q, placeholders...)
		if err != nil {
			return backuperr.New(backuperr.Db, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return backuperr.New(backuperr.Db, err)
		}
		if int(affected) != len(hashes) {
			// Still bump the epoch: partial deletion already applied.
			_, _ = s.db.Exec(
				`INSERT INTO deletes (bucket, time) VALUES (?, ?)
				 ON CONFLICT(bucket) DO UPDATE SET time = excluded.time`,
				bucket, s.now().Unix(),
			)
			return backuperr.NewHTTP(404)
		}

		_, err = s.db.Exec(
			`INSERT INTO deletes (bucket, time) VALUES (?, ?)
			 ON CONFLICT(bucket) DO UPDATE SET time = excluded.time`,
			bucket, s.now().Unix(),
		)
		if err != nil {
			return backuperr.New(backuperr.Db, err)
		}
		return nil
	}()

	// External unlinks happen after the critical section, tolerating ENOENT.
	for _, v := range victims {
		if !v.hasExternal {
			continue
		}
		if unlinkErr := os.Remove(externalPath(s.dataDir, bucket, v.hash)); unlinkErr != nil && !os.IsNotExist(unlinkErr) {
			return false, backuperr.New(backuperr.Io, unlinkErr)
		}
	}

	if err != nil {
		return false, err
	}
	return true, nil
}

// Status returns the bucket's delete epoch (0 if no delete has occurred).
func (s *Store) Status(bucket string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var t int64
	err := s.db.QueryRow(`SELECT time FROM deletes WHERE bucket = ?`, bucket).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, backuperr.New(backuperr.Db, err)
	}
	return t, nil
}

// BucketMetrics is a per-bucket chunk count, total stored byte count, and
// delete count, for the /metrics endpoint.
type BucketMetrics struct {
	Bucket      string
	Chunks      int64
	Bytes       int64
	DeleteCount int64
}

// Metrics returns one BucketMetrics per bucket that has ever held a chunk or
// a delete, aggregating chunks and deletes behind the same mutex every other
// query goes through.
func (s *Store) Metrics() ([]BucketMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byBucket := make(map[string]*BucketMetrics)
	order := []string{}
	get := func(bucket string) *BucketMetrics {
		m, ok := byBucket[bucket]
		if !ok {
			m = &BucketMetrics{Bucket: bucket}
			byBucket[bucket] = m
			order = append(order, bucket)
		}
		return m
	}

	rows, err := s.db.Query(`SELECT bucket, count(*), coalesce(sum(size), 0) FROM chunks GROUP BY bucket`)
	if err != nil {
		return nil, backuperr.New(backuperr.Db, err)
	}
	for rows.Next() {
		var bucket string
		var chunks, bytes int64
		if err := rows.Scan(&bucket, &chunks, &bytes); err != nil {
			rows.Close()
			return nil, backuperr.New(backuperr.Db, err)
		}
		m := get(bucket)
		m.Chunks, m.Bytes = chunks, bytes
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, backuperr.New(backuperr.Db, err)
	}
	rows.Close()

	deleteRows, err := s.db.Query(`SELECT bucket, count(*) FROM deletes GROUP BY bucket`)
	if err != nil {
		return nil, backuperr.New(backuperr.Db, err)
	}
	for deleteRows.Next() {
		var bucket string
		var n int64
		if err := deleteRows.Scan(&bucket, &n); err != nil {
			deleteRows.Close()
			return nil, backuperr.New(backuperr.Db, err)
		}
		get(bucket).DeleteCount = n
	}
	if err := deleteRows.Err(); err != nil {
		deleteRows.Close()
		return nil, backuperr.New(backuperr.Db, err)
	}
	deleteRows.Close()

	metrics := make([]BucketMetrics, len(order))
	for i, bucket := range order {
		metrics[i] = *byBucket[bucket]
	}
	return metrics, nil
}

// Root is one (id, host, time, hash) snapshot pointer.
type Root struct {
	ID   int64
	Host string
	Time int64
	Hash string
}

// ListRoots returns every root recorded for bucket.
func (s *Store) ListRoots(bucket string) ([]Root, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`SELECT id, host, time, hash FROM roots WHERE bucket = ? ORDER BY id`, bucket)
	if err != nil {
		return nil, backuperr.New(backuperr.Db, err)
	}
	defer rows.Close()

	var roots []Root
	for rows.Next() {
		var r Root
		if err := rows.Scan(&r.ID, &r.Host, &r.Time, &r.Hash); err != nil {
			return nil, backuperr.New(backuperr.Db, err)
		}
		roots = append(roots, r)
	}
	return roots, rows.Err()
}

// PutRoot appends a new root pointer for (bucket, host) and returns its
// assigned id and timestamp.
func (s *Store) PutRoot(bucket, host, hash string) (id, t int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t = s.now().Unix()
	res, err := s.db.Exec(`INSERT INTO roots (bucket, host, time, hash) VALUES (?, ?, ?, ?)`, bucket, host, t, hash)
	if err != nil {
		return 0, 0, backuperr.New(backuperr.Db, err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, 0, backuperr.New(backuperr.Db, err)
	}
	return id, t, nil
}

// DeleteRoot removes one root by id. Returns false if absent.
func (s *Store) DeleteRoot(bucket string, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`DELETE FROM roots WHERE bucket = ? AND id = ?`, bucket, id)
	if err != nil {
		return false, backuperr.New(backuperr.Db, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, backuperr.New(backuperr.Db, err)
	}
	return affected > 0, nil
}
