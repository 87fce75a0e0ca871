// Package cache persists HTTP responses between runs.
//
// Entries live in a SQLite index with bodies in a content-addressed blob
// directory. Replacing an entry is a single row upsert that swaps the blob
// reference, so readers either see the old entry or the new one, never a mix.
// Every storage error is reported to the caller, who treats it as a miss.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// ErrMiss is returned by Lookup when no usable entry exists.
var ErrMiss = errors.New("cache miss")

// ErrCorrupt marks an entry whose blob does not match its digest.
var ErrCorrupt = errors.New("corrupt cache entry")

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	key           TEXT PRIMARY KEY,
	url           TEXT NOT NULL,
	status        INTEGER NOT NULL,
	header        TEXT NOT NULL,
	blob          TEXT NOT NULL,
	size          INTEGER NOT NULL,
	etag          TEXT NOT NULL DEFAULT '',
	last_modified TEXT NOT NULL DEFAULT '',
	stored_at     INTEGER NOT NULL,
	expires_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS entries_blob ON entries(blob);
CREATE INDEX IF NOT EXISTS entries_expires ON entries(expires_at);
`

// Store is a persistent response cache rooted at one directory.
type Store struct {
	db      *sql.DB
	blobDir string
	log     *zap.Logger
}

// Open opens or creates the cache under dir.
func Open(dir string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	blobDir := filepath.Join(dir, "blobs")
	if err := os.MkdirAll(blobDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	dsn := filepath.Join(dir, "index.db") + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache index: %w", err)
	}
	// One writer at a time keeps SQLite from returning SQLITE_BUSY under
	// concurrent workers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to cache index: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not migrate cache index: %w", err)
	}

	return &Store{db: db, blobDir: blobDir, log: log}, nil
}

// Close releases the index.
func (s *Store) Close() error {
	return s.db.Close()
}

// Lookup returns the entry stored under key, fresh or not.
func (s *Store) Lookup(ctx context.Context, key string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT url, status, header, blob, etag, last_modified, stored_at, expires_at
		FROM entries WHERE key = ?`, key)

	var (
		e              = Entry{Key: key}
		header, blob   string
		stored, expiry int64
	)
	err := row.Scan(&e.URL, &e.StatusCode, &header, &blob, &e.ETag, &e.LastModified, &stored, &expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(header), &e.Header); err != nil {
		s.evict(ctx, key, blob)
		return nil, fmt.Errorf("lookup %s: header: %w", key, ErrCorrupt)
	}

	body, err := os.ReadFile(s.blobPath(blob))
	if err != nil {
		if os.IsNotExist(err) {
			s.evict(ctx, key, blob)
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("lookup %s: %w", key, err)
	}
	if digest(body) != blob {
		s.evict(ctx, key, blob)
		return nil, fmt.Errorf("lookup %s: %w", key, ErrCorrupt)
	}

	e.Body = body
	e.StoredAt = time.Unix(0, stored)
	e.ExpiresAt = time.Unix(0, expiry)
	return &e, nil
}

// Put stores e, replacing any entry under the same key.
func (s *Store) Put(ctx context.Context, e *Entry) error {
	header, err := json.Marshal(e.Header)
	if err != nil {
		return fmt.Errorf("put %s: %w", e.Key, err)
	}

	blob := digest(e.Body)
	if err := s.writeBlob(blob, e.Body); err != nil {
		return fmt.Errorf("put %s: %w", e.Key, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put %s: %w", e.Key, err)
	}
	defer tx.Rollback()

	var previous string
	err = tx.QueryRowContext(ctx, `SELECT blob FROM entries WHERE key = ?`, e.Key).Scan(&previous)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("put %s: %w", e.Key, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entries (key, url, status, header, blob, size, etag, last_modified, stored_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			url = excluded.url,
			status = excluded.status,
			header = excluded.header,
			blob = excluded.blob,
			size = excluded.size,
			etag = excluded.etag,
			last_modified = excluded.last_modified,
			stored_at = excluded.stored_at,
			expires_at = excluded.expires_at`,
		e.Key, e.URL, e.StatusCode, string(header), blob, len(e.Body),
		e.ETag, e.LastModified, e.StoredAt.UnixNano(), e.ExpiresAt.UnixNano())
	if err != nil {
		return fmt.Errorf("put %s: %w", e.Key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("put %s: %w", e.Key, err)
	}

	if previous != "" && previous != blob {
		s.dropBlobIfUnused(ctx, previous)
	}
	return nil
}

// Refresh updates only the freshness metadata of an entry after a
// successful revalidation. The body is left untouched.
func (s *Store) Refresh(ctx context.Context, key string, storedAt, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE entries SET stored_at = ?, expires_at = ? WHERE key = ?`,
		storedAt.UnixNano(), expiresAt.UnixNano(), key)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMiss
	}
	return nil
}

// Delete removes the entry under key.
func (s *Store) Delete(ctx context.Context, key string) error {
	var blob string
	err := s.db.QueryRowContext(ctx, `SELECT blob FROM entries WHERE key = ?`, key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	s.dropBlobIfUnused(ctx, blob)
	return nil
}

// Prune deletes expired entries that cannot be revalidated and removes
// blobs no entry references. It returns the number of entries removed.
func (s *Store) Prune(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE expires_at <= ? AND etag = '' AND last_modified = ''`,
		now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	removed, _ := res.RowsAffected()

	files, err := os.ReadDir(s.blobDir)
	if err != nil {
		return int(removed), fmt.Errorf("prune: %w", err)
	}
	for _, f := range files {
		// Temp files belong to a writeBlob still in flight.
		if f.IsDir() || strings.HasPrefix(f.Name(), blobTempPrefix) {
			continue
		}
		s.dropBlobIfUnused(ctx, f.Name())
	}
	return int(removed), nil
}

// evict drops key only while it still points at blob, so a concurrent
// replacement is never thrown away.
func (s *Store) evict(ctx context.Context, key, blob string) {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ? AND blob = ?`, key, blob); err != nil {
		s.log.Debug("evict failed", zap.String("key", key), zap.Error(err))
		return
	}
	s.dropBlobIfUnused(ctx, blob)
	s.log.Debug("evicted cache entry", zap.String("key", key))
}

func (s *Store) dropBlobIfUnused(ctx context.Context, blob string) {
	var refs int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries WHERE blob = ?`, blob).Scan(&refs); err != nil {
		s.log.Debug("blob ref count failed", zap.String("blob", blob), zap.Error(err))
		return
	}
	if refs > 0 {
		return
	}
	if err := os.Remove(s.blobPath(blob)); err != nil && !os.IsNotExist(err) {
		s.log.Debug("blob remove failed", zap.String("blob", blob), zap.Error(err))
	}
}

func (s *Store) writeBlob(name string, body []byte) error {
	path := s.blobPath(name)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	tmp, err := os.CreateTemp(s.blobDir, blobTempPrefix+"*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// blobTempPrefix starts the name of a blob being written.
const blobTempPrefix = ".blob-"

func (s *Store) blobPath(name string) string {
	return filepath.Join(s.blobDir, name)
}

func digest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// NewEntry builds an entry for a response received at now.
func NewEntry(key, url string, resp *http.Response, body []byte, now, expires time.Time) *Entry {
	return &Entry{
		Key:          key,
		URL:          url,
		StatusCode:   resp.StatusCode,
		Header:       resp.Header.Clone(),
		Body:         body,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		StoredAt:     now,
		ExpiresAt:    expires,
	}
}
