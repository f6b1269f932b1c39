// Package modcache implements SPEC_FULL.md's ADD §4.11 Module Cache: a
// persisted {path, mtime, hash, compiled} table so repeated runs of the
// same script skip re-running esbuild's CommonJS transform on unchanged
// files. Grounded directly on cryguy-worker/d1.go's OpenD1Database
// pattern (glebarez/sqlite pure-Go driver opened through database/sql,
// WAL journal mode, directory auto-create), generalized from "one
// isolated database per D1 binding" to "one cache database per runtime,
// one row per module file."
package modcache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/glebarez/sqlite"
)

// Cache wraps a sqlite-backed table of compiled module bodies, keyed by
// absolute file path, guarded by source hash and mtime so a changed file
// is never served stale (SPEC_FULL.md's testable property 13).
type Cache struct {
	db *sql.DB
}

// Open creates (or reuses) the sqlite file at path and ensures its
// schema exists. An empty path opens an in-memory database, useful for
// tests. The runtime never calls Open with an empty path: when
// KESTREL_MODULE_CACHE is unset it opens no cache and every module
// recompiles.
func Open(path string) (*Cache, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	} else if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("modcache: creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("modcache: opening %q: %w", dsn, err)
	}
	_, _ = db.Exec(`PRAGMA journal_mode=WAL`)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS modules (
		path TEXT PRIMARY KEY,
		mtime_unix_nano INTEGER NOT NULL,
		source_hash TEXT NOT NULL,
		compiled TEXT NOT NULL
	)`)
	if err != nil {
		return nil, fmt.Errorf("modcache: creating schema: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached compiled body for abs if its recorded mtime and
// source hash both still match the file on disk. A cache entry is never
// served once either has drifted — property 13's "never serve a stale
// mtime" guarantee.
func (c *Cache) Get(abs string, source []byte) (compiled string, ok bool, err error) {
	info, statErr := os.Stat(abs)
	if statErr != nil {
		return "", false, statErr
	}
	wantHash := hashOf(source)

	var gotMtime int64
	var gotHash, gotCompiled string
	row := c.db.QueryRow(`SELECT mtime_unix_nano, source_hash, compiled FROM modules WHERE path = ?`, abs)
	if scanErr := row.Scan(&gotMtime, &gotHash, &gotCompiled); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, scanErr
	}

	if gotMtime != info.ModTime().UnixNano() || gotHash != wantHash {
		return "", false, nil
	}
	return gotCompiled, true, nil
}

// Put records abs's current mtime, source hash, and transformed body,
// replacing any prior row for the same path.
func (c *Cache) Put(abs string, source []byte, compiled string) error {
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}
	_, err = c.db.Exec(`INSERT INTO modules (path, mtime_unix_nano, source_hash, compiled)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			mtime_unix_nano = excluded.mtime_unix_nano,
			source_hash = excluded.source_hash,
			compiled = excluded.compiled`,
		abs, info.ModTime().UnixNano(), hashOf(source), compiled)
	return err
}

func hashOf(source []byte) string {
	sum := sha256.Sum256(source)
	return hex.EncodeToString(sum[:])
}
