package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// ---------------------------------------------------------------------------
// Store: content-addressed program cache
// ---------------------------------------------------------------------------

// Store keeps compiled programs in a SQLite database, keyed by the SHA-256 of
// their source text, so `chen run` skips recompiling unchanged files.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) a store at the given path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cache: creating directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: opening database: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: setting busy timeout: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS programs (
		hash TEXT PRIMARY KEY,
		bytecode BLOB NOT NULL,
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: creating table: %w", err)
	}
	return &Store{db: db}, nil
}

// DefaultPath returns the per-user cache location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cache: getting home dir: %w", err)
	}
	return filepath.Join(home, ".chen", "cache.db"), nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// HashSource returns the cache key for a source text.
func HashSource(src string) string {
	sum := sha256.Sum256([]byte(src))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached bytecode for a source hash.
func (s *Store) Get(hash string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var blob []byte
	err := s.db.QueryRow("SELECT bytecode FROM programs WHERE hash = ?", hash).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: get: %w", err)
	}
	return blob, true, nil
}

// Put stores bytecode under a source hash, replacing any previous entry.
func (s *Store) Put(hash string, bytecode []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		"INSERT INTO programs (hash, bytecode) VALUES (?, ?) ON CONFLICT(hash) DO UPDATE SET bytecode = excluded.bytecode",
		hash, bytecode,
	)
	if err != nil {
		return fmt.Errorf("cache: put: %w", err)
	}
	return nil
}
