// Package cache stores synthesized WAV audio in a SQLite database keyed by
// request fingerprint.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/example/go-supertonic/internal/tts"
)

// Store is a SQLite-backed tts.AudioCache. It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
}

// Stats summarizes the cache contents.
type Stats struct {
	Entries int
	Bytes   int64
	Seconds float64
}

// Open opens or creates the cache database at path and runs migrations.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("cache path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("audio cache opened", "path", path)

	return s, nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS audio_cache (
			cache_key TEXT PRIMARY KEY,
			wav BLOB NOT NULL,
			seconds REAL NOT NULL DEFAULT 0,
			size INTEGER NOT NULL DEFAULT 0,
			hits INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_used INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audio_cache_last_used ON audio_cache(last_used)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migrate cache: %w", err)
		}
	}
	return nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the cached WAV for key and bumps its hit count.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var wav []byte
	err := s.db.QueryRowContext(ctx, `SELECT wav FROM audio_cache WHERE cache_key = ?`, key).Scan(&wav)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache entry: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE audio_cache SET hits = hits + 1, last_used = ? WHERE cache_key = ?`,
		time.Now().UnixNano(), key); err != nil {
		slog.Debug("cache hit bookkeeping failed", "error", err)
	}

	return wav, true, nil
}

// Put stores or replaces the WAV for key.
func (s *Store) Put(ctx context.Context, key string, wav []byte, seconds float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audio_cache (cache_key, wav, seconds, size, last_used)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			wav = excluded.wav,
			seconds = excluded.seconds,
			size = excluded.size,
			last_used = excluded.last_used`,
		key, wav, seconds, len(wav), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

// Stats reports entry count, total WAV bytes and total audio seconds.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size), 0), COALESCE(SUM(seconds), 0) FROM audio_cache`,
	).Scan(&st.Entries, &st.Bytes, &st.Seconds)
	if err != nil {
		return Stats{}, fmt.Errorf("read cache stats: %w", err)
	}
	return st, nil
}

// Prune deletes the least recently used entries until at most keep remain.
// It returns the number of rows removed.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM audio_cache WHERE cache_key NOT IN (
			SELECT cache_key FROM audio_cache ORDER BY last_used DESC LIMIT ?
		)`, max(keep, 0))
	if err != nil {
		return 0, fmt.Errorf("prune cache: %w", err)
	}
	return res.RowsAffected()
}

var _ tts.AudioCache = (*Store)(nil)
