// Package sqlite persists scene snapshots in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	_ "modernc.org/sqlite"

	"github.com/zeusync/crdtsync/internal/core/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS scene_snapshots (
	scene_id   TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	digest     INTEGER NOT NULL,
	size       INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`

// Store provides SQLite-backed snapshot persistence.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// Open opens a snapshot store and creates its schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) check(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ErrNotConfigured
	}
	if strings.TrimSpace(id) == "" {
		return storage.ErrEmptySceneID
	}
	return nil
}

// Save replaces the snapshot of a scene.
func (s *Store) Save(ctx context.Context, id string, data []byte) error {
	if err := s.check(ctx, id); err != nil {
		return err
	}
	if data == nil {
		data = []byte{}
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO scene_snapshots (scene_id, data, digest, size, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(scene_id) DO UPDATE SET
	data = excluded.data,
	digest = excluded.digest,
	size = excluded.size,
	updated_at = excluded.updated_at
`,
		id,
		data,
		int64(xxhash.Sum64(data)),
		len(data),
		s.now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot. The boolean is false when the scene has
// none.
func (s *Store) Load(ctx context.Context, id string) ([]byte, bool, error) {
	if err := s.check(ctx, id); err != nil {
		return nil, false, err
	}

	var (
		data   []byte
		digest int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT data, digest FROM scene_snapshots WHERE scene_id = ?`, id,
	).Scan(&data, &digest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load snapshot: %w", err)
	}
	if xxhash.Sum64(data) != uint64(digest) {
		return nil, false, fmt.Errorf("load snapshot %s: %w", id, storage.ErrSnapshotCorrupted)
	}
	return data, true, nil
}

// Delete removes the snapshot of a scene. Missing snapshots are not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.check(ctx, id); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM scene_snapshots WHERE scene_id = ?`, id); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// List returns the metadata of every snapshot ordered by scene id.
func (s *Store) List(ctx context.Context) ([]storage.SnapshotRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, storage.ErrNotConfigured
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT scene_id, size, digest, updated_at
FROM scene_snapshots
ORDER BY scene_id
`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var records []storage.SnapshotRecord
	for rows.Next() {
		var (
			rec       storage.SnapshotRecord
			digest    int64
			updatedAt int64
		)
		if err := rows.Scan(&rec.SceneID, &rec.Size, &digest, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		rec.Digest = uint64(digest)
		rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return records, nil
}

// Statistics counts stored snapshots and their total size.
func (s *Store) Statistics(ctx context.Context) (storage.Statistics, error) {
	if err := ctx.Err(); err != nil {
		return storage.Statistics{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Statistics{}, storage.ErrNotConfigured
	}

	var stats storage.Statistics
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM scene_snapshots`,
	).Scan(&stats.Snapshots, &stats.Bytes)
	if err != nil {
		return storage.Statistics{}, fmt.Errorf("snapshot statistics: %w", err)
	}
	return stats, nil
}
