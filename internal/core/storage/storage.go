// Package storage describes persisted scene snapshots.
package storage

import (
	"errors"
	"time"
)

var (
	ErrNotConfigured     = errors.New("storage is not configured")
	ErrEmptySceneID      = errors.New("scene id is required")
	ErrSnapshotCorrupted = errors.New("snapshot digest mismatch")
)

// SnapshotRecord is the metadata of one stored snapshot.
type SnapshotRecord struct {
	SceneID   string
	Size      int
	Digest    uint64
	UpdatedAt time.Time
}

// Statistics summarises the snapshot table.
type Statistics struct {
	Snapshots int
	Bytes     int64
}
