package scene

import "errors"

var (
	ErrSceneClosed       = errors.New("scene is closed")
	ErrSceneNotFound     = errors.New("scene not found")
	ErrSnapshotTruncated = errors.New("snapshot ends with a partial message")
)
