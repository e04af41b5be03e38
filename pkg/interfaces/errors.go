package interfaces

import "errors"

// Errors shared across interface implementations.
var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrTaskNotFound     = errors.New("task not found")
	ErrLessonNotFound   = errors.New("lesson not found")
)
