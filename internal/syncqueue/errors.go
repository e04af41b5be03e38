package syncqueue

import "errors"

// Queue errors. ErrQueueExhausted and ErrUnavailable are the two
// failures surfaced to the user; everything else stays internal.
var (
	ErrQueueExhausted = errors.New("sync task exceeded its retry ceiling")
	ErrUnavailable    = errors.New("no cached data available while offline")
	ErrQueueFull      = errors.New("offline queue is full")
	ErrQueueStopped   = errors.New("queue is stopped")
)
