package channel

import "errors"

// Session lifecycle errors.
var (
	ErrSessionClosed = errors.New("channel session has ended")
	ErrEmptyBaseURL  = errors.New("server base URL cannot be empty")
)
