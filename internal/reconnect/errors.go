package reconnect

import "errors"

// Controller lifecycle errors.
var (
	ErrControllerClosed  = errors.New("controller is closed: build a fresh channel session to resume")
	ErrAlreadyConnecting = errors.New("connect already in progress")
	ErrNoURL             = errors.New("connect URL cannot be empty")
)
