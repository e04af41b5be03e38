package transport

import "errors"

// Socket-level errors. These never escape the reconnection controller;
// it translates them into ConnectionStatus changes.
var (
	ErrConnectTimeout    = errors.New("connection timeout: no open acknowledgment within handshake window")
	ErrConnectionRefused = errors.New("connection refused")
	ErrConnectionAborted = errors.New("connection aborted")
	ErrNotConnected      = errors.New("socket is not open")
	ErrAlreadyConnected  = errors.New("transport already connected")
	ErrWriteTimeout      = errors.New("write timeout")
)
