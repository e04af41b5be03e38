// Package transport owns one physical WebSocket to the classroom
// server. It performs liveness detection with application-level
// heartbeat frames and reports lifecycle events to a single listener.
// Connections are single-use: after close, dial a fresh one.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"lessonsync/pkg/interfaces"
	"lessonsync/pkg/types"
)

// Options bound the connection's timers.
type Options struct {
	ConnectTimeout    time.Duration // handshake window
	HeartbeatInterval time.Duration // delay between heartbeat frames
	PongTimeout       time.Duration // window to receive a pong per heartbeat
	WriteTimeout      time.Duration // per-frame write deadline
}

// DefaultOptions returns the production timer set.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:    10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		PongTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Second,
	}
}

// Connection wraps one gorilla socket. Writes are serialized through a
// single writer goroutine; reads happen on a dedicated read loop that
// feeds the listener.
type Connection struct {
	opts     Options
	listener interfaces.TransportListener

	mu     sync.Mutex
	conn   *websocket.Conn
	opened bool

	writeCh   chan []byte
	pongCh    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewConnection creates an unopened connection bound to its single
// listener.
func NewConnection(listener interfaces.TransportListener, opts Options) *Connection {
	if opts.ConnectTimeout <= 0 {
		opts = DefaultOptions()
	}
	return &Connection{
		opts:     opts,
		listener: listener,
		writeCh:  make(chan []byte, 100),
		pongCh:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Factory adapts NewConnection to the interfaces.TransportFactory
// shape expected by the reconnection controller.
func Factory(opts Options) interfaces.TransportFactory {
	return func(listener interfaces.TransportListener) interfaces.Transport {
		return NewConnection(listener, opts)
	}
}

// Connect dials the server and suspends the caller until the socket is
// open or the handshake window elapses. It fails with
// ErrConnectTimeout when no open acknowledgment arrives in time,
// ErrConnectionRefused on an immediate socket error, and
// ErrConnectionAborted when the context is cancelled.
func (c *Connection) Connect(ctx context.Context, url string) error {
	c.mu.Lock()
	if c.opened {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	dialer := &websocket.Dialer{HandshakeTimeout: c.opts.ConnectTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return classifyDialError(ctx, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.opened = true
	c.mu.Unlock()

	go c.writeLoop(conn)
	go c.readLoop(conn)
	go c.heartbeatLoop()

	return nil
}

// Send marshals the message and hands it to the writer goroutine.
// Fire-and-forget: delivery is not acknowledged. Calling Send on a
// socket that is not open is a caller error.
func (c *Connection) Send(msg types.WireMessage) error {
	c.mu.Lock()
	open := c.opened
	c.mu.Unlock()
	if !open {
		return ErrNotConnected
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.done:
		return ErrNotConnected
	case <-time.After(c.opts.WriteTimeout):
		return ErrWriteTimeout
	}
}

// Disconnect closes with a normal-closure code so the reconnection
// controller does not treat the close as a failure.
func (c *Connection) Disconnect() error {
	c.shutdown(websocket.CloseNormalClosure, "client disconnect")
	return nil
}

// writeLoop is the single writer goroutine; serializing writes here
// keeps gorilla's one-writer rule intact.
func (c *Connection) writeLoop(conn *websocket.Conn) {
	for {
		select {
		case data := <-c.writeCh:
			if err := conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.listener.OnError(err)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.listener.OnError(err)
				return
			}
		case <-c.done:
			return
		}
	}
}

// readLoop decodes inbound frames. Malformed frames are logged and
// dropped; pongs feed the heartbeat watchdog and are not forwarded.
func (c *Connection) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			code, reason := closeDetails(err)
			c.shutdown(code, reason)
			return
		}

		var msg types.WireMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			log.Printf("transport: dropping malformed frame (%d bytes)", len(data))
			continue
		}

		if msg.Type == types.MessageTypePong {
			select {
			case c.pongCh <- struct{}{}:
			default:
			}
			continue
		}

		c.listener.OnMessage(msg)
	}
}

// heartbeatLoop sends periodic heartbeat frames and arms a pong
// watchdog per frame. The loop is strictly sequential: one heartbeat
// outstanding at a time, so a dead connection closes exactly once no
// matter how timers drift.
func (c *Connection) heartbeatLoop() {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.Send(types.NewWireMessage(types.MessageTypeHeartbeat, nil)); err != nil {
				return
			}
			select {
			case <-c.pongCh:
			case <-time.After(c.opts.PongTimeout):
				log.Printf("transport: heartbeat timeout, closing connection")
				c.shutdown(websocket.CloseAbnormalClosure, "heartbeat timeout")
				return
			case <-c.done:
				return
			}
		case <-c.done:
			return
		}
	}
}

// shutdown tears the socket down and notifies the listener exactly
// once, regardless of how many paths detect the failure.
func (c *Connection) shutdown(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		conn := c.conn
		c.opened = false
		c.mu.Unlock()

		if conn != nil {
			deadline := time.Now().Add(time.Second)
			msg := websocket.FormatCloseMessage(code, reason)
			if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil &&
				!errors.Is(err, websocket.ErrCloseSent) {
				log.Printf("transport: close handshake failed: %v", err)
			}
			_ = conn.Close()
		}

		c.listener.OnClose(code, reason)
	})
}

// classifyDialError maps handshake failures onto the transport error
// taxonomy.
func classifyDialError(ctx context.Context, err error) error {
	if ctx.Err() == context.Canceled {
		return ErrConnectionAborted
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrConnectTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrConnectTimeout
	}
	return ErrConnectionRefused
}

// closeDetails extracts the close code and reason from a read error.
// Reads that fail without a close frame count as abnormal closure.
func closeDetails(err error) (int, string) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code, closeErr.Text
	}
	return websocket.CloseAbnormalClosure, err.Error()
}
