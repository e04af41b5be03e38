// Package reconnect wraps a transport with the connection status state
// machine: backoff-driven redial on unexpected close, replay of
// outbound messages buffered while disconnected, and membership
// restoration delegated to the channel session.
package reconnect

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"lessonsync/internal/dispatch"
	"lessonsync/internal/transport"
	"lessonsync/pkg/interfaces"
	"lessonsync/pkg/types"
)

// Options bound the redial policy. Delay grows linearly
// (base * attempt) up to Cap; after MaxAttempts failures the
// controller gives up and raises reconnect_failed.
type Options struct {
	BackoffBase time.Duration
	BackoffCap  time.Duration
	MaxAttempts int
}

// DefaultOptions returns the production redial policy.
func DefaultOptions() Options {
	return Options{
		BackoffBase: time.Second,
		BackoffCap:  15 * time.Second,
		MaxAttempts: 5,
	}
}

// Controller owns the ConnectionStatus enum exclusively. Collaborators
// read status through Status or a status listener; they never see raw
// socket errors.
type Controller struct {
	factory    interfaces.TransportFactory
	dispatcher *dispatch.Dispatcher
	opts       Options

	mu              sync.Mutex
	status          types.ConnectionStatus
	transport       interfaces.Transport
	url             string
	buffer          []types.WireMessage
	generation      int
	closed          bool
	reconnecting    bool
	reconnectToken  int
	cancelReconnect context.CancelFunc
	rejoin          func()
	statusListeners []func(types.ConnectionStatus)
}

// NewController builds a controller around a transport factory. Events
// (connected, disconnected, reconnect_failed, error and all inbound
// wire messages) flow through the dispatcher.
func NewController(factory interfaces.TransportFactory, dispatcher *dispatch.Dispatcher, opts Options) *Controller {
	if opts.MaxAttempts <= 0 {
		opts = DefaultOptions()
	}
	return &Controller{
		factory:    factory,
		dispatcher: dispatcher,
		opts:       opts,
		status:     types.StatusDisconnected,
	}
}

// SetRejoinHook registers the callback invoked after every successful
// (re)connect, once buffered messages have been replayed. The channel
// session uses it to re-issue its join.
func (c *Controller) SetRejoinHook(fn func()) {
	c.mu.Lock()
	c.rejoin = fn
	c.mu.Unlock()
}

// OnStatusChange registers a status listener. Listeners run on the
// goroutine that caused the change and must not block.
func (c *Controller) OnStatusChange(fn func(types.ConnectionStatus)) {
	c.mu.Lock()
	c.statusListeners = append(c.statusListeners, fn)
	c.mu.Unlock()
}

// Status returns the current connection status.
func (c *Controller) Status() types.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connect dials the channel URL. It suspends the caller until the
// socket opens or fails; automatic redial applies only to later
// unexpected closes, never to an initial connect failure.
func (c *Controller) Connect(ctx context.Context, url string) error {
	if url == "" {
		return ErrNoURL
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	if c.status == types.StatusConnecting || c.status == types.StatusConnected {
		c.mu.Unlock()
		return ErrAlreadyConnecting
	}
	c.url = url
	c.mu.Unlock()

	c.setStatus(types.StatusConnecting)

	if err := c.dial(ctx); err != nil {
		c.setStatus(types.StatusDisconnected)
		return err
	}
	return nil
}

// Send delivers the message when connected and buffers it otherwise.
// Buffered messages are replayed in original submission order on the
// next successful connect.
func (c *Controller) Send(msg types.WireMessage) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	tr := c.transport
	connected := c.status == types.StatusConnected
	if !connected || tr == nil {
		c.buffer = append(c.buffer, msg)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := tr.Send(msg); err != nil {
		// Socket died between the status check and the write; keep the
		// message for replay instead of losing it.
		c.mu.Lock()
		c.buffer = append(c.buffer, msg)
		c.mu.Unlock()
	}
	return nil
}

// BufferedCount reports how many outbound messages await replay.
func (c *Controller) BufferedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// Disconnect is terminal: it aborts pending redial timers, closes the
// socket with a normal-closure code and suppresses all further
// reconnection. Resuming requires a fresh channel session.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancelReconnect
	tr := c.transport
	c.transport = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if tr != nil {
		return tr.Disconnect()
	}

	c.setStatus(types.StatusDisconnected)
	c.dispatcher.Emit(types.EventDisconnected, dispatch.Event{
		Type:   types.EventDisconnected,
		Detail: "client disconnect",
	})
	return nil
}

// dial opens one transport and, on success, replays the buffer and
// restores channel membership.
func (c *Controller) dial(ctx context.Context) error {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	url := c.url
	c.mu.Unlock()

	listener := &transportListener{controller: c, generation: gen}
	tr := c.factory(listener)

	if err := tr.Connect(ctx, url); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		// Disconnect raced the handshake; the caller's connect was
		// aborted, not refused.
		c.mu.Unlock()
		_ = tr.Disconnect()
		return transport.ErrConnectionAborted
	}
	c.transport = tr
	// Clear the redial flag here rather than in the loop's cleanup: a
	// close landing on this fresh socket must be able to start a new
	// redial loop before the old one has fully unwound.
	c.reconnecting = false
	pending := c.buffer
	c.buffer = nil
	rejoin := c.rejoin
	c.mu.Unlock()

	c.setStatus(types.StatusConnected)

	c.flush(tr, pending)
	if rejoin != nil {
		rejoin()
	}

	c.dispatcher.Emit(types.EventConnected, dispatch.Event{Type: types.EventConnected})
	return nil
}

// flush replays buffered messages in submission order. A mid-flush
// write failure re-buffers the failed message and everything after it,
// preserving both order and exactly-once replay from the buffer.
func (c *Controller) flush(tr interfaces.Transport, pending []types.WireMessage) {
	for i, msg := range pending {
		if err := tr.Send(msg); err != nil {
			remaining := append([]types.WireMessage{}, pending[i:]...)
			c.mu.Lock()
			c.buffer = append(remaining, c.buffer...)
			c.mu.Unlock()
			log.Printf("reconnect: replay interrupted after %d/%d messages: %v", i, len(pending), err)
			return
		}
	}
	if len(pending) > 0 {
		log.Printf("reconnect: replayed %d buffered messages", len(pending))
	}
}

// handleClose reacts to transport closure. Normal closure means the
// client asked for it; anything else triggers the redial loop.
func (c *Controller) handleClose(generation, code int, reason string) {
	c.mu.Lock()
	if generation != c.generation {
		// Stale transport; a newer socket already replaced it.
		c.mu.Unlock()
		return
	}
	c.transport = nil
	closed := c.closed
	alreadyReconnecting := c.reconnecting
	if !closed && code != websocket.CloseNormalClosure {
		c.reconnecting = true
	}
	c.mu.Unlock()

	if closed || code == websocket.CloseNormalClosure {
		c.setStatus(types.StatusDisconnected)
		c.dispatcher.Emit(types.EventDisconnected, dispatch.Event{
			Type:   types.EventDisconnected,
			Detail: reason,
		})
		return
	}

	log.Printf("reconnect: connection lost (code=%d reason=%q)", code, reason)
	c.dispatcher.Emit(types.EventDisconnected, dispatch.Event{
		Type:   types.EventDisconnected,
		Detail: reason,
	})

	if !alreadyReconnecting {
		ctx, cancel := context.WithCancel(context.Background())
		c.mu.Lock()
		c.reconnectToken++
		token := c.reconnectToken
		c.cancelReconnect = cancel
		c.mu.Unlock()
		go c.reconnectLoop(ctx, token)
	}
}

// reconnectLoop redials with bounded linear backoff. Exhaustion is the
// explicit handoff signal for the offline sync queue: status drops to
// disconnected and reconnect_failed fires exactly once.
func (c *Controller) reconnectLoop(ctx context.Context, token int) {
	defer func() {
		// A replacement loop may already be running; its token differs,
		// and its flags are not ours to clear.
		c.mu.Lock()
		if c.reconnectToken == token {
			c.reconnecting = false
			c.cancelReconnect = nil
		}
		c.mu.Unlock()
	}()

	c.setStatus(types.StatusReconnecting)

	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		delay := c.opts.BackoffBase * time.Duration(attempt)
		if delay > c.opts.BackoffCap {
			delay = c.opts.BackoffCap
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}

		if c.isClosed() {
			return
		}

		log.Printf("reconnect: attempt %d/%d", attempt, c.opts.MaxAttempts)
		if err := c.dial(ctx); err == nil {
			return
		} else if err == transport.ErrConnectionAborted {
			return
		} else {
			log.Printf("reconnect: attempt %d failed: %v", attempt, err)
		}
	}

	c.setStatus(types.StatusDisconnected)
	log.Printf("reconnect: giving up after %d attempts", c.opts.MaxAttempts)
	c.dispatcher.Emit(types.EventReconnectFailed, dispatch.Event{Type: types.EventReconnectFailed})
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) setStatus(status types.ConnectionStatus) {
	c.mu.Lock()
	if c.status == status {
		c.mu.Unlock()
		return
	}
	c.status = status
	listeners := make([]func(types.ConnectionStatus), len(c.statusListeners))
	copy(listeners, c.statusListeners)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(status)
	}
}

// transportListener adapts controller callbacks to the transport's
// single-listener contract. The generation stamp keeps events from a
// replaced socket from disturbing the current one.
type transportListener struct {
	controller *Controller
	generation int
}

func (l *transportListener) OnMessage(msg types.WireMessage) {
	l.controller.mu.Lock()
	stale := l.generation != l.controller.generation
	l.controller.mu.Unlock()
	if stale {
		return
	}
	l.controller.dispatcher.EmitMessage(msg)
}

func (l *transportListener) OnClose(code int, reason string) {
	l.controller.handleClose(l.generation, code, reason)
}

func (l *transportListener) OnError(err error) {
	log.Printf("reconnect: transport error: %v", err)
	l.controller.dispatcher.Emit(types.EventError, dispatch.Event{
		Type:   types.EventError,
		Detail: err.Error(),
	})
}
