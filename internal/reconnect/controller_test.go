package reconnect

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"lessonsync/internal/dispatch"
	"lessonsync/internal/transport"
	"lessonsync/pkg/interfaces"
	"lessonsync/pkg/types"
)

// fakeTransport is a scripted transport: each dial consumes the next
// outcome from its factory, and tests drive closes by hand.
type fakeTransport struct {
	listener   interfaces.TransportListener
	connectErr error

	mu           sync.Mutex
	sent         []types.WireMessage
	sendFailures int
	disconnected bool
}

func (f *fakeTransport) Connect(ctx context.Context, url string) error {
	return f.connectErr
}

func (f *fakeTransport) Send(msg types.WireMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendFailures > 0 {
		f.sendFailures--
		return errors.New("socket write failed")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
	return nil
}

func (f *fakeTransport) sentTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, msg := range f.sent {
		out[i] = msg.Type
	}
	return out
}

// fakeFactory hands out transports in order; the last script entry
// repeats once the script is exhausted.
type fakeFactory struct {
	mu         sync.Mutex
	script     []error
	transports []*fakeTransport
}

func (f *fakeFactory) factory(listener interfaces.TransportListener) interfaces.Transport {
	f.mu.Lock()
	defer f.mu.Unlock()

	var connectErr error
	if len(f.script) > 0 {
		connectErr = f.script[0]
		if len(f.script) > 1 {
			f.script = f.script[1:]
		}
	}

	transport := &fakeTransport{listener: listener, connectErr: connectErr}
	f.transports = append(f.transports, transport)
	return transport
}

func (f *fakeFactory) transport(i int) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i < 0 {
		i += len(f.transports)
	}
	return f.transports[i]
}

func (f *fakeFactory) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transports)
}

func fastRetry() Options {
	return Options{
		BackoffBase: 5 * time.Millisecond,
		BackoffCap:  20 * time.Millisecond,
		MaxAttempts: 3,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectSuccess(t *testing.T) {
	factory := &fakeFactory{script: []error{nil}}
	dispatcher := dispatch.NewDispatcher()

	var connectedEvents int
	dispatcher.On(types.EventConnected, func(evt dispatch.Event) { connectedEvents++ })

	c := NewController(factory.factory, dispatcher, fastRetry())

	rejoined := false
	c.SetRejoinHook(func() { rejoined = true })

	if err := c.Connect(context.Background(), "ws://server/ws"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	if c.Status() != types.StatusConnected {
		t.Errorf("expected connected status, got %s", c.Status())
	}
	if !rejoined {
		t.Error("rejoin hook should run on first connect")
	}
	if connectedEvents != 1 {
		t.Errorf("expected one connected event, got %d", connectedEvents)
	}
}

func TestInitialConnectFailureDoesNotRetry(t *testing.T) {
	dialErr := errors.New("refused")
	factory := &fakeFactory{script: []error{dialErr}}
	c := NewController(factory.factory, dispatch.NewDispatcher(), fastRetry())

	if err := c.Connect(context.Background(), "ws://server/ws"); err != dialErr {
		t.Fatalf("expected dial error back, got %v", err)
	}
	if c.Status() != types.StatusDisconnected {
		t.Errorf("expected disconnected after failed connect, got %s", c.Status())
	}

	time.Sleep(50 * time.Millisecond)
	if n := factory.dialCount(); n != 1 {
		t.Errorf("initial failure must not redial, got %d dials", n)
	}
}

func TestConnectRequiresURL(t *testing.T) {
	c := NewController((&fakeFactory{}).factory, dispatch.NewDispatcher(), fastRetry())
	if err := c.Connect(context.Background(), ""); err != ErrNoURL {
		t.Errorf("expected ErrNoURL, got %v", err)
	}
}

func TestSendBuffersWhileDisconnected(t *testing.T) {
	factory := &fakeFactory{script: []error{nil}}
	c := NewController(factory.factory, dispatch.NewDispatcher(), fastRetry())

	for _, id := range []string{"s1", "s2", "s3"} {
		msg := types.NewCommandMessage(types.MessageTypeSectionChange, map[string]interface{}{"sectionId": id})
		if err := c.Send(msg); err != nil {
			t.Fatalf("send should buffer, got %v", err)
		}
	}
	if c.BufferedCount() != 3 {
		t.Fatalf("expected 3 buffered messages, got %d", c.BufferedCount())
	}

	if err := c.Connect(context.Background(), "ws://server/ws"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	transport := factory.transport(0)
	transport.mu.Lock()
	defer transport.mu.Unlock()
	if len(transport.sent) != 3 {
		t.Fatalf("expected 3 replayed messages, got %d", len(transport.sent))
	}
	for i, id := range []string{"s1", "s2", "s3"} {
		if transport.sent[i].Data["sectionId"] != id {
			t.Errorf("replay out of order at %d: got %v", i, transport.sent[i].Data["sectionId"])
		}
	}
	if c.BufferedCount() != 0 {
		t.Errorf("buffer should be empty after replay, got %d", c.BufferedCount())
	}
}

func TestReplayRunsBeforeRejoin(t *testing.T) {
	factory := &fakeFactory{script: []error{nil}}
	c := NewController(factory.factory, dispatch.NewDispatcher(), fastRetry())

	var rejoinSeen int
	c.SetRejoinHook(func() {
		rejoinSeen = len(factory.transport(0).sentTypes())
	})

	_ = c.Send(types.NewWireMessage(types.MessageTypeAnnotationAdded, nil))
	if err := c.Connect(context.Background(), "ws://server/ws"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	if rejoinSeen != 1 {
		t.Errorf("buffered replay must complete before rejoin, saw %d sent", rejoinSeen)
	}
}

func TestUnexpectedCloseTriggersReconnect(t *testing.T) {
	factory := &fakeFactory{script: []error{nil, nil}}
	dispatcher := dispatch.NewDispatcher()
	c := NewController(factory.factory, dispatcher, fastRetry())

	if err := c.Connect(context.Background(), "ws://server/ws"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	first := factory.transport(0)
	first.listener.OnClose(websocket.CloseAbnormalClosure, "network down")

	waitFor(t, "reconnect", func() bool { return c.Status() == types.StatusConnected && factory.dialCount() == 2 })
}

func TestNormalClosureDoesNotReconnect(t *testing.T) {
	factory := &fakeFactory{script: []error{nil}}
	c := NewController(factory.factory, dispatch.NewDispatcher(), fastRetry())

	if err := c.Connect(context.Background(), "ws://server/ws"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	factory.transport(0).listener.OnClose(websocket.CloseNormalClosure, "client disconnect")

	waitFor(t, "disconnected status", func() bool { return c.Status() == types.StatusDisconnected })
	time.Sleep(50 * time.Millisecond)
	if n := factory.dialCount(); n != 1 {
		t.Errorf("normal closure must not redial, got %d dials", n)
	}
}

func TestReconnectExhaustionRaisesFailureOnce(t *testing.T) {
	dialErr := errors.New("still down")
	factory := &fakeFactory{script: []error{nil, dialErr}}
	dispatcher := dispatch.NewDispatcher()

	var mu sync.Mutex
	failures := 0
	dispatcher.On(types.EventReconnectFailed, func(evt dispatch.Event) {
		mu.Lock()
		failures++
		mu.Unlock()
	})

	c := NewController(factory.factory, dispatcher, fastRetry())
	if err := c.Connect(context.Background(), "ws://server/ws"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	factory.transport(0).listener.OnClose(websocket.CloseAbnormalClosure, "network down")

	waitFor(t, "exhaustion", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return failures > 0
	})

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if failures != 1 {
		t.Errorf("reconnect_failed must fire exactly once, got %d", failures)
	}
	if c.Status() != types.StatusDisconnected {
		t.Errorf("expected disconnected after exhaustion, got %s", c.Status())
	}
	// 1 initial + MaxAttempts redials
	if n := factory.dialCount(); n != 4 {
		t.Errorf("expected 4 dials total, got %d", n)
	}
}

func TestMessagesBufferedDuringReconnectReplayInOrder(t *testing.T) {
	dialErr := errors.New("still down")
	factory := &fakeFactory{script: []error{nil, dialErr, nil}}
	c := NewController(factory.factory, dispatch.NewDispatcher(), fastRetry())

	if err := c.Connect(context.Background(), "ws://server/ws"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	factory.transport(0).listener.OnClose(websocket.CloseAbnormalClosure, "network down")

	for _, id := range []string{"a", "b"} {
		_ = c.Send(types.NewCommandMessage(types.MessageTypeAnnotationAdded, map[string]interface{}{"id": id}))
	}

	waitFor(t, "reconnect", func() bool { return c.Status() == types.StatusConnected })

	last := factory.transport(-1)
	last.mu.Lock()
	defer last.mu.Unlock()
	if len(last.sent) != 2 {
		t.Fatalf("expected 2 replayed messages, got %d", len(last.sent))
	}
	if last.sent[0].Data["id"] != "a" || last.sent[1].Data["id"] != "b" {
		t.Errorf("replay out of order: %v, %v", last.sent[0].Data["id"], last.sent[1].Data["id"])
	}
}

func TestDisconnectIsTerminal(t *testing.T) {
	factory := &fakeFactory{script: []error{nil}}
	c := NewController(factory.factory, dispatch.NewDispatcher(), fastRetry())

	if err := c.Connect(context.Background(), "ws://server/ws"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}

	transport := factory.transport(0)
	transport.mu.Lock()
	disconnected := transport.disconnected
	transport.mu.Unlock()
	if !disconnected {
		t.Error("transport should be closed by Disconnect")
	}

	if err := c.Send(types.NewWireMessage(types.MessageTypeHeartbeat, nil)); err != ErrControllerClosed {
		t.Errorf("expected ErrControllerClosed after disconnect, got %v", err)
	}
	if err := c.Connect(context.Background(), "ws://server/ws"); err != ErrControllerClosed {
		t.Errorf("expected ErrControllerClosed on reuse, got %v", err)
	}
}

func TestCloseDuringRejoinAfterReconnectRedials(t *testing.T) {
	factory := &fakeFactory{script: []error{nil, nil}}
	c := NewController(factory.factory, dispatch.NewDispatcher(), fastRetry())

	var rejoins int
	c.SetRejoinHook(func() {
		rejoins++
		if rejoins == 2 {
			// The socket the redial loop just restored dies while the
			// loop is still unwinding.
			factory.transport(-1).listener.OnClose(websocket.CloseAbnormalClosure, "flap")
		}
	})

	if err := c.Connect(context.Background(), "ws://server/ws"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	factory.transport(0).listener.OnClose(websocket.CloseAbnormalClosure, "network down")

	waitFor(t, "redial after immediate close", func() bool {
		return c.Status() == types.StatusConnected && factory.dialCount() == 3
	})
}

// selfClosingTransport tears the controller down from inside its own
// handshake, modelling a Leave racing an in-flight connect.
type selfClosingTransport struct {
	controller *Controller
}

func (s *selfClosingTransport) Connect(ctx context.Context, url string) error {
	_ = s.controller.Disconnect()
	return nil
}

func (s *selfClosingTransport) Send(msg types.WireMessage) error { return nil }
func (s *selfClosingTransport) Disconnect() error                { return nil }

func TestDisconnectDuringConnectReportsAborted(t *testing.T) {
	var c *Controller
	factory := func(listener interfaces.TransportListener) interfaces.Transport {
		return &selfClosingTransport{controller: c}
	}
	c = NewController(factory, dispatch.NewDispatcher(), fastRetry())

	if err := c.Connect(context.Background(), "ws://server/ws"); !errors.Is(err, transport.ErrConnectionAborted) {
		t.Errorf("expected ErrConnectionAborted, got %v", err)
	}
	if c.Status() != types.StatusDisconnected {
		t.Errorf("expected disconnected after aborted connect, got %s", c.Status())
	}
}

func TestStatusListenersObserveTransitions(t *testing.T) {
	factory := &fakeFactory{script: []error{nil}}
	c := NewController(factory.factory, dispatch.NewDispatcher(), fastRetry())

	var mu sync.Mutex
	var seen []types.ConnectionStatus
	c.OnStatusChange(func(status types.ConnectionStatus) {
		mu.Lock()
		seen = append(seen, status)
		mu.Unlock()
	})

	if err := c.Connect(context.Background(), "ws://server/ws"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != types.StatusConnecting || seen[1] != types.StatusConnected {
		t.Errorf("expected connecting then connected, got %v", seen)
	}
}
