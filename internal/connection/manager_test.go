package connection

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/depotops/feedmux/internal/backoff"
	"github.com/depotops/feedmux/internal/wire"
)

// feedServer is a scripted feed endpoint that records inbound control frames
// and can push events or sever connections.
type feedServer struct {
	t      *testing.T
	server *httptest.Server

	mu    sync.Mutex
	conns []*websocket.Conn

	frames chan wire.Control
	connCh chan *websocket.Conn
}

func newFeedServer(t *testing.T) *feedServer {
	fs := &feedServer{
		t:      t,
		frames: make(chan wire.Control, 64),
		connCh: make(chan *websocket.Conn, 8),
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	fs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}

		fs.mu.Lock()
		fs.conns = append(fs.conns, conn)
		fs.mu.Unlock()

		select {
		case fs.connCh <- conn:
		default:
		}

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if ctrl, err := wire.ParseControl(data); err == nil {
				fs.frames <- ctrl
			}
		}
	}))

	return fs
}

func (fs *feedServer) url() string { return wsURL(fs.server) }

func (fs *feedServer) waitConn(timeout time.Duration) *websocket.Conn {
	fs.t.Helper()
	select {
	case conn := <-fs.connCh:
		return conn
	case <-time.After(timeout):
		fs.t.Fatal("timeout waiting for connection")
		return nil
	}
}

func (fs *feedServer) waitFrame(timeout time.Duration) (wire.Control, bool) {
	select {
	case ctrl := <-fs.frames:
		return ctrl, true
	case <-time.After(timeout):
		return wire.Control{}, false
	}
}

// push writes an event frame to the most recent connection.
func (fs *feedServer) push(evt wire.Event) {
	fs.t.Helper()

	data, err := evt.Encode()
	if err != nil {
		fs.t.Fatalf("encode event: %v", err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.conns) == 0 {
		fs.t.Fatal("no connection to push to")
	}
	fs.conns[len(fs.conns)-1].WriteMessage(websocket.TextMessage, data)
}

// drop severs all connections without a close handshake.
func (fs *feedServer) drop() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, conn := range fs.conns {
		conn.UnderlyingConn().Close()
	}
	fs.conns = nil
}

func (fs *feedServer) close() { fs.server.Close() }

// staticTopics implements TopicLister with a fixed topic list.
type staticTopics []string

func (s staticTopics) ActiveTopics() []string { return s }

func testManagerConfig(url string) ManagerConfig {
	cfg := DefaultManagerConfig()
	cfg.URL = url
	cfg.Backoff = backoff.Policy{
		Initial:    50 * time.Millisecond,
		Max:        200 * time.Millisecond,
		Multiplier: 2.0,
	}
	cfg.StableResetAfter = time.Hour
	return cfg
}

// waitForState polls the manager until it reaches the wanted state.
func waitForState(t *testing.T, mgr Manager, want State) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if mgr.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("manager never reached state %s (state = %s)", want, mgr.State())
}

func closeManager(t *testing.T, mgr Manager) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mgr.Close(ctx); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestDefaultManagerConfig(t *testing.T) {
	cfg := DefaultManagerConfig()

	if cfg.Backoff.Initial != time.Second {
		t.Errorf("Backoff.Initial = %v, want 1s", cfg.Backoff.Initial)
	}
	if cfg.StableResetAfter != 60*time.Second {
		t.Errorf("StableResetAfter = %v, want 60s", cfg.StableResetAfter)
	}
	if cfg.FrameBufferSize != 4096 {
		t.Errorf("FrameBufferSize = %d, want 4096", cfg.FrameBufferSize)
	}
	if cfg.PendingCapacity != 64 {
		t.Errorf("PendingCapacity = %d, want 64", cfg.PendingCapacity)
	}
}

func TestManager_OpenIdempotent(t *testing.T) {
	fs := newFeedServer(t)
	defer fs.close()

	mgr := NewManager(testManagerConfig(fs.url()), nil, nil, nil)
	defer closeManager(t, mgr)

	ctx := context.Background()
	if err := mgr.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := mgr.Open(ctx); err != nil {
		t.Errorf("second Open = %v, want nil", err)
	}

	waitForState(t, mgr, StateConnected)
}

func TestManager_SendBuffersWhileDisconnected(t *testing.T) {
	fs := newFeedServer(t)
	defer fs.close()

	mgr := NewManager(testManagerConfig(fs.url()), nil, nil, nil)
	defer closeManager(t, mgr)

	// Not opened yet: both frames must buffer
	if err := mgr.Send(wire.NewSubscribe("trainsets")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := mgr.Send(wire.NewUnsubscribe("fitness")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if got := mgr.Stats().PendingFrames; got != 2 {
		t.Errorf("PendingFrames = %d, want 2", got)
	}

	if err := mgr.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	// Flush preserves issue order
	first, ok := fs.waitFrame(2 * time.Second)
	if !ok {
		t.Fatal("timeout waiting for first flushed frame")
	}
	if first.Action != wire.ActionSubscribe || first.Topics[0] != "trainsets" {
		t.Errorf("first frame = %+v, want subscribe trainsets", first)
	}

	second, ok := fs.waitFrame(2 * time.Second)
	if !ok {
		t.Fatal("timeout waiting for second flushed frame")
	}
	if second.Action != wire.ActionUnsubscribe || second.Topics[0] != "fitness" {
		t.Errorf("second frame = %+v, want unsubscribe fitness", second)
	}

	waitForState(t, mgr, StateConnected)
	if got := mgr.Stats().PendingFrames; got != 0 {
		t.Errorf("PendingFrames after flush = %d, want 0", got)
	}
}

func TestManager_SendAfterClose(t *testing.T) {
	fs := newFeedServer(t)
	defer fs.close()

	mgr := NewManager(testManagerConfig(fs.url()), nil, nil, nil)
	closeManager(t, mgr)

	if err := mgr.Send(wire.NewSubscribe("trainsets")); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
	if err := mgr.Open(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Open after Close = %v, want ErrClosed", err)
	}
}

func TestManager_ReplaysTopicsOnEveryConnect(t *testing.T) {
	fs := newFeedServer(t)
	defer fs.close()

	mgr := NewManager(testManagerConfig(fs.url()), staticTopics{"fitness", "trainsets"}, nil, nil)
	defer closeManager(t, mgr)

	if err := mgr.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	expectReplay := func() {
		t.Helper()

		got := make(map[string]bool)
		for i := 0; i < 2; i++ {
			ctrl, ok := fs.waitFrame(2 * time.Second)
			if !ok {
				t.Fatalf("timeout waiting for replay frame %d", i+1)
			}
			if ctrl.Action != wire.ActionSubscribe {
				t.Errorf("replay action = %s, want subscribe", ctrl.Action)
			}
			if len(ctrl.Topics) != 1 {
				t.Fatalf("replay frame topics = %v, want exactly one topic per frame", ctrl.Topics)
			}
			got[ctrl.Topics[0]] = true
		}
		if !got["fitness"] || !got["trainsets"] {
			t.Errorf("replayed topics = %v, want fitness and trainsets", got)
		}

		// No duplicates beyond the two frames
		if extra, ok := fs.waitFrame(300 * time.Millisecond); ok {
			t.Errorf("unexpected extra frame after replay: %+v", extra)
		}
	}

	expectReplay()
	waitForState(t, mgr, StateConnected)

	fs.drop()

	// The fresh connection replays the same set, one frame per topic
	expectReplay()
}

func TestManager_FlushAfterReplay(t *testing.T) {
	fs := newFeedServer(t)
	defer fs.close()

	mgr := NewManager(testManagerConfig(fs.url()), staticTopics{"trainsets"}, nil, nil)
	defer closeManager(t, mgr)

	if err := mgr.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if ctrl, ok := fs.waitFrame(2 * time.Second); !ok || ctrl.Action != wire.ActionSubscribe {
		t.Fatalf("initial replay frame = %+v (ok=%v), want subscribe", ctrl, ok)
	}
	waitForState(t, mgr, StateConnected)

	fs.drop()
	waitForState(t, mgr, StateReconnecting)

	// Queued during the outage; must hit the wire after the replay frame
	if err := mgr.Send(wire.NewUnsubscribe("alerts")); err != nil {
		t.Fatalf("Send during outage failed: %v", err)
	}

	first, ok := fs.waitFrame(2 * time.Second)
	if !ok {
		t.Fatal("timeout waiting for replay frame after reconnect")
	}
	if first.Action != wire.ActionSubscribe || first.Topics[0] != "trainsets" {
		t.Errorf("first frame after reconnect = %+v, want subscribe trainsets", first)
	}

	second, ok := fs.waitFrame(2 * time.Second)
	if !ok {
		t.Fatal("timeout waiting for flushed frame after replay")
	}
	if second.Action != wire.ActionUnsubscribe || second.Topics[0] != "alerts" {
		t.Errorf("second frame after reconnect = %+v, want unsubscribe alerts", second)
	}
}

func TestManager_StateChanges(t *testing.T) {
	fs := newFeedServer(t)
	defer fs.close()

	mgr := NewManager(testManagerConfig(fs.url()), nil, nil, nil)
	defer closeManager(t, mgr)

	if err := mgr.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	waitState := func(want State) StateChange {
		t.Helper()
		select {
		case change := <-mgr.States():
			if change.State != want {
				t.Fatalf("state change = %s, want %s", change.State, want)
			}
			return change
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for state %s", want)
			return StateChange{}
		}
	}

	waitState(StateConnecting)
	waitState(StateConnected)

	fs.drop()

	if change := waitState(StateReconnecting); change.Err == nil {
		t.Error("expected non-nil Err on reconnecting transition")
	}
	waitState(StateConnected)
}

func TestManager_FramesDelivered(t *testing.T) {
	fs := newFeedServer(t)
	defer fs.close()

	mgr := NewManager(testManagerConfig(fs.url()), nil, nil, nil)
	defer closeManager(t, mgr)

	if err := mgr.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	fs.waitConn(2 * time.Second)
	waitForState(t, mgr, StateConnected)

	fs.push(wire.Event{
		Type:      "trainsetUpdate",
		Topic:     "trainsets",
		Payload:   []byte(`{"id":"TS-101"}`),
		Timestamp: time.Now(),
	})

	select {
	case frame := <-mgr.Frames():
		evt, err := wire.ParseEvent(frame.Data)
		if err != nil {
			t.Fatalf("delivered frame is malformed: %v", err)
		}
		if evt.Type != "trainsetUpdate" || evt.Topic != "trainsets" {
			t.Errorf("event = %s/%s, want trainsetUpdate/trainsets", evt.Type, evt.Topic)
		}
		if frame.ReceivedAt.IsZero() {
			t.Error("expected non-zero ReceivedAt")
		}
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for frame")
	}

	if got := mgr.Stats().FramesReceived; got != 1 {
		t.Errorf("FramesReceived = %d, want 1", got)
	}
}

func TestManager_CloseCancelsReconnect(t *testing.T) {
	fs := newFeedServer(t)

	mgr := NewManager(testManagerConfig(fs.url()), nil, nil, nil)

	if err := mgr.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	fs.waitConn(2 * time.Second)
	waitForState(t, mgr, StateConnected)

	// Kill the endpoint entirely so reconnects can never succeed
	fs.close()
	waitForState(t, mgr, StateReconnecting)

	start := time.Now()
	closeManager(t, mgr)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Close took %v, want prompt cancellation of the reconnect wait", elapsed)
	}

	if mgr.State() != StateDisconnected {
		t.Errorf("state after Close = %s, want disconnected", mgr.State())
	}

	// Frame channel closes so downstream consumers can exit
	select {
	case _, ok := <-mgr.Frames():
		if ok {
			t.Error("expected closed frame channel after Close")
		}
	case <-time.After(time.Second):
		t.Error("timeout waiting for frame channel close")
	}

	// Double close is a no-op
	if err := mgr.Close(context.Background()); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

func TestManager_BackoffResetAfterStableSession(t *testing.T) {
	// Gate the endpoint so the first dials fail and the attempt counter
	// grows past zero before a session ever forms.
	var accepting atomic.Bool
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	conns := make(chan *websocket.Conn, 8)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !accepting.Load() {
			http.Error(w, "draining", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	cfg := DefaultManagerConfig()
	cfg.URL = wsURL(server)
	// Delay(0) is 20ms, Delay(1) is 4s: only a reset schedule redials
	// inside the assertion window below.
	cfg.Backoff = backoff.Policy{
		Initial:    20 * time.Millisecond,
		Max:        10 * time.Second,
		Multiplier: 200,
	}
	cfg.StableResetAfter = 50 * time.Millisecond

	mgr := NewManager(cfg, nil, nil, nil)
	defer closeManager(t, mgr)

	if err := mgr.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	// Let at least one dial fail before opening the gate.
	time.Sleep(100 * time.Millisecond)
	accepting.Store(true)

	var session *websocket.Conn
	select {
	case session = <-conns:
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for connection after gate opened")
	}
	waitForState(t, mgr, StateConnected)

	// Hold the session past StableResetAfter, then sever it.
	time.Sleep(150 * time.Millisecond)
	session.UnderlyingConn().Close()

	start := time.Now()
	select {
	case <-conns:
	case <-time.After(3 * time.Second):
		t.Fatal("redial never arrived: attempt counter not reset after stable session")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("redial took %v, want the post-reset initial delay", elapsed)
	}
}

func TestManager_ReconnectCountsInStats(t *testing.T) {
	fs := newFeedServer(t)
	defer fs.close()

	mgr := NewManager(testManagerConfig(fs.url()), nil, nil, nil)
	defer closeManager(t, mgr)

	if err := mgr.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	fs.waitConn(2 * time.Second)
	waitForState(t, mgr, StateConnected)

	fs.drop()
	fs.waitConn(2 * time.Second)
	waitForState(t, mgr, StateConnected)

	if got := mgr.Stats().Reconnects; got < 1 {
		t.Errorf("Reconnects = %d, want >= 1", got)
	}
}
