package realtime

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	apperrors "github.com/ayush-jaipuriar/only-yours/internal/platform/errors"
)

// testBackend implements the server half of the frame protocol for tests:
// it answers CONNECT with CONNECTED (or ERROR), records every frame the
// client writes, and lets tests push MESSAGE frames to connected clients.
type testBackend struct {
	reject   string
	ackDelay time.Duration
	silent   bool

	peers chan *testPeer

	mu     sync.Mutex
	frames []frame
}

type testPeer struct {
	conn *websocket.Conn
	mu   sync.Mutex
	enc  *json.Encoder
}

func (p *testPeer) push(t *testing.T, destination, body string) {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enc.Encode(frame{Command: commandMessage, Destination: destination, Body: body}); err != nil {
		t.Fatalf("push message frame: %v", err)
	}
}

func (p *testPeer) drop() {
	_ = p.conn.Close()
}

func newTestBackend() *testBackend {
	return &testBackend{peers: make(chan *testPeer, 4)}
}

func (b *testBackend) handler() http.Handler {
	return websocket.Handler(func(conn *websocket.Conn) {
		dec := json.NewDecoder(conn)
		enc := json.NewEncoder(conn)

		var connect frame
		if err := dec.Decode(&connect); err != nil {
			return
		}
		if b.silent {
			time.Sleep(5 * time.Second)
			return
		}
		if b.ackDelay > 0 {
			time.Sleep(b.ackDelay)
		}
		if b.reject != "" {
			_ = enc.Encode(frame{Command: commandError, Message: b.reject})
			return
		}
		if err := enc.Encode(frame{Command: commandConnected}); err != nil {
			return
		}

		peer := &testPeer{conn: conn, enc: enc}
		b.peers <- peer
		for {
			var f frame
			if err := dec.Decode(&f); err != nil {
				return
			}
			b.mu.Lock()
			b.frames = append(b.frames, f)
			b.mu.Unlock()
		}
	})
}

func (b *testBackend) waitPeer(t *testing.T) *testPeer {
	t.Helper()
	select {
	case peer := <-b.peers:
		return peer
	case <-time.After(2 * time.Second):
		t.Fatal("no connection reached the server")
		return nil
	}
}

func (b *testBackend) countFrames(cmd command) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	count := 0
	for _, f := range b.frames {
		if f.Command == cmd {
			count++
		}
	}
	return count
}

func (b *testBackend) waitFrames(t *testing.T, cmd command, want int) []frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.countFrames(cmd) >= want {
			b.mu.Lock()
			defer b.mu.Unlock()
			matched := make([]frame, 0, want)
			for _, f := range b.frames {
				if f.Command == cmd {
					matched = append(matched, f)
				}
			}
			return matched
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d %s frame(s), got %d", want, cmd, b.countFrames(cmd))
	return nil
}

func startBackend(t *testing.T, backend *testBackend) string {
	t.Helper()
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

// stateRecorder captures state transitions in notification order.
type stateRecorder struct {
	mu     sync.Mutex
	states []State
	ch     chan State
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{ch: make(chan State, 16)}
}

func (r *stateRecorder) listen(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
	r.ch <- s
}

func (r *stateRecorder) wait(t *testing.T, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-r.ch:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("state %v was never observed", want)
		}
	}
}

func (r *stateRecorder) snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func newTestManager() *Manager {
	return New(Config{ConnectTimeout: 2 * time.Second, ReconnectDelay: 50 * time.Millisecond})
}

func TestConnectRequiresCredential(t *testing.T) {
	m := newTestManager()

	err := m.Connect(context.Background(), "http://127.0.0.1:0", "  ")
	if !apperrors.HasCode(err, apperrors.CodeConnectMissingCredential) {
		t.Fatalf("error = %v, want code %v", err, apperrors.CodeConnectMissingCredential)
	}
	if got := m.ConnState(); got != StateDisconnected {
		t.Fatalf("state = %v, want %v", got, StateDisconnected)
	}
}

func TestConnectTransitionsThroughConnecting(t *testing.T) {
	backend := newTestBackend()
	url := startBackend(t, backend)

	m := newTestManager()
	recorder := newStateRecorder()
	m.SetStateListener(recorder.listen)
	t.Cleanup(m.Disconnect)

	if err := m.Connect(context.Background(), url, "token-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	recorder.wait(t, StateConnected)

	states := recorder.snapshot()
	if len(states) != 2 || states[0] != StateConnecting || states[1] != StateConnected {
		t.Fatalf("transitions = %v, want [connecting connected]", states)
	}

	// Connecting again while connected is a no-op.
	if err := m.Connect(context.Background(), url, "token-1"); err != nil {
		t.Fatalf("repeat connect: %v", err)
	}
	if got := recorder.snapshot(); len(got) != 2 {
		t.Fatalf("repeat connect produced extra transitions: %v", got)
	}
}

func TestConnectRejectedCarriesServerReason(t *testing.T) {
	backend := newTestBackend()
	backend.reject = "bad credentials"
	url := startBackend(t, backend)

	m := newTestManager()
	err := m.Connect(context.Background(), url, "expired-token")
	if !apperrors.HasCode(err, apperrors.CodeConnectRejected) {
		t.Fatalf("error = %v, want code %v", err, apperrors.CodeConnectRejected)
	}
	if !strings.Contains(err.Error(), "bad credentials") {
		t.Fatalf("error %q does not carry server reason", err.Error())
	}
	if got := m.ConnState(); got != StateDisconnected {
		t.Fatalf("state = %v, want %v", got, StateDisconnected)
	}
}

func TestConnectTimesOutWithoutAck(t *testing.T) {
	backend := newTestBackend()
	backend.silent = true
	url := startBackend(t, backend)

	m := New(Config{ConnectTimeout: 100 * time.Millisecond, ReconnectDelay: 50 * time.Millisecond})
	err := m.Connect(context.Background(), url, "token-1")
	if !apperrors.HasCode(err, apperrors.CodeConnectTimeout) {
		t.Fatalf("error = %v, want code %v", err, apperrors.CodeConnectTimeout)
	}
	if got := m.ConnState(); got != StateDisconnected {
		t.Fatalf("state = %v, want %v", got, StateDisconnected)
	}
}

func TestConnectTimesOutDuringStalledHandshake(t *testing.T) {
	// Accepts TCP and swallows the upgrade request without ever replying.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				_, _ = io.Copy(io.Discard, c)
			}(conn)
		}
	}()

	m := New(Config{ConnectTimeout: 150 * time.Millisecond, ReconnectDelay: 50 * time.Millisecond})
	start := time.Now()
	err = m.Connect(context.Background(), "http://"+ln.Addr().String(), "token-1")
	if !apperrors.HasCode(err, apperrors.CodeConnectTimeout) {
		t.Fatalf("error = %v, want code %v", err, apperrors.CodeConnectTimeout)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("connect returned after %v, the timeout did not bound the handshake", elapsed)
	}
	if got := m.ConnState(); got != StateDisconnected {
		t.Fatalf("state = %v, want %v", got, StateDisconnected)
	}
}

func TestConcurrentConnectSharesOneAttempt(t *testing.T) {
	backend := newTestBackend()
	backend.ackDelay = 150 * time.Millisecond
	url := startBackend(t, backend)

	m := newTestManager()
	t.Cleanup(m.Disconnect)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			errs <- m.Connect(context.Background(), url, "token-1")
		}()
	}
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("connect %d: %v", i, err)
		}
	}

	backend.waitPeer(t)
	select {
	case <-backend.peers:
		t.Fatal("concurrent connects opened a second physical connection")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscribeBeforeConnectReturnsNil(t *testing.T) {
	m := newTestManager()
	if sub := m.Subscribe("/topic/game/s1", func(Message) {}); sub != nil {
		t.Fatalf("subscribe before connect = %v, want nil", sub)
	}
}

func TestSubscribeSiblingsAreIndependent(t *testing.T) {
	backend := newTestBackend()
	url := startBackend(t, backend)

	m := newTestManager()
	t.Cleanup(m.Disconnect)
	if err := m.Connect(context.Background(), url, "token-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	peer := backend.waitPeer(t)

	first := make(chan Message, 4)
	second := make(chan Message, 4)
	subA := m.Subscribe("/topic/game/s1", func(msg Message) { first <- msg })
	subB := m.Subscribe("/topic/game/s1", func(msg Message) { second <- msg })
	if subA == nil || subB == nil {
		t.Fatal("subscribe returned nil while connected")
	}
	if subA.ID() == subB.ID() {
		t.Fatalf("sibling subscriptions share id %d", subA.ID())
	}
	if subA.ID() >= subB.ID() {
		t.Fatalf("subscription ids not monotonically increasing: %d then %d", subA.ID(), subB.ID())
	}

	peer.push(t, "/topic/game/s1", `{"type":"QUESTION"}`)
	for _, ch := range []chan Message{first, second} {
		select {
		case msg := <-ch:
			if !msg.Parsed {
				t.Fatalf("JSON payload delivered unparsed: %+v", msg)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("sibling handler did not receive the message")
		}
	}

	subA.Unsubscribe()
	subA.Unsubscribe() // idempotent
	if got := m.ActiveSubscriptions("/topic/game/s1"); got != 1 {
		t.Fatalf("active subscriptions = %d, want 1", got)
	}

	peer.push(t, "/topic/game/s1", `{"type":"QUESTION"}`)
	select {
	case msg := <-second:
		_ = msg
	case <-time.After(2 * time.Second):
		t.Fatal("surviving sibling stopped receiving after selective unsubscribe")
	}
	select {
	case <-first:
		t.Fatal("released subscription still received a message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeRemovesAllRegistrations(t *testing.T) {
	backend := newTestBackend()
	url := startBackend(t, backend)

	m := newTestManager()
	t.Cleanup(m.Disconnect)
	if err := m.Connect(context.Background(), url, "token-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	backend.waitPeer(t)

	m.Subscribe("/user/queue/game-events", func(Message) {})
	m.Subscribe("/user/queue/game-events", func(Message) {})

	m.Unsubscribe("/user/queue/game-events")
	if got := m.ActiveSubscriptions("/user/queue/game-events"); got != 0 {
		t.Fatalf("active subscriptions = %d, want 0", got)
	}
	backend.waitFrames(t, commandUnsubscribe, 1)
}

func TestSendWhileDisconnectedReturnsFalse(t *testing.T) {
	m := newTestManager()
	if m.Send("/app/game.answer", map[string]any{"answer": "B"}) {
		t.Fatal("send succeeded without a connection")
	}
}

func TestSendSerializesPayloads(t *testing.T) {
	backend := newTestBackend()
	url := startBackend(t, backend)

	m := newTestManager()
	t.Cleanup(m.Disconnect)
	if err := m.Connect(context.Background(), url, "token-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	backend.waitPeer(t)

	if !m.Send("/app/game.answer", map[string]any{"sessionId": "s1", "questionId": 1, "answer": "B"}) {
		t.Fatal("send structured payload failed")
	}
	if !m.Send("/app/game.answer", "already serialized") {
		t.Fatal("send string payload failed")
	}

	frames := backend.waitFrames(t, commandSend, 2)
	var decoded struct {
		SessionID  string `json:"sessionId"`
		QuestionID int    `json:"questionId"`
		Answer     string `json:"answer"`
	}
	if err := json.Unmarshal([]byte(frames[0].Body), &decoded); err != nil {
		t.Fatalf("decode sent body: %v", err)
	}
	if decoded.SessionID != "s1" || decoded.QuestionID != 1 || decoded.Answer != "B" {
		t.Fatalf("sent body = %+v, want sessionId s1, questionId 1, answer B", decoded)
	}
	if frames[1].Body != "already serialized" {
		t.Fatalf("string payload body = %q, want passthrough", frames[1].Body)
	}
}

func TestMalformedPayloadDeliveredAsText(t *testing.T) {
	backend := newTestBackend()
	url := startBackend(t, backend)

	m := newTestManager()
	t.Cleanup(m.Disconnect)
	if err := m.Connect(context.Background(), url, "token-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	peer := backend.waitPeer(t)

	received := make(chan Message, 1)
	m.Subscribe("/topic/game/s1", func(msg Message) { received <- msg })

	peer.push(t, "/topic/game/s1", "{broken json")
	select {
	case msg := <-received:
		if msg.Parsed {
			t.Fatalf("malformed payload marked parsed: %+v", msg)
		}
		if msg.Text != "{broken json" {
			t.Fatalf("text = %q, want raw payload", msg.Text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("malformed payload was never delivered")
	}
}

func TestReconnectRestoresSubscriptions(t *testing.T) {
	backend := newTestBackend()
	url := startBackend(t, backend)

	m := newTestManager()
	recorder := newStateRecorder()
	m.SetStateListener(recorder.listen)
	t.Cleanup(m.Disconnect)

	if err := m.Connect(context.Background(), url, "token-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	peer := backend.waitPeer(t)

	received := make(chan Message, 4)
	m.Subscribe("/topic/game/s1", func(msg Message) { received <- msg })
	backend.waitFrames(t, commandSubscribe, 1)

	peer.drop()
	recorder.wait(t, StateReconnecting)
	recorder.wait(t, StateConnected)

	restored := backend.waitPeer(t)
	backend.waitFrames(t, commandSubscribe, 2)

	restored.push(t, "/topic/game/s1", `{"type":"QUESTION"}`)
	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not survive the reconnect")
	}
}

func TestDisconnectClearsSubscriptionsAndIsIdempotent(t *testing.T) {
	backend := newTestBackend()
	url := startBackend(t, backend)

	m := newTestManager()
	if err := m.Connect(context.Background(), url, "token-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	backend.waitPeer(t)
	m.Subscribe("/topic/game/s1", func(Message) {})

	m.Disconnect()
	if got := m.ConnState(); got != StateDisconnected {
		t.Fatalf("state = %v, want %v", got, StateDisconnected)
	}
	if got := m.ActiveSubscriptions("/topic/game/s1"); got != 0 {
		t.Fatalf("active subscriptions = %d, want 0", got)
	}
	m.Disconnect() // safe when already disconnected
}

func TestWireEndpointTranslation(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://example.com", "ws://example.com/ws"},
		{"https://example.com", "wss://example.com/ws"},
		{"https://example.com/", "wss://example.com/ws"},
		{"ws://example.com", "ws://example.com/ws"},
	}
	for _, tc := range tests {
		got, err := wireEndpoint(tc.base)
		if err != nil {
			t.Fatalf("wireEndpoint(%q): %v", tc.base, err)
		}
		if got != tc.want {
			t.Fatalf("wireEndpoint(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}

	if _, err := wireEndpoint("ftp://example.com"); err == nil {
		t.Fatal("expected unsupported scheme error")
	}
	if _, err := wireEndpoint("  "); err == nil {
		t.Fatal("expected empty endpoint error")
	}
}
