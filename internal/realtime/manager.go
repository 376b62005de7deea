package realtime

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	apperrors "github.com/ayush-jaipuriar/only-yours/internal/platform/errors"
)

const (
	defaultConnectTimeout = 15 * time.Second
	defaultReconnectDelay = 5 * time.Second

	// wirePathSuffix is appended to the configured base endpoint after
	// scheme translation (http→ws, https→wss).
	wirePathSuffix = "/ws"
)

// Config tunes connection establishment and recovery.
type Config struct {
	// ConnectTimeout bounds a single connect attempt, dial through server
	// acknowledgment. Defaults to 15s.
	ConnectTimeout time.Duration
	// ReconnectDelay is the fixed pause between reconnect attempts after an
	// unexpected drop. Defaults to 5s.
	ReconnectDelay time.Duration
}

// connectAttempt shares one in-flight connect outcome between every caller
// that raced into Connect while it was pending.
type connectAttempt struct {
	done chan struct{}
	err  error
}

// Manager owns the physical connection and multiplexes destination traffic
// over it. Construct one per process composition root and pass it by
// reference; there is no package-level instance.
type Manager struct {
	connectTimeout time.Duration
	reconnectDelay time.Duration

	subs *subscriptionTable

	// notifyMu keeps state listener invocations one at a time without
	// holding the state mutex during the callback.
	notifyMu sync.Mutex
	// writeMu serializes frame writes to the shared socket.
	writeMu sync.Mutex

	mu         sync.Mutex
	state      State
	listener   StateListener
	conn       *websocket.Conn
	dec        *json.Decoder
	pending    *connectAttempt
	active     bool
	quit       chan struct{}
	gen        int
	endpoint   string
	credential string
}

// New creates a Manager with defaults applied for unset config fields.
func New(cfg Config) *Manager {
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = defaultReconnectDelay
	}
	return &Manager{
		connectTimeout: connectTimeout,
		reconnectDelay: reconnectDelay,
		subs:           newSubscriptionTable(),
	}
}

// SetStateListener registers the connection state observer. Passing nil
// removes the current listener.
func (m *Manager) SetStateListener(listener StateListener) {
	m.mu.Lock()
	m.listener = listener
	m.mu.Unlock()
}

// ConnState returns the current connection state.
func (m *Manager) ConnState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ActiveSubscriptions returns the number of live registrations on
// destination.
func (m *Manager) ActiveSubscriptions(destination string) int {
	return m.subs.count(destination)
}

// Connect establishes the connection and blocks until the server
// acknowledges it, the attempt fails, or the connect timeout elapses.
//
// Connect is idempotent: when already connected it returns immediately, and
// concurrent callers of an in-flight attempt all receive that attempt's
// outcome instead of racing a second physical connection.
func (m *Manager) Connect(ctx context.Context, endpoint, credential string) error {
	if strings.TrimSpace(credential) == "" {
		return apperrors.New(apperrors.CodeConnectMissingCredential, "credential is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	switch m.state {
	case StateConnected:
		m.mu.Unlock()
		return nil
	case StateReconnecting:
		m.mu.Unlock()
		return apperrors.New(apperrors.CodeNotConnected, "automatic reconnect is in progress")
	}
	if attempt := m.pending; attempt != nil {
		m.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	attempt := &connectAttempt{done: make(chan struct{})}
	m.pending = attempt
	m.endpoint = endpoint
	m.credential = credential
	gen := m.gen
	notify := m.setStateLocked(StateConnecting)
	m.mu.Unlock()
	notify()

	conn, dec, err := m.dial(endpoint, credential)
	if err != nil {
		m.mu.Lock()
		var rollback func()
		if gen == m.gen {
			rollback = m.setStateLocked(StateDisconnected)
		}
		m.finishAttemptLocked(attempt, err)
		m.mu.Unlock()
		if rollback != nil {
			rollback()
		}
		return err
	}

	m.mu.Lock()
	if gen != m.gen {
		// Disconnect raced the dial; discard the fresh socket.
		abortErr := apperrors.New(apperrors.CodeNotConnected, "connection closed during connect")
		m.finishAttemptLocked(attempt, abortErr)
		m.mu.Unlock()
		_ = conn.Close()
		return abortErr
	}
	m.conn = conn
	m.dec = dec
	m.active = true
	if m.quit == nil {
		m.quit = make(chan struct{})
	}
	readGen := m.gen
	notify = m.setStateLocked(StateConnected)
	m.finishAttemptLocked(attempt, nil)
	m.mu.Unlock()
	notify()

	go m.readLoop(conn, dec, readGen)
	return nil
}

// Disconnect tears down the connection, invalidates every subscription, and
// stops the reconnect loop. It always succeeds and is safe to call when
// already disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	m.active = false
	if m.quit != nil {
		close(m.quit)
		m.quit = nil
	}
	conn := m.conn
	m.conn = nil
	m.dec = nil
	notify := m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	m.subs.clear()
	notify()
}

// Subscribe registers handler for inbound messages on destination. It
// returns nil when the connection is not established; callers should react
// to connection state instead of racing the transport.
func (m *Manager) Subscribe(destination string, handler Handler) *Subscription {
	if handler == nil || strings.TrimSpace(destination) == "" {
		return nil
	}

	m.mu.Lock()
	if m.state != StateConnected || m.conn == nil {
		m.mu.Unlock()
		return nil
	}
	conn := m.conn
	first := m.subs.count(destination) == 0
	id := m.subs.add(destination, handler)
	m.mu.Unlock()

	// The server routes per destination, so only the first local
	// registration announces interest on the wire.
	if first {
		if err := m.writeFrame(conn, frame{Command: commandSubscribe, Destination: destination}); err != nil {
			log.Printf("realtime: subscribe %s: %v", destination, err)
		}
	}
	return &Subscription{
		id:          id,
		destination: destination,
		cancel: func() {
			m.release(destination, id)
		},
	}
}

// Unsubscribe removes every registration for destination at once. Use the
// Subscription handle to release a single registration.
func (m *Manager) Unsubscribe(destination string) {
	removed := m.subs.removeAll(destination)
	if removed == 0 {
		return
	}
	m.announceUnsubscribe(destination)
}

// Send serializes payload and hands it to the transport. Strings and raw
// JSON pass through unchanged; everything else is marshaled to JSON. It
// returns false without touching the transport when not connected. A true
// return means handed to the transport, not delivered end to end.
func (m *Manager) Send(destination string, payload any) bool {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()
	if !connected || conn == nil {
		return false
	}

	body, err := encodeBody(payload)
	if err != nil {
		log.Printf("realtime: drop send to %s: %v", destination, err)
		return false
	}
	if err := m.writeFrame(conn, frame{Command: commandSend, Destination: destination, Body: body}); err != nil {
		log.Printf("realtime: send to %s: %v", destination, err)
		return false
	}
	return true
}

func (m *Manager) release(destination string, id int64) {
	removed, last := m.subs.remove(destination, id)
	if !removed || !last {
		return
	}
	m.announceUnsubscribe(destination)
}

func (m *Manager) announceUnsubscribe(destination string) {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()
	if !connected || conn == nil {
		return
	}
	if err := m.writeFrame(conn, frame{Command: commandUnsubscribe, Destination: destination}); err != nil {
		log.Printf("realtime: unsubscribe %s: %v", destination, err)
	}
}

// dial opens the socket and completes the protocol handshake: it sends the
// CONNECT frame carrying the credential and waits for CONNECTED or ERROR
// within the connect timeout. The returned decoder must be used for all
// further reads on the connection so no buffered frame is lost.
func (m *Manager) dial(endpoint, credential string) (*websocket.Conn, *json.Decoder, error) {
	wsURL, err := wireEndpoint(endpoint)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := websocket.NewConfig(wsURL, endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("configure websocket: %w", err)
	}
	cfg.Header = make(http.Header)
	cfg.Header.Set("Authorization", "Bearer "+credential)

	deadline := time.Now().Add(m.connectTimeout)

	raw, err := dialRaw(cfg.Location, deadline)
	if err != nil {
		if isTimeout(err) {
			return nil, nil, apperrors.Wrap(apperrors.CodeConnectTimeout, "connect timed out", err)
		}
		return nil, nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	// The deadline covers the upgrade handshake too; a server that accepts
	// TCP but never answers the upgrade must not stall the attempt.
	_ = raw.SetDeadline(deadline)
	conn, err := websocket.NewClient(cfg, raw)
	if err != nil {
		_ = raw.Close()
		if isTimeout(err) {
			return nil, nil, apperrors.Wrap(apperrors.CodeConnectTimeout, "connect timed out", err)
		}
		return nil, nil, fmt.Errorf("handshake %s: %w", wsURL, err)
	}

	_ = conn.SetDeadline(deadline)
	if err := json.NewEncoder(conn).Encode(frame{
		Command: commandConnect,
		Headers: map[string]string{authorizationHeader: "Bearer " + credential},
	}); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("send connect frame: %w", err)
	}

	dec := json.NewDecoder(conn)
	var ack frame
	if err := dec.Decode(&ack); err != nil {
		_ = conn.Close()
		if isTimeout(err) {
			return nil, nil, apperrors.Wrap(apperrors.CodeConnectTimeout, "connect acknowledgment timed out", err)
		}
		return nil, nil, fmt.Errorf("read connect acknowledgment: %w", err)
	}
	switch ack.Command {
	case commandConnected:
	case commandError:
		_ = conn.Close()
		reason := ack.Message
		if reason == "" {
			reason = "connection rejected by server"
		}
		return nil, nil, apperrors.New(apperrors.CodeConnectRejected, reason)
	default:
		_ = conn.Close()
		return nil, nil, fmt.Errorf("unexpected %s frame before CONNECTED", ack.Command)
	}
	_ = conn.SetDeadline(time.Time{})
	return conn, dec, nil
}

// readLoop delivers inbound frames from one connection. Handlers run on this
// goroutine, so messages for a destination arrive in transport order.
func (m *Manager) readLoop(conn *websocket.Conn, dec *json.Decoder, gen int) {
	for {
		var f frame
		if err := dec.Decode(&f); err != nil {
			m.handleReadError(gen, err)
			return
		}
		switch f.Command {
		case commandMessage:
			msg := newInboundMessage(f.Destination, f.Body)
			for _, handler := range m.subs.handlers(f.Destination) {
				handler(msg)
			}
		case commandError:
			log.Printf("realtime: server error frame: %s", f.Message)
		default:
			log.Printf("realtime: ignoring unexpected %s frame", f.Command)
		}
	}
}

func (m *Manager) handleReadError(gen int, err error) {
	m.mu.Lock()
	if gen != m.gen || !m.active {
		// Disconnect already tore this connection down.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.dec = nil
	quit := m.quit
	notify := m.setStateLocked(StateReconnecting)
	m.mu.Unlock()
	notify()

	log.Printf("realtime: connection dropped: %v; retrying every %s", err, m.reconnectDelay)
	go m.reconnectLoop(gen, quit)
}

// reconnectLoop re-attempts the connection on a fixed delay until it
// succeeds or Disconnect is called. Subscriptions survive the drop and are
// re-announced once the connection is restored.
func (m *Manager) reconnectLoop(gen int, quit <-chan struct{}) {
	for {
		if !waitRetry(quit, m.reconnectDelay) {
			return
		}

		m.mu.Lock()
		if gen != m.gen || !m.active {
			m.mu.Unlock()
			return
		}
		endpoint, credential := m.endpoint, m.credential
		m.mu.Unlock()

		conn, dec, err := m.dial(endpoint, credential)
		if err != nil {
			log.Printf("realtime: reconnect failed: %v", err)
			continue
		}

		m.mu.Lock()
		if gen != m.gen || !m.active {
			m.mu.Unlock()
			_ = conn.Close()
			return
		}
		m.conn = conn
		m.dec = dec
		readGen := m.gen
		notify := m.setStateLocked(StateConnected)
		m.mu.Unlock()

		for _, destination := range m.subs.destinations() {
			if err := m.writeFrame(conn, frame{Command: commandSubscribe, Destination: destination}); err != nil {
				log.Printf("realtime: resubscribe %s: %v", destination, err)
			}
		}
		notify()
		log.Printf("realtime: connection restored")

		go m.readLoop(conn, dec, readGen)
		return
	}
}

// setStateLocked updates the state and returns the notification to run after
// mu is released. The returned function is never nil.
func (m *Manager) setStateLocked(next State) func() {
	if m.state == next {
		return func() {}
	}
	m.state = next
	listener := m.listener
	if listener == nil {
		return func() {}
	}
	return func() {
		m.notifyMu.Lock()
		defer m.notifyMu.Unlock()
		listener(next)
	}
}

func (m *Manager) finishAttemptLocked(attempt *connectAttempt, err error) {
	attempt.err = err
	close(attempt.done)
	if m.pending == attempt {
		m.pending = nil
	}
}

func (m *Manager) writeFrame(conn *websocket.Conn, f frame) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return json.NewEncoder(conn).Encode(f)
}

// dialRaw opens the underlying socket with the attempt deadline applied, so
// every phase of the connect, TCP dial included, stays bounded.
func dialRaw(location *url.URL, deadline time.Time) (net.Conn, error) {
	host := location.Host
	if location.Port() == "" {
		port := "80"
		if location.Scheme == "wss" {
			port = "443"
		}
		host = net.JoinHostPort(location.Hostname(), port)
	}
	dialer := &net.Dialer{Deadline: deadline}
	if location.Scheme == "wss" {
		return tls.DialWithDialer(dialer, "tcp", host, nil)
	}
	return dialer.Dial("tcp", host)
}

// wireEndpoint derives the websocket URL from the configured base endpoint:
// http→ws, https→wss, plus the fixed wire path suffix.
func wireEndpoint(base string) (string, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		return "", fmt.Errorf("endpoint is required")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + wirePathSuffix
	return u.String(), nil
}

func encodeBody(payload any) (string, error) {
	switch v := payload.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case json.RawMessage:
		return string(v), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("marshal payload: %w", err)
		}
		return string(b), nil
	}
}

func isTimeout(err error) bool {
	if os.IsTimeout(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func waitRetry(quit <-chan struct{}, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-quit:
		return false
	case <-timer.C:
		return true
	}
}
