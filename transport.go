package closechat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Connection State
// ============================================================================

// ConnectionState represents the transport connection state. It is owned
// exclusively by the Transport and is the only source of truth for
// "is live".
type ConnectionState string

const (
	StateDisconnected     ConnectionState = "disconnected"
	StateConnecting       ConnectionState = "connecting"
	StateOpen             ConnectionState = "open"
	StateReconnectWaiting ConnectionState = "reconnect-waiting"
)

// ============================================================================
// Configuration
// ============================================================================

// TransportConfig configures the streaming transport.
type TransportConfig struct {
	// BaseURL is the http(s) server base; it is rewritten to ws(s) for
	// the stream endpoint.
	BaseURL string
	// Token is the bearer credential embedded in the stream URL.
	Token string

	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
}

func (c *TransportConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay time.Duration
	maxDelay  time.Duration
	attempt   int
}

// nextDelay returns the delay before the next retry and increments the
// attempt counter. The Nth consecutive retry waits min(base*2^(N-1), max);
// there is no retry cap and no jitter.
func (r *reconnector) nextDelay() time.Duration {
	delay := r.baseDelay << uint(r.attempt)
	if delay > r.maxDelay || delay <= 0 {
		delay = r.maxDelay
	}
	r.attempt++
	return delay
}

func (r *reconnector) reset() {
	r.attempt = 0
}

// ============================================================================
// Transport
// ============================================================================

// Transport owns at most one live streaming connection and recovers from
// unintentional loss without caller intervention. It has no knowledge of
// message semantics: raw inbound frames are handed to the Dispatcher.
type Transport struct {
	config     TransportConfig
	dispatcher *Dispatcher

	mu               sync.Mutex
	conn             *websocket.Conn
	state            ConnectionState
	intentionalClose bool
	reconnectTimer   *time.Timer
	cancelFn         context.CancelFunc
	recon            reconnector
}

// NewTransport creates a transport that feeds inbound frames into the
// given dispatcher. Call Connect to establish the connection.
func NewTransport(config TransportConfig, dispatcher *Dispatcher) *Transport {
	config.defaults()
	return &Transport{
		config:     config,
		dispatcher: dispatcher,
		state:      StateDisconnected,
		recon: reconnector{
			baseDelay: config.ReconnectBaseDelay,
			maxDelay:  config.ReconnectMaxDelay,
		},
	}
}

// State returns the current connection state.
func (t *Transport) State() ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsConnected reports whether the stream is open.
func (t *Transport) IsConnected() bool {
	return t.State() == StateOpen
}

// streamURL builds the ws(s) endpoint with the bearer token as a query
// parameter.
func (t *Transport) streamURL() string {
	u := strings.Replace(t.config.BaseURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/ws?token=" + t.config.Token
}

// Connect establishes the streaming connection. It is a no-op when a
// connection is already open or being opened. A successful open resets
// the retry counter and dispatches the client-synthetic "presence"
// envelope so the store can react to transport-level connectivity
// independent of the server handshake.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.state == StateOpen || t.state == StateConnecting {
		t.mu.Unlock()
		return nil
	}
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
	t.state = StateConnecting
	t.intentionalClose = false
	t.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, t.streamURL(), nil)
	if err != nil {
		t.mu.Lock()
		t.state = StateDisconnected
		t.mu.Unlock()
		return fmt.Errorf("stream dial: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	t.conn = conn
	t.state = StateOpen
	t.cancelFn = cancel
	t.recon.reset()
	t.mu.Unlock()

	t.dispatcher.Dispatch(Envelope{Kind: EventPresence})

	go t.readLoop(connCtx, conn)

	return nil
}

// Disconnect marks the closure intentional, cancels any pending reconnect
// timer, and closes the active connection if present. Idempotent.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.intentionalClose = true
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
	if t.cancelFn != nil {
		t.cancelFn()
		t.cancelFn = nil
	}
	conn := t.conn
	t.conn = nil
	t.state = StateDisconnected
	t.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
}

// Send transmits a frame when the connection is open and silently drops
// it otherwise. Callers that need delivery must check IsConnected first
// or fall back to the request/response layer; a disconnected send never
// errors.
func (t *Transport) Send(ctx context.Context, frame Frame) {
	t.mu.Lock()
	conn := t.conn
	open := t.state == StateOpen
	t.mu.Unlock()

	if !open || conn == nil {
		return
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	// A write failure surfaces as a read error in the read loop, which
	// drives the reconnect path.
	_ = conn.Write(ctx, websocket.MessageText, data)
}

func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.mu.Lock()
			intentional := t.intentionalClose
			if t.conn == conn {
				t.conn = nil
				t.state = StateDisconnected
			}
			t.mu.Unlock()

			if !intentional {
				t.scheduleReconnect()
			}
			return
		}
		t.dispatcher.DispatchRaw(data)
	}
}

// scheduleReconnect arms a one-shot retry timer. No distinction is made
// between network failure and abrupt server close; reconnection continues
// until Disconnect is called or an open succeeds.
func (t *Transport) scheduleReconnect() {
	t.mu.Lock()
	if t.intentionalClose {
		t.mu.Unlock()
		return
	}
	delay := t.recon.nextDelay()
	t.state = StateReconnectWaiting
	t.reconnectTimer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		t.reconnectTimer = nil
		intentional := t.intentionalClose
		t.mu.Unlock()
		if intentional {
			return
		}
		if err := t.Connect(context.Background()); err != nil {
			t.scheduleReconnect()
		}
	})
	t.mu.Unlock()
}
