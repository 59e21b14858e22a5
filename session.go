package closechat

import (
	"context"
	"sync"
	"time"
)

// ============================================================================
// Session Controller
// ============================================================================

// DefaultRefreshInterval is how often the user list is re-fetched for
// presence freshness.
const DefaultRefreshInterval = 60 * time.Second

// SessionConfig configures the session controller.
type SessionConfig struct {
	RefreshInterval time.Duration
}

// Session orchestrates startup: it registers dispatcher handlers exactly
// once, opens the transport, performs the initial snapshot loads, and
// owns the periodic presence refresh and focus lifecycle hooks.
//
// A Session is an explicit context object holding the transport,
// dispatcher, and store for one login; construct one per session instead
// of sharing globals, so independent instances can coexist in tests.
type Session struct {
	client     *Client
	dispatcher *Dispatcher
	transport  *Transport
	store      *Store

	refreshInterval time.Duration

	mu         sync.Mutex
	registered bool
	unsubs     []func()
	stopCh     chan struct{}
	stopped    bool
}

// NewSession wires the components of one login together.
func NewSession(client *Client, dispatcher *Dispatcher, transport *Transport, store *Store, config *SessionConfig) *Session {
	interval := DefaultRefreshInterval
	if config != nil && config.RefreshInterval > 0 {
		interval = config.RefreshInterval
	}
	return &Session{
		client:          client,
		dispatcher:      dispatcher,
		transport:       transport,
		store:           store,
		refreshInterval: interval,
		stopCh:          make(chan struct{}),
	}
}

// Store returns the session's reconciliation store.
func (s *Session) Store() *Store {
	return s.store
}

// Init registers handlers, opens the transport, loads the channel and
// user snapshots concurrently, and starts the presence refresh timer.
// Snapshot failures degrade to system notices; only a failed transport
// open is returned, and the caller may still use the session over the
// request/response path.
func (s *Session) Init(ctx context.Context) error {
	s.RegisterHandlers()

	connectErr := s.transport.Connect(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = s.store.LoadChannels(ctx)
	}()
	go func() {
		defer wg.Done()
		_ = s.store.LoadUsers(ctx)
	}()
	wg.Wait()

	go s.refreshLoop()

	return connectErr
}

// RegisterHandlers subscribes the store's merge rules to every recognized
// event kind. Safe to call more than once; repeated calls are no-ops.
func (s *Session) RegisterHandlers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registered {
		return
	}
	s.registered = true

	kinds := []string{
		EventMessage,
		EventPresence,
		EventConnected,
		EventStatusChanged,
		EventUserJoined,
		EventUserLeft,
		EventChannelUpdate,
		EventTyping,
		EventStoppedTyping,
		EventError,
	}
	for _, kind := range kinds {
		s.unsubs = append(s.unsubs, s.dispatcher.Subscribe(kind, s.store.HandleEvent))
	}
}

func (s *Session) refreshLoop() {
	ticker := time.NewTicker(s.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			_ = s.store.LoadUsers(context.Background())
		}
	}
}

// SetFocused reports window focus transitions: idle on focus loss, online
// on focus gain. The update goes over the stream when it is open and falls
// back to the request path otherwise; both are best-effort.
func (s *Session) SetFocused(ctx context.Context, focused bool) {
	status := StatusIdle
	if focused {
		status = StatusOnline
	}
	if s.transport.IsConnected() {
		s.transport.Send(ctx, Frame{Type: FrameStatusUpdate, Status: string(status)})
		return
	}
	_, _ = s.client.Users.SetStatus(ctx, status)
}

// Close tears the session down: best-effort offline status, refresh timer
// stop, transport disconnect. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = s.client.Users.SetStatus(ctx, StatusOffline)

	for _, unsub := range unsubs {
		unsub()
	}
	s.transport.Disconnect()
}
