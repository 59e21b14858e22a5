package closechat

import (
	"context"
	"testing"
	"time"
)

func newTestSession(t *testing.T, fs *fakeServer, config *SessionConfig) *Session {
	t.Helper()
	client := NewClient(fs.URL(), "test-token")
	d := NewDispatcher()
	tr := newTestTransport(fs, d)
	store := NewStore(client, tr, testMe)
	sess := NewSession(client, d, tr, store, config)
	t.Cleanup(sess.Close)
	return sess
}

func TestSessionInit(t *testing.T) {
	fs := newFakeServer(t)
	seedChannels(fs)
	fs.users = []User{{ID: "me", Username: "me"}, {ID: "u2", Username: "ada"}}
	sess := newTestSession(t, fs, nil)

	if err := sess.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	store := sess.Store()
	if len(store.Channels()) != 2 {
		t.Fatalf("expected channel snapshot loaded, got %d channels", len(store.Channels()))
	}
	if len(store.Users()) != 2 {
		t.Fatalf("expected user snapshot loaded, got %d users", len(store.Users()))
	}
	if store.ConnectionState() != StateOpen {
		t.Fatalf("expected open stream, got %s", store.ConnectionState())
	}
	// The transport's synthetic presence event reaches the store through
	// the registered handlers.
	waitFor(t, time.Second, func() bool {
		return countKind(store.Messages(), MessageSystem) == 1
	}, "connect notice via registered handlers")
}

func TestSessionInitStreamFailure(t *testing.T) {
	fs := newFakeServer(t)
	seedChannels(fs)
	client := NewClient(fs.URL(), "test-token")
	d := NewDispatcher()
	tr := NewTransport(TransportConfig{BaseURL: "http://127.0.0.1:1", Token: "x"}, d)
	store := NewStore(client, tr, testMe)
	sess := NewSession(client, d, tr, store, nil)
	defer sess.Close()

	err := sess.Init(context.Background())
	if err == nil {
		t.Fatal("expected stream open failure")
	}
	// Snapshots still load over the request path.
	if len(store.Channels()) != 2 {
		t.Fatalf("expected snapshot despite stream failure, got %d channels", len(store.Channels()))
	}
}

func TestSessionRegisterHandlersIdempotent(t *testing.T) {
	fs := newFakeServer(t)
	sess := newTestSession(t, fs, nil)

	sess.RegisterHandlers()
	sess.RegisterHandlers()

	sess.dispatcher.Dispatch(envelopeOf(t, EventError, map[string]any{
		"type": "error", "message": "once",
	}))

	if got := len(sess.Store().Messages()); got != 1 {
		t.Fatalf("expected a single application of the event, got %d notices", got)
	}
}

func TestSessionRefreshLoop(t *testing.T) {
	fs := newFakeServer(t)
	fs.users = []User{{ID: "u2", Username: "ada", Status: StatusOffline}}
	sess := newTestSession(t, fs, &SessionConfig{RefreshInterval: 20 * time.Millisecond})

	if err := sess.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		return fs.userListCalls >= 3
	}, "periodic user list refresh")
}

func TestSessionSetFocused(t *testing.T) {
	t.Run("falls back to the request path when disconnected", func(t *testing.T) {
		fs := newFakeServer(t)
		sess := newTestSession(t, fs, nil)

		sess.SetFocused(context.Background(), false)
		sess.SetFocused(context.Background(), true)

		fs.mu.Lock()
		updates := append([]string{}, fs.statusUpdates...)
		fs.mu.Unlock()
		if len(updates) != 2 || updates[0] != "idle" || updates[1] != "online" {
			t.Fatalf("expected idle then online, got %v", updates)
		}
	})

	t.Run("uses the stream when open", func(t *testing.T) {
		fs := newFakeServer(t)
		sess := newTestSession(t, fs, nil)
		if err := sess.transport.Connect(context.Background()); err != nil {
			t.Fatalf("connect: %v", err)
		}

		sess.SetFocused(context.Background(), false)

		waitFor(t, time.Second, func() bool {
			for _, f := range fs.receivedFrames() {
				if f.Type == FrameStatusUpdate && f.Status == "idle" {
					return true
				}
			}
			return false
		}, "status-update frame")
		fs.mu.Lock()
		rest := len(fs.statusUpdates)
		fs.mu.Unlock()
		if rest != 0 {
			t.Fatalf("expected no request-path update while the stream is open, got %d", rest)
		}
	})
}

func TestSessionClose(t *testing.T) {
	fs := newFakeServer(t)
	sess := newTestSession(t, fs, nil)

	if err := sess.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	waitFor(t, time.Second, func() bool { return fs.acceptCount() == 1 }, "stream open")

	sess.Close()
	sess.Close() // idempotent

	waitFor(t, time.Second, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		for _, s := range fs.statusUpdates {
			if s == "offline" {
				return true
			}
		}
		return false
	}, "best-effort offline status")

	if sess.transport.State() != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", sess.transport.State())
	}
	// No reconnect after an intentional shutdown.
	time.Sleep(100 * time.Millisecond)
	if fs.acceptCount() != 1 {
		t.Fatalf("expected no reconnect after close, got %d accepts", fs.acceptCount())
	}
}
