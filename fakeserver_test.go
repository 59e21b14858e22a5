package closechat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// fakeServer is an in-process Close Chat server covering the REST surface
// and the stream endpoint, with recorders for everything the client sends.
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	channels []Channel
	users    []User
	members  map[string][]Membership
	history  map[string][]Message // most-recent-first, as served

	failSend    bool
	failHistory bool
	// historyGate, when set for a channel id, blocks the history response
	// until the channel value is closed.
	historyGate map[string]chan struct{}

	wsConns       []*websocket.Conn
	wsAccepts     int
	frames        []Frame
	restSends     []string // "channelID:content"
	markReads     []string
	leaves        []string
	statusUpdates []string
	historyCalls  []string
	listCalls     int
	userListCalls int
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		t:           t,
		members:     make(map[string][]Membership),
		history:     make(map[string][]Message),
		historyGate: make(map[string]chan struct{}),
	}
	fs.srv = httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) URL() string { return fs.srv.URL }

func (fs *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if path == "/ws" {
		fs.handleWS(w, r)
		return
	}

	switch {
	case path == "/api/channels" && r.Method == http.MethodGet:
		fs.mu.Lock()
		fs.listCalls++
		channels := append([]Channel{}, fs.channels...)
		fs.mu.Unlock()
		writeOK(w, channels)

	case path == "/api/users" && r.Method == http.MethodGet:
		fs.mu.Lock()
		fs.userListCalls++
		users := append([]User{}, fs.users...)
		fs.mu.Unlock()
		writeOK(w, users)

	case path == "/api/users/status" && r.Method == http.MethodPost:
		var body struct {
			Status string `json:"status"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		fs.mu.Lock()
		fs.statusUpdates = append(fs.statusUpdates, body.Status)
		fs.mu.Unlock()
		writeOK(w, nil)

	case strings.HasPrefix(path, "/api/channels/") && strings.HasSuffix(path, "/messages"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/api/channels/"), "/messages")
		if r.Method == http.MethodPost {
			if fs.failSend {
				writeErr(w, "send rejected")
				return
			}
			var body struct {
				Content string `json:"content"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			fs.mu.Lock()
			fs.restSends = append(fs.restSends, id+":"+body.Content)
			fs.mu.Unlock()
			writeOK(w, nil)
			return
		}
		fs.mu.Lock()
		fs.historyCalls = append(fs.historyCalls, id)
		gate := fs.historyGate[id]
		msgs := append([]Message{}, fs.history[id]...)
		fail := fs.failHistory
		fs.mu.Unlock()
		if gate != nil {
			<-gate
		}
		if fail {
			writeErr(w, "history unavailable")
			return
		}
		writeOK(w, msgs)

	case strings.HasPrefix(path, "/api/channels/") && strings.HasSuffix(path, "/read"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/api/channels/"), "/read")
		fs.mu.Lock()
		fs.markReads = append(fs.markReads, id)
		fs.mu.Unlock()
		writeOK(w, nil)

	case strings.HasPrefix(path, "/api/channels/") && strings.HasSuffix(path, "/leave"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/api/channels/"), "/leave")
		fs.mu.Lock()
		fs.leaves = append(fs.leaves, id)
		fs.mu.Unlock()
		writeOK(w, nil)

	case strings.HasPrefix(path, "/api/channels/") && strings.HasSuffix(path, "/members"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, "/api/channels/"), "/members")
		fs.mu.Lock()
		members := append([]Membership{}, fs.members[id]...)
		fs.mu.Unlock()
		writeOK(w, members)

	default:
		writeErr(w, "not found: "+path)
	}
}

func (fs *fakeServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	fs.mu.Lock()
	fs.wsAccepts++
	fs.wsConns = append(fs.wsConns, conn)
	fs.mu.Unlock()

	ctx := context.Background()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var frame Frame
		if json.Unmarshal(data, &frame) == nil {
			fs.mu.Lock()
			fs.frames = append(fs.frames, frame)
			fs.mu.Unlock()
		}
	}
}

// push writes an event frame to the most recent stream connection.
func (fs *fakeServer) push(v any) {
	fs.t.Helper()
	fs.mu.Lock()
	var conn *websocket.Conn
	if len(fs.wsConns) > 0 {
		conn = fs.wsConns[len(fs.wsConns)-1]
	}
	fs.mu.Unlock()
	if conn == nil {
		fs.t.Fatal("no stream connection to push to")
	}
	data, err := json.Marshal(v)
	if err != nil {
		fs.t.Fatalf("marshal push: %v", err)
	}
	if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		fs.t.Fatalf("push write: %v", err)
	}
}

// closeConn force-closes the most recent stream connection server-side.
func (fs *fakeServer) closeConn() {
	fs.mu.Lock()
	var conn *websocket.Conn
	if len(fs.wsConns) > 0 {
		conn = fs.wsConns[len(fs.wsConns)-1]
	}
	fs.mu.Unlock()
	if conn != nil {
		conn.Close(websocket.StatusInternalError, "forced close")
	}
}

func (fs *fakeServer) acceptCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.wsAccepts
}

func (fs *fakeServer) receivedFrames() []Frame {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]Frame{}, fs.frames...)
}

func writeOK(w http.ResponseWriter, v any) {
	res := Result{OK: true}
	if v != nil {
		data, _ := json.Marshal(v)
		res.Data = data
	}
	json.NewEncoder(w).Encode(res)
}

func writeErr(w http.ResponseWriter, msg string) {
	json.NewEncoder(w).Encode(Result{OK: false, Error: &APIError{Code: "ERR", Message: msg}})
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, desc string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

// envelopeOf marshals a payload and wraps it for direct dispatch.
func envelopeOf(t *testing.T, kind string, payload any) Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return Envelope{Kind: kind, Payload: data}
}
