package closechat

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// Message List State
// ============================================================================

// ListState tracks the lifecycle of the active channel's message list.
type ListState string

const (
	ListUnloaded ListState = "unloaded"
	ListLoading  ListState = "loading"
	ListLoaded   ListState = "loaded"
)

// DefaultHistoryLimit bounds the history page fetched on channel switch.
const DefaultHistoryLimit = 50

// ============================================================================
// Store
// ============================================================================

// Store is the single writer of application state. It consumes dispatcher
// events and data-access results, applies one merge rule per event kind,
// and exposes read state plus a change notification to the presentation
// layer.
//
// All mutation is serialized by one mutex: dispatcher handlers run
// synchronously on the transport read goroutine and public methods take
// the same lock, so one mutation completes before the next begins.
type Store struct {
	client    *Client
	transport *Transport
	me        User

	historyLimit int

	mu               sync.Mutex
	channels         []Channel
	users            []User
	memberships      []Membership
	messages         []Message
	listState        ListState
	activeChannelID  string
	typing           map[string]bool
	announcedConnect bool

	listenerMu sync.Mutex
	listeners  []*changeListener
}

type changeListener struct {
	fn func()
}

// NewStore creates a store bound to the data-access client, the transport
// used for stream sends, and the authenticated session user.
func NewStore(client *Client, transport *Transport, me User) *Store {
	return &Store{
		client:       client,
		transport:    transport,
		me:           me,
		historyLimit: DefaultHistoryLimit,
		listState:    ListUnloaded,
		typing:       make(map[string]bool),
	}
}

// Me returns the session user.
func (s *Store) Me() User {
	return s.me
}

// ============================================================================
// Change notification
// ============================================================================

// OnChange registers a listener invoked after every user-visible state
// change. The returned func removes the registration.
func (s *Store) OnChange(fn func()) func() {
	l := &changeListener{fn: fn}
	s.listenerMu.Lock()
	s.listeners = append(s.listeners, l)
	s.listenerMu.Unlock()

	return func() {
		s.listenerMu.Lock()
		for i, cur := range s.listeners {
			if cur == l {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				break
			}
		}
		s.listenerMu.Unlock()
	}
}

func (s *Store) notify() {
	s.listenerMu.Lock()
	snapshot := append([]*changeListener{}, s.listeners...)
	s.listenerMu.Unlock()
	for _, l := range snapshot {
		func() {
			defer func() { recover() }() // swallow panics in listeners
			l.fn()
		}()
	}
}

// ============================================================================
// Read accessors
// ============================================================================

// Channels returns a copy of the current channel list.
func (s *Store) Channels() []Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Channel{}, s.channels...)
}

// Channel returns the channel with the given id, if known.
func (s *Store) Channel(id string) (Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.channels {
		if ch.ID == id {
			return ch, true
		}
	}
	return Channel{}, false
}

// Messages returns a copy of the active channel's rendered message list.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message{}, s.messages...)
}

// MessageListState returns the lifecycle state of the rendered list.
func (s *Store) MessageListState() ListState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listState
}

// Users returns a copy of the known user list.
func (s *Store) Users() []User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]User{}, s.users...)
}

// Members returns the memberships loaded for the active channel.
func (s *Store) Members() []Membership {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Membership{}, s.memberships...)
}

// ActiveChannelID returns the id of the active channel, or "" when no
// channel is selected.
func (s *Store) ActiveChannelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeChannelID
}

// MyRole returns the session user's role in the active channel, derived
// from loaded memberships. The presentation layer decides what the role
// permits; the store only exposes the value.
func (s *Store) MyRole() MemberRole {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.memberships {
		if m.ChannelID == s.activeChannelID && m.UserID == s.me.ID {
			return m.Role
		}
	}
	return ""
}

// UnreadCount returns the unread counter for a channel, 0 when unknown.
func (s *Store) UnreadCount(channelID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.channels {
		if ch.ID == channelID {
			return ch.UnreadCount
		}
	}
	return 0
}

// TypingUsers returns the ids of users currently typing in the active
// channel.
func (s *Store) TypingUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.typing))
	for id := range s.typing {
		ids = append(ids, id)
	}
	return ids
}

// ConnectionState reports the transport state.
func (s *Store) ConnectionState() ConnectionState {
	return s.transport.State()
}

// ============================================================================
// Snapshot loads
// ============================================================================

// LoadChannels replaces the channel list wholesale from a snapshot fetch.
// A failure surfaces as a system notice; it is not fatal.
func (s *Store) LoadChannels(ctx context.Context) error {
	result, err := s.client.Channels.List(ctx)
	if err != nil {
		s.appendNotice("failed to load channels: " + err.Error())
		return err
	}
	if !result.OK {
		s.appendNotice("failed to load channels: " + result.ErrMessage())
		return result.Error
	}
	var channels []Channel
	if err := result.Decode(&channels); err != nil {
		s.appendNotice("failed to load channels: " + err.Error())
		return err
	}

	s.mu.Lock()
	s.channels = channels
	s.mu.Unlock()
	s.notify()
	return nil
}

// LoadUsers replaces the user list wholesale from a snapshot fetch.
func (s *Store) LoadUsers(ctx context.Context) error {
	result, err := s.client.Users.List(ctx)
	if err != nil {
		s.appendNotice("failed to load users: " + err.Error())
		return err
	}
	if !result.OK {
		s.appendNotice("failed to load users: " + result.ErrMessage())
		return result.Error
	}
	var users []User
	if err := result.Decode(&users); err != nil {
		s.appendNotice("failed to load users: " + err.Error())
		return err
	}

	s.mu.Lock()
	s.users = users
	s.mu.Unlock()
	s.notify()
	return nil
}

// LoadChannelMembers replaces the loaded membership set for a channel.
func (s *Store) LoadChannelMembers(ctx context.Context, channelID string) error {
	result, err := s.client.Members.List(ctx, channelID)
	if err != nil {
		s.appendNotice("failed to load members: " + err.Error())
		return err
	}
	if !result.OK {
		s.appendNotice("failed to load members: " + result.ErrMessage())
		return result.Error
	}
	var members []Membership
	if err := result.Decode(&members); err != nil {
		s.appendNotice("failed to load members: " + err.Error())
		return err
	}

	s.mu.Lock()
	s.memberships = members
	s.mu.Unlock()
	s.notify()
	return nil
}

// ============================================================================
// Mutations
// ============================================================================

// SendChatMessage appends an optimistic message and delivers the text over
// the stream when it is open, falling back to the request/response path
// otherwise. The optimistic entry is never retried or rolled back; a
// fallback failure is reported as a second system notice.
func (s *Store) SendChatMessage(ctx context.Context, text string) {
	s.mu.Lock()
	channelID := s.activeChannelID
	if channelID == "" {
		s.mu.Unlock()
		s.appendNotice("no channel selected")
		return
	}
	s.messages = append(s.messages, Message{
		ID:         localID(),
		ChannelID:  channelID,
		SenderID:   s.me.ID,
		SenderName: s.me.DisplayName,
		Body:       text,
		Kind:       MessageUser,
		CreatedAt:  timestamp(),
		Optimistic: true,
	})
	s.mu.Unlock()
	s.notify()

	if s.transport.IsConnected() {
		s.transport.Send(ctx, Frame{Type: FrameMessage, ChannelID: channelID, Content: text})
		return
	}

	result, err := s.client.Messages.Send(ctx, channelID, text)
	if err != nil {
		s.appendNotice("failed to send message: " + err.Error())
		return
	}
	if !result.OK {
		s.appendNotice("failed to send message: " + result.ErrMessage())
	}
}

// SwitchToChannel makes the channel active: it resets the unread counter
// optimistically, fires a best-effort mark-read call, re-joins the stream
// room, discards the previous rendered list, and fetches a bounded history
// page. A history response arriving after the active channel has changed
// again is discarded.
func (s *Store) SwitchToChannel(ctx context.Context, channelID string) {
	s.mu.Lock()
	s.activeChannelID = channelID
	s.messages = nil
	s.listState = ListLoading
	s.typing = make(map[string]bool)
	name := channelID
	for i := range s.channels {
		if s.channels[i].ID == channelID {
			s.channels[i].UnreadCount = 0
			name = s.channels[i].DisplayName
		}
	}
	s.mu.Unlock()
	s.notify()

	go func() {
		_, _ = s.client.Channels.MarkRead(context.Background(), channelID)
	}()

	if s.transport.IsConnected() {
		s.transport.Send(ctx, Frame{Type: FrameJoinChannel, ChannelID: channelID})
	}

	banner := systemMessage(channelID, "— "+name+" —")

	result, err := s.client.Messages.History(ctx, channelID, s.historyLimit)

	s.mu.Lock()
	if s.activeChannelID != channelID {
		// The user switched again while the fetch was in flight.
		s.mu.Unlock()
		return
	}
	if err != nil || !result.OK {
		msg := "failed to load history"
		if err != nil {
			msg += ": " + err.Error()
		} else {
			msg += ": " + result.ErrMessage()
		}
		s.messages = []Message{banner, systemMessage(channelID, msg)}
		s.listState = ListLoaded
		s.mu.Unlock()
		s.notify()
		return
	}

	var history []Message
	if decodeErr := result.Decode(&history); decodeErr != nil {
		s.messages = []Message{banner, systemMessage(channelID, "failed to load history: "+decodeErr.Error())}
		s.listState = ListLoaded
		s.mu.Unlock()
		s.notify()
		return
	}

	// The server returns most-recent-first; reverse to chronological.
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	s.messages = append([]Message{banner}, history...)
	s.listState = ListLoaded
	s.mu.Unlock()
	s.notify()
}

// LeaveChannel leaves a channel on the server and drops it from local
// state. The active channel is deselected when it is the one left.
func (s *Store) LeaveChannel(ctx context.Context, channelID string) error {
	if s.transport.IsConnected() {
		s.transport.Send(ctx, Frame{Type: FrameLeaveChannel, ChannelID: channelID})
	}

	result, err := s.client.Channels.Leave(ctx, channelID)
	if err != nil {
		s.appendNotice("failed to leave channel: " + err.Error())
		return err
	}
	if !result.OK {
		s.appendNotice("failed to leave channel: " + result.ErrMessage())
		return result.Error
	}

	s.mu.Lock()
	for i, ch := range s.channels {
		if ch.ID == channelID {
			s.channels = append(s.channels[:i], s.channels[i+1:]...)
			break
		}
	}
	if s.activeChannelID == channelID {
		s.activeChannelID = ""
		s.messages = nil
		s.listState = ListUnloaded
		s.typing = make(map[string]bool)
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

// StartTyping announces that the session user is typing in the active
// channel. Dropped silently when the stream is closed.
func (s *Store) StartTyping(ctx context.Context) {
	if id := s.ActiveChannelID(); id != "" {
		s.transport.Send(ctx, Frame{Type: FrameTypingStart, ChannelID: id})
	}
}

// StopTyping announces that the session user stopped typing.
func (s *Store) StopTyping(ctx context.Context) {
	if id := s.ActiveChannelID(); id != "" {
		s.transport.Send(ctx, Frame{Type: FrameTypingStop, ChannelID: id})
	}
}

// ============================================================================
// Merge rules (dispatcher handlers)
// ============================================================================

// HandleEvent applies the merge rule for one inbound envelope. The session
// controller registers it with the dispatcher for each recognized kind.
func (s *Store) HandleEvent(env Envelope) {
	switch env.Kind {
	case EventMessage:
		s.applyMessage(env.Payload)
	case EventPresence:
		s.applyPresence()
	case EventConnected:
		s.applyConnected()
	case EventStatusChanged:
		s.applyStatusChanged(env.Payload)
	case EventUserJoined:
		s.applyMembershipChange(env.Payload, "joined the channel")
	case EventUserLeft:
		s.applyMembershipChange(env.Payload, "left the channel")
	case EventChannelUpdate:
		// Topology may have changed; reconcile by full reload rather than
		// patching incrementally.
		go s.LoadChannels(context.Background())
	case EventTyping:
		s.applyTyping(env.Payload, true)
	case EventStoppedTyping:
		s.applyTyping(env.Payload, false)
	case EventError:
		s.applyError(env.Payload)
	}
}

func (s *Store) applyMessage(payload json.RawMessage) {
	var ev MessageEvent
	if json.Unmarshal(payload, &ev) != nil {
		return
	}

	// A self-originated event confirms an optimistic message that is
	// already rendered; appending it again would duplicate the entry.
	// De-duplication is by sender identity, not id correlation.
	if ev.SenderID == s.me.ID {
		return
	}

	kind := MessageUser
	if ev.Kind == string(MessageBot) {
		kind = MessageBot
	}

	s.mu.Lock()
	if ev.ChannelID == s.activeChannelID && s.activeChannelID != "" {
		s.messages = append(s.messages, Message{
			ID:         ev.ID,
			ChannelID:  ev.ChannelID,
			SenderID:   ev.SenderID,
			SenderName: ev.SenderName,
			Body:       ev.Content,
			Kind:       kind,
			CreatedAt:  ev.CreatedAt,
		})
		delete(s.typing, ev.SenderID)
	} else {
		for i := range s.channels {
			if s.channels[i].ID == ev.ChannelID {
				s.channels[i].UnreadCount++
				s.channels[i].LastMessage = ev.Content
				break
			}
		}
	}
	s.mu.Unlock()
	s.notify()
}

// applyPresence handles the client-synthetic connect notification emitted
// by the transport. The status propagation is best-effort.
func (s *Store) applyPresence() {
	s.mu.Lock()
	first := !s.announcedConnect
	s.announcedConnect = true
	s.mu.Unlock()

	if !first {
		return
	}
	s.appendNotice("connected")
	go func() {
		_, _ = s.client.Users.SetStatus(context.Background(), StatusOnline)
	}()
}

// applyConnected handles the server's auth acknowledgement. The stream
// session starts with no subscriptions, so every locally known channel is
// re-joined after each (re)connect.
func (s *Store) applyConnected() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.channels))
	for _, ch := range s.channels {
		ids = append(ids, ch.ID)
	}
	s.mu.Unlock()

	ctx := context.Background()
	for _, id := range ids {
		s.transport.Send(ctx, Frame{Type: FrameJoinChannel, ChannelID: id})
	}
}

func (s *Store) applyStatusChanged(payload json.RawMessage) {
	var ev StatusEvent
	if json.Unmarshal(payload, &ev) != nil {
		return
	}

	s.mu.Lock()
	changed := false
	for i := range s.users {
		if s.users[i].ID == ev.UserID {
			s.users[i].Status = UserStatus(ev.Status)
			changed = true
			break
		}
	}
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

func (s *Store) applyMembershipChange(payload json.RawMessage, verb string) {
	var ev MembershipEvent
	if json.Unmarshal(payload, &ev) != nil {
		return
	}

	s.mu.Lock()
	active := ev.ChannelID == s.activeChannelID && s.activeChannelID != ""
	s.mu.Unlock()
	if !active {
		return
	}
	s.appendNotice(ev.Username + " " + verb)
}

func (s *Store) applyTyping(payload json.RawMessage, typing bool) {
	var ev TypingEvent
	if json.Unmarshal(payload, &ev) != nil {
		return
	}

	s.mu.Lock()
	if ev.ChannelID != s.activeChannelID || ev.UserID == s.me.ID {
		s.mu.Unlock()
		return
	}
	if typing {
		s.typing[ev.UserID] = true
	} else {
		delete(s.typing, ev.UserID)
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Store) applyError(payload json.RawMessage) {
	var ev ErrorEvent
	if json.Unmarshal(payload, &ev) != nil {
		return
	}
	s.appendNotice("server error: " + ev.Message)
}

// appendNotice appends a system-visible message to the rendered list.
func (s *Store) appendNotice(text string) {
	s.mu.Lock()
	s.messages = append(s.messages, systemMessage(s.activeChannelID, text))
	s.mu.Unlock()
	s.notify()
}

// ============================================================================
// Helpers
// ============================================================================

func systemMessage(channelID, text string) Message {
	return Message{
		ID:         localID(),
		ChannelID:  channelID,
		SenderName: "system",
		Body:       text,
		Kind:       MessageSystem,
		CreatedAt:  timestamp(),
	}
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// localID generates a client-local id for optimistic and system messages.
func localID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("local-%d", time.Now().UnixNano())
	}
	b[6] = (b[6] & 0x0f) | 0x40 // Version 4
	b[8] = (b[8] & 0x3f) | 0x80 // Variant 10
	return fmt.Sprintf("local-%08x-%04x-%04x-%04x-%012x",
		b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
