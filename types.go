package closechat

import "encoding/json"

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an error returned by the Close Chat server.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// Result is the generic server response envelope.
type Result struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *Result) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ErrMessage returns a human-readable message for a failed result.
func (r *Result) ErrMessage() string {
	if r.Error != nil {
		return r.Error.Message
	}
	return "request failed"
}

// ============================================================================
// Domain Types
// ============================================================================

// ChannelKind distinguishes group channels from direct conversations.
type ChannelKind string

const (
	ChannelGroup  ChannelKind = "group"
	ChannelDirect ChannelKind = "direct"
)

// Channel is a chat channel as the client sees it. UnreadCount and
// LastMessage are client-local derived state patched by inbound events.
type Channel struct {
	ID          string      `json:"id"`
	DisplayName string      `json:"displayName"`
	Kind        ChannelKind `json:"kind"`
	LastMessage string      `json:"lastMessage,omitempty"`
	UnreadCount int         `json:"unreadCount"`
	// RecipientID identifies the other party for direct channels.
	RecipientID string `json:"recipientId,omitempty"`
}

// MessageKind classifies a message for rendering.
type MessageKind string

const (
	MessageUser   MessageKind = "user"
	MessageBot    MessageKind = "bot"
	MessageSystem MessageKind = "system"
)

// Message is a single chat message. Optimistic messages carry a
// client-local ID until the server echoes them back.
type Message struct {
	ID         string      `json:"id"`
	ChannelID  string      `json:"channelId"`
	SenderID   string      `json:"senderId"`
	SenderName string      `json:"senderName"`
	Body       string      `json:"body"`
	Kind       MessageKind `json:"kind"`
	CreatedAt  string      `json:"createdAt"`
	// Optimistic marks a locally synthesized message awaiting confirmation.
	Optimistic bool `json:"-"`
}

// UserStatus is a user's presence state.
type UserStatus string

const (
	StatusOnline  UserStatus = "online"
	StatusIdle    UserStatus = "idle"
	StatusOffline UserStatus = "offline"
)

// User is a chat user. Status is mutated only by inbound status events or
// by the local session's own focus transitions.
type User struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"displayName"`
	Status      UserStatus `json:"status"`
	IsBot       bool       `json:"isBot"`
}

// MemberRole is a user's role within a channel.
type MemberRole string

const (
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
)

// Membership links a user to a channel with a role.
type Membership struct {
	ChannelID string     `json:"channelId"`
	UserID    string     `json:"userId"`
	Role      MemberRole `json:"role"`
}

// Invite is a pending channel invitation.
type Invite struct {
	ID        string `json:"id"`
	ChannelID string `json:"channelId"`
	Code      string `json:"code"`
	CreatedBy string `json:"createdBy"`
	CreatedAt string `json:"createdAt"`
}

// ============================================================================
// Auth Types
// ============================================================================

// Credentials are the login/signup request body.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthData is the result of a successful login or signup.
type AuthData struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// ============================================================================
// Wire Frames
// ============================================================================

// Inbound event kinds carried on the stream, plus the client-synthetic
// EventPresence which never arrives over the wire.
const (
	EventMessage       = "message"
	EventConnected     = "connected"
	EventUserJoined    = "user-joined"
	EventUserLeft      = "user-left"
	EventStatusChanged = "status-changed"
	EventTyping        = "user-typing"
	EventStoppedTyping = "user-stopped-typing"
	EventJoinedChannel = "joined-channel"
	EventChannelUpdate = "channel_update"
	EventError         = "error"
	EventPresence      = "presence"
)

// Outbound frame kinds.
const (
	FrameMessage      = "message"
	FrameTypingStart  = "typing-start"
	FrameTypingStop   = "typing-stop"
	FrameJoinChannel  = "join-channel"
	FrameLeaveChannel = "leave-channel"
	FrameStatusUpdate = "status-update"
)

// Envelope is the normalized form of an inbound stream frame: a kind
// discriminant plus the raw payload. Envelopes are immutable and are
// discarded after fan-out.
type Envelope struct {
	Kind    string
	Payload json.RawMessage
}

// Frame is a flat outbound record written to the stream.
type Frame struct {
	Type      string `json:"type"`
	ChannelID string `json:"channelId,omitempty"`
	Content   string `json:"content,omitempty"`
	Status    string `json:"status,omitempty"`
}

// MessageEvent is the payload of an inbound "message" frame.
type MessageEvent struct {
	ID         string `json:"id"`
	ChannelID  string `json:"channelId"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Content    string `json:"content"`
	Kind       string `json:"kind,omitempty"`
	CreatedAt  string `json:"createdAt"`
}

// StatusEvent is the payload of an inbound "status-changed" frame.
type StatusEvent struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// MembershipEvent is the payload of "user-joined" and "user-left" frames.
type MembershipEvent struct {
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
}

// TypingEvent is the payload of typing indicator frames.
type TypingEvent struct {
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
}

// ErrorEvent is the payload of an inbound "error" frame.
type ErrorEvent struct {
	Message string `json:"message"`
}
