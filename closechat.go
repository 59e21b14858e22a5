// Package closechat is the client-side synchronization layer for the
// Close Chat messaging server.
//
// It maintains a persistent streaming connection, reconciles inbound
// stream events with request/response snapshots and optimistic local
// writes, and presents a single consistent view of channels, membership,
// presence, and message history.
//
// Example:
//
//	client := closechat.NewClient("https://chat.example.com", token)
//	dispatcher := closechat.NewDispatcher()
//	transport := closechat.NewTransport(closechat.TransportConfig{
//		BaseURL: "https://chat.example.com", Token: token,
//	}, dispatcher)
//	store := closechat.NewStore(client, transport, me)
//	session := closechat.NewSession(client, dispatcher, transport, store, nil)
//	session.Init(ctx)
//	defer session.Close()
package closechat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultTimeout = 30 * time.Second

// ============================================================================
// Client
// ============================================================================

// Client is the request/response data-access client. Every operation
// either resolves with a typed result or fails with an error carrying a
// human-readable message.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	Auth     *AuthClient
	Channels *ChannelsClient
	Users    *UsersClient
	Members  *MembersClient
	Invites  *InvitesClient
	Messages *MessagesClient
}

type ClientOption func(*Client)

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// NewClient creates a data-access client for the given server.
// token may be empty for unauthenticated calls (login, signup).
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.Auth = &AuthClient{client: c}
	c.Channels = &ChannelsClient{client: c}
	c.Users = &UsersClient{client: c}
	c.Members = &MembersClient{client: c}
	c.Invites = &InvitesClient{client: c}
	c.Messages = &MessagesClient{client: c}
	return c
}

// SetToken sets or updates the bearer token, e.g. after login.
func (c *Client) SetToken(token string) {
	c.token = token
}

// BaseURL returns the configured server base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, query map[string]string) (*Result, error) {
	data, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Result](data)
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// ============================================================================
// Sub-Clients
// ============================================================================

// AuthClient handles login and signup.
type AuthClient struct{ client *Client }

func (a *AuthClient) Login(ctx context.Context, creds *Credentials) (*Result, error) {
	return a.client.do(ctx, "POST", "/api/auth/login", creds, nil)
}

func (a *AuthClient) Signup(ctx context.Context, creds *Credentials) (*Result, error) {
	return a.client.do(ctx, "POST", "/api/auth/signup", creds, nil)
}

// Me returns the authenticated user.
func (a *AuthClient) Me(ctx context.Context) (*Result, error) {
	return a.client.do(ctx, "GET", "/api/auth/me", nil, nil)
}

// ChannelsClient handles channel management.
type ChannelsClient struct{ client *Client }

func (ch *ChannelsClient) List(ctx context.Context) (*Result, error) {
	return ch.client.do(ctx, "GET", "/api/channels", nil, nil)
}

func (ch *ChannelsClient) Create(ctx context.Context, displayName string, kind ChannelKind) (*Result, error) {
	return ch.client.do(ctx, "POST", "/api/channels", map[string]string{
		"displayName": displayName, "kind": string(kind),
	}, nil)
}

func (ch *ChannelsClient) Join(ctx context.Context, channelID string) (*Result, error) {
	return ch.client.do(ctx, "POST", "/api/channels/"+channelID+"/join", nil, nil)
}

func (ch *ChannelsClient) Leave(ctx context.Context, channelID string) (*Result, error) {
	return ch.client.do(ctx, "POST", "/api/channels/"+channelID+"/leave", nil, nil)
}

// MarkRead marks every message in the channel as read.
func (ch *ChannelsClient) MarkRead(ctx context.Context, channelID string) (*Result, error) {
	return ch.client.do(ctx, "POST", "/api/channels/"+channelID+"/read", nil, nil)
}

// UsersClient handles user listing, search, and presence.
type UsersClient struct{ client *Client }

func (u *UsersClient) List(ctx context.Context) (*Result, error) {
	return u.client.do(ctx, "GET", "/api/users", nil, nil)
}

func (u *UsersClient) Search(ctx context.Context, query string) (*Result, error) {
	return u.client.do(ctx, "GET", "/api/users/search", nil, map[string]string{"q": query})
}

// SetStatus updates the authenticated user's presence status. Callers
// treat this as best-effort and are allowed to discard the result.
func (u *UsersClient) SetStatus(ctx context.Context, status UserStatus) (*Result, error) {
	return u.client.do(ctx, "POST", "/api/users/status", map[string]string{"status": string(status)}, nil)
}

// MembersClient handles channel membership.
type MembersClient struct{ client *Client }

func (m *MembersClient) List(ctx context.Context, channelID string) (*Result, error) {
	return m.client.do(ctx, "GET", "/api/channels/"+channelID+"/members", nil, nil)
}

func (m *MembersClient) Add(ctx context.Context, channelID, userID string) (*Result, error) {
	return m.client.do(ctx, "POST", "/api/channels/"+channelID+"/members", map[string]string{"userId": userID}, nil)
}

func (m *MembersClient) Remove(ctx context.Context, channelID, userID string) (*Result, error) {
	return m.client.do(ctx, "DELETE", "/api/channels/"+channelID+"/members/"+userID, nil, nil)
}

// InvitesClient handles channel invitations.
type InvitesClient struct{ client *Client }

func (i *InvitesClient) Create(ctx context.Context, channelID string) (*Result, error) {
	return i.client.do(ctx, "POST", "/api/invites", map[string]string{"channelId": channelID}, nil)
}

func (i *InvitesClient) List(ctx context.Context) (*Result, error) {
	return i.client.do(ctx, "GET", "/api/invites", nil, nil)
}

func (i *InvitesClient) Revoke(ctx context.Context, inviteID string) (*Result, error) {
	return i.client.do(ctx, "DELETE", "/api/invites/"+inviteID, nil, nil)
}

// MessagesClient handles message history and sending over the
// request/response path (the stream is preferred when it is open).
type MessagesClient struct{ client *Client }

// History fetches up to limit messages for a channel, most recent first.
func (m *MessagesClient) History(ctx context.Context, channelID string, limit int) (*Result, error) {
	var query map[string]string
	if limit > 0 {
		query = map[string]string{"limit": fmt.Sprintf("%d", limit)}
	}
	return m.client.do(ctx, "GET", "/api/channels/"+channelID+"/messages", nil, query)
}

func (m *MessagesClient) Send(ctx context.Context, channelID, content string) (*Result, error) {
	return m.client.do(ctx, "POST", "/api/channels/"+channelID+"/messages", map[string]string{"content": content}, nil)
}
