package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"pairchat/internal/app"
	"pairchat/internal/config"
	"pairchat/internal/testsupport"
)

const testSecret = "integration-secret"

// frame is an outbound frame as seen by a client.
type frame struct {
	Event string          `json:"event"`
	Ack   *int64          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data"`
}

// chatClient is one connected user. Frames are collected by a read loop
// into a buffered channel.
type chatClient struct {
	Email string
	Token string

	conn   *websocket.Conn
	frames chan frame
	mu     sync.Mutex
	nextID int64
}

// stack is a running application bound to an ephemeral port.
type stack struct {
	app  *app.Application
	base string
}

func startStack(t *testing.T) *stack {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "integration.db")
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Auth.Secret = testSecret

	application, err := app.NewApplication(context.Background(), cfg, testsupport.Logger())
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(ctx)
	})
	return &stack{app: application, base: "http://" + application.Addr()}
}

// do sends a JSON request and decodes the JSON response into out when it is
// not nil.
func (s *stack) do(t *testing.T, method, path string, query url.Values, token string, body, out interface{}) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	target := s.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequest(method, target, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// signUp registers the user and fetches a token for it.
func (s *stack) signUp(t *testing.T, email string) string {
	t.Helper()
	status := s.do(t, http.MethodPost, "/user", nil, "", map[string]interface{}{"email": email, "name": email}, nil)
	require.Equal(t, http.StatusOK, status)

	var tok struct {
		Token string `json:"token"`
	}
	status = s.do(t, http.MethodGet, "/jwt", url.Values{"user": {email}}, "", nil, &tok)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, tok.Token)
	return tok.Token
}

// history calls /getAllMessages and returns the raw [messages, meta] pair.
func (s *stack) history(t *testing.T, user, token, to, room string) (json.RawMessage, json.RawMessage) {
	t.Helper()
	body := map[string]interface{}{
		"selectedPerson": map[string]string{"sender": user, "receiver": to, "roomAddress": room},
	}
	var pair []json.RawMessage
	status := s.do(t, http.MethodPost, "/getAllMessages", url.Values{"user": {user}, "to": {to}}, token, body, &pair)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, pair, 2)
	return pair[0], pair[1]
}

func (s *stack) connect(t *testing.T, email, token string) *chatClient {
	t.Helper()
	u, err := url.Parse(s.base)
	require.NoError(t, err)
	u.Scheme = "ws"
	u.Path = "/ws"
	u.RawQuery = url.Values{"email": {email}, "token": {token}}.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)

	c := &chatClient{Email: email, Token: token, conn: conn, frames: make(chan frame, 64)}
	go c.readLoop()
	t.Cleanup(func() { _ = conn.Close() })
	return c
}

func (c *chatClient) readLoop() {
	defer close(c.frames)
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			return
		}
		c.frames <- f
	}
}

// emit writes an event and returns its ack id.
func (c *chatClient) emit(t *testing.T, event string, data interface{}) int64 {
	t.Helper()
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.mu.Unlock()

	require.NoError(t, c.conn.WriteJSON(map[string]interface{}{"event": event, "ack": id, "data": data}))
	return id
}

func (c *chatClient) next(t *testing.T) frame {
	t.Helper()
	select {
	case f, ok := <-c.frames:
		require.True(t, ok, "connection closed")
		return f
	case <-time.After(3 * time.Second):
		require.FailNow(t, "timed out waiting for a frame", c.Email)
	}
	return frame{}
}

// expectAck reads the next frame and returns its ack status.
func (c *chatClient) expectAck(t *testing.T, id int64) string {
	t.Helper()
	f := c.next(t)
	require.Equal(t, "ack", f.Event)
	require.NotNil(t, f.Ack)
	require.Equal(t, id, *f.Ack)

	var ack struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(f.Data, &ack))
	return ack.Status
}

// request emits an event and waits for its ack.
func (c *chatClient) request(t *testing.T, event string, data interface{}) string {
	t.Helper()
	return c.expectAck(t, c.emit(t, event, data))
}

func (c *chatClient) expectEvent(t *testing.T, event string) json.RawMessage {
	t.Helper()
	f := c.next(t)
	require.Equal(t, event, f.Event)
	return f.Data
}

func (c *chatClient) expectQuiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case f := <-c.frames:
		require.FailNow(t, "unexpected frame", "%s got %s", c.Email, f.Event)
	case <-time.After(d):
	}
}

func (c *chatClient) join(t *testing.T, room string) {
	t.Helper()
	require.Equal(t, "Joined", c.request(t, "joinRoom", map[string]string{"roomAddress": room}))
}
