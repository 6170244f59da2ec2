package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairchat/internal/auth"
	"pairchat/internal/testsupport"
	"pairchat/pkg/interfaces"
	"pairchat/pkg/types"
)

// recordingEvents captures what the read pump hands to the event layer.
type recordingEvents struct {
	mu           sync.Mutex
	events       []types.Envelope
	disconnected []string
	echo         bool
}

func (r *recordingEvents) HandleEvent(_ context.Context, conn interfaces.Connection, env *types.Envelope) {
	r.mu.Lock()
	r.events = append(r.events, *env)
	r.mu.Unlock()
	if r.echo {
		_ = conn.WriteJSON(types.Outbound{Event: types.EventAck, Ack: env.Ack, Data: types.Ack{Status: types.AckJoined}})
	}
}

func (r *recordingEvents) Disconnect(conn interfaces.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected = append(r.disconnected, conn.Identity())
}

func (r *recordingEvents) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recordingEvents) disconnectCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.disconnected)
}

type handlerFixture struct {
	server    *httptest.Server
	registry  *Registry
	authority *auth.Authority
	events    *recordingEvents
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	authority, err := auth.NewAuthority("handler-test-secret", time.Hour)
	require.NoError(t, err)

	registry := NewRegistry()
	events := &recordingEvents{echo: true}
	handler := NewHandler(registry, authority, events, DefaultOptions(), testsupport.Logger())
	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)

	return &handlerFixture{server: server, registry: registry, authority: authority, events: events}
}

func (f *handlerFixture) url(params url.Values) string {
	u := "ws" + strings.TrimPrefix(f.server.URL, "http")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func (f *handlerFixture) dial(t *testing.T, email string) *websocket.Conn {
	t.Helper()
	token, err := f.authority.Issue(email)
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(f.url(url.Values{"email": {email}, "token": {token}}), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHandler_HandshakeRefusals(t *testing.T) {
	f := newHandlerFixture(t)
	valid, err := f.authority.Issue("ana@x.io")
	require.NoError(t, err)

	tests := []struct {
		name       string
		params     url.Values
		header     http.Header
		wantStatus int
		wantType   string
	}{
		{
			name:       "no auth payload",
			wantStatus: http.StatusUnauthorized,
			wantType:   auth.HandshakeNotConnected,
		},
		{
			name:       "email without token",
			params:     url.Values{"email": {"ana@x.io"}},
			wantStatus: http.StatusUnauthorized,
			wantType:   auth.HandshakeAuthEmpty,
		},
		{
			name:       "empty token",
			params:     url.Values{"email": {"ana@x.io"}, "token": {""}},
			wantStatus: http.StatusUnauthorized,
			wantType:   auth.HandshakeAuthEmpty,
		},
		{
			name:       "garbage token",
			params:     url.Values{"email": {"ana@x.io"}, "token": {"not-a-jwt"}},
			wantStatus: http.StatusUnauthorized,
			wantType:   auth.HandshakeTokenError,
		},
		{
			name:       "token for another identity",
			params:     url.Values{"email": {"bo@x.io"}, "token": {valid}},
			wantStatus: http.StatusForbidden,
			wantType:   auth.HandshakeForbidden,
		},
		{
			name:       "header token for another identity",
			params:     url.Values{"email": {"bo@x.io"}},
			header:     http.Header{"Authorization": {"Bearer " + valid}},
			wantStatus: http.StatusForbidden,
			wantType:   auth.HandshakeForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := websocket.DefaultDialer.Dial(f.url(tt.params), tt.header)
			if conn != nil {
				conn.Close()
			}
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			var body HandshakeError
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.wantType, body.Data["type"])
			assert.NotEmpty(t, body.Message)
		})
	}

	assert.Equal(t, 0, f.registry.GetStats()["total_connections"])
}

func TestHandler_HeaderTokenAccepted(t *testing.T) {
	f := newHandlerFixture(t)
	token, err := f.authority.Issue("ana@x.io")
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(
		f.url(url.Values{"email": {"ana@x.io"}}),
		http.Header{"Authorization": {"Bearer " + token}},
	)
	require.NoError(t, err)
	defer conn.Close()

	assert.Eventually(t, func() bool {
		return f.registry.GetStats()["total_connections"] == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_ForwardsEnvelopes(t *testing.T) {
	f := newHandlerFixture(t)
	conn := f.dial(t, "ana@x.io")

	ack := int64(7)
	frame := map[string]interface{}{
		"event": types.EventJoinRoom,
		"ack":   ack,
		"data":  map[string]string{"roomAddress": "room-1"},
	}
	require.NoError(t, conn.WriteJSON(frame))

	var reply types.Envelope
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, types.EventAck, reply.Event)
	require.NotNil(t, reply.Ack)
	assert.Equal(t, ack, *reply.Ack)

	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	require.Len(t, f.events.events, 1)
	got := f.events.events[0]
	assert.Equal(t, types.EventJoinRoom, got.Event)

	var payload types.JoinRoomPayload
	require.NoError(t, got.DecodeInto(&payload))
	assert.Equal(t, "room-1", payload.RoomAddress)
}

func TestHandler_MalformedFrame(t *testing.T) {
	f := newHandlerFixture(t)
	conn := f.dial(t, "ana@x.io")

	for _, raw := range []string{"{not json", `{"data":{}}`} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))

		var reply struct {
			Event string    `json:"event"`
			Data  types.Ack `json:"data"`
		}
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, conn.ReadJSON(&reply))
		assert.Equal(t, types.EventError, reply.Event)
		assert.Equal(t, types.AckInvalid, reply.Data.Status)
	}
	assert.Equal(t, 0, f.events.eventCount())
}

func TestHandler_DisconnectUnregisters(t *testing.T) {
	f := newHandlerFixture(t)
	conn := f.dial(t, "ana@x.io")

	require.Eventually(t, func() bool {
		return f.registry.GetStats()["total_connections"] == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	conn.Close()

	assert.Eventually(t, func() bool {
		return f.registry.GetStats()["total_connections"] == 0 && f.events.disconnectCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_MultipleConnectionsPerIdentity(t *testing.T) {
	f := newHandlerFixture(t)
	f.dial(t, "ana@x.io")
	f.dial(t, "ana@x.io")

	assert.Eventually(t, func() bool {
		stats := f.registry.GetStats()
		return stats["total_connections"] == 2 && stats["identities"] == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCredentialsFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.Nil(t, CredentialsFromRequest(r))

	r = httptest.NewRequest(http.MethodGet, "/ws?email=ana@x.io", nil)
	creds := CredentialsFromRequest(r)
	require.NotNil(t, creds)
	assert.Equal(t, "ana@x.io", creds.Email)
	assert.Nil(t, creds.Token)

	r = httptest.NewRequest(http.MethodGet, "/ws?email=ana@x.io&token=abc", nil)
	r.Header.Set("Authorization", "Bearer header")
	creds = CredentialsFromRequest(r)
	require.NotNil(t, creds.Token)
	assert.Equal(t, "abc", *creds.Token)
}
