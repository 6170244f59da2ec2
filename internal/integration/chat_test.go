package integration

import (
	"encoding/json"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairchat/internal/auth"
)

const (
	ana = "ana@pairchat.test"
	bo  = "bo@pairchat.test"
)

func message(c *chatClient, to, room, text string, at int64) map[string]interface{} {
	return map[string]interface{}{
		"token":           c.Token,
		"email":           c.Email,
		"sender":          c.Email,
		"receiver":        to,
		"roomAddress":     room,
		"data":            text,
		"currentTimeMili": at,
	}
}

func TestMessageDelivery(t *testing.T) {
	s := startStack(t)
	anaToken, boToken := s.signUp(t, ana), s.signUp(t, bo)

	messages, meta := s.history(t, ana, anaToken, bo, "room-1")
	assert.JSONEq(t, `[]`, string(messages))
	assert.JSONEq(t, `{"roomAddress":"room-1"}`, string(meta))

	a, b := s.connect(t, ana, anaToken), s.connect(t, bo, boToken)
	a.join(t, "room-1")
	b.join(t, "room-1")

	require.Equal(t, "Send", a.request(t, "reactEvent", message(a, bo, "room-1", "hi bo", 1000)))

	var shown struct {
		Sender          string `json:"sender"`
		Receiver        string `json:"receiver"`
		Data            string `json:"data"`
		CurrentTimeMili int64  `json:"currentTimeMili"`
	}
	require.NoError(t, json.Unmarshal(b.expectEvent(t, "showMessage"), &shown))
	assert.Equal(t, ana, shown.Sender)
	assert.Equal(t, bo, shown.Receiver)
	assert.Equal(t, "hi bo", shown.Data)
	assert.Equal(t, int64(1000), shown.CurrentTimeMili)
	a.expectQuiet(t, 100*time.Millisecond)

	require.Equal(t, "Send", b.request(t, "reactEvent", message(b, ana, "room-1", "hi ana", 2000)))
	a.expectEvent(t, "showMessage")

	messages, _ = s.history(t, bo, boToken, ana, "room-1")
	var stored []struct {
		Data string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(messages, &stored))
	require.Len(t, stored, 2)
	assert.Equal(t, "hi bo", stored[0].Data, "oldest first")
	assert.Equal(t, "hi ana", stored[1].Data)

	var contacts []map[string]interface{}
	status := s.do(t, http.MethodGet, "/allTextedPerson", url.Values{"user": {ana}}, anaToken, nil, &contacts)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, contacts, 1)
	assert.Equal(t, bo, contacts[0]["email"])
	assert.Equal(t, "hi ana", contacts[0]["data"])
}

func TestExpiredTokenEventIsDenied(t *testing.T) {
	s := startStack(t)
	anaToken, boToken := s.signUp(t, ana), s.signUp(t, bo)
	s.history(t, ana, anaToken, bo, "room-1")

	a, b := s.connect(t, ana, anaToken), s.connect(t, bo, boToken)
	a.join(t, "room-1")
	b.join(t, "room-1")

	issuer, err := auth.NewAuthority(testSecret, time.Minute)
	require.NoError(t, err)
	expired, err := issuer.WithClock(func() time.Time { return time.Now().Add(-time.Hour) }).Issue(ana)
	require.NoError(t, err)

	payload := message(a, bo, "room-1", "stale", 1000)
	payload["token"] = expired
	assert.Equal(t, "Denied", a.request(t, "reactEvent", payload))
	b.expectQuiet(t, 100*time.Millisecond)

	messages, _ := s.history(t, ana, anaToken, bo, "room-1")
	assert.JSONEq(t, `[]`, string(messages))
}

func TestHandshakeRefusal(t *testing.T) {
	s := startStack(t)
	anaToken := s.signUp(t, ana)

	u, err := url.Parse(s.base + "/ws")
	require.NoError(t, err)
	u.RawQuery = url.Values{"email": {bo}, "token": {anaToken}}.Encode()

	resp, err := http.Get(u.String())
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var body struct {
		Data struct {
			Type string `json:"type"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "forbiddenAccess", body.Data.Type)
}

func TestBlockLifecycle(t *testing.T) {
	s := startStack(t)
	anaToken, boToken := s.signUp(t, ana), s.signUp(t, bo)
	s.history(t, ana, anaToken, bo, "room-1")

	a, b := s.connect(t, ana, anaToken), s.connect(t, bo, boToken)
	a.join(t, "room-1")
	b.join(t, "room-1")

	blockReq := map[string]string{"token": anaToken, "email": ana, "sender": ana, "roomAddress": "room-1"}
	require.Equal(t, "Blocked", a.request(t, "blockRequest", blockReq))
	assert.JSONEq(t, `{"blockedBy":"`+ana+`"}`, string(b.expectEvent(t, "blockDetails")))

	_, meta := s.history(t, bo, boToken, ana, "room-1")
	assert.JSONEq(t, `{"roomAddress":"room-1","blockedBy":"`+ana+`"}`, string(meta))
	_, meta = s.history(t, ana, anaToken, bo, "room-1")
	assert.JSONEq(t, `{"roomAddress":"room-1"}`, string(meta), "the blocker does not see its own block")

	var status struct {
		BlockedBy string `json:"blockedBy"`
	}
	code := s.do(t, http.MethodGet, "/Unblock_data_for_current_user",
		url.Values{"user": {bo}, "roomAddress": {"room-1"}}, boToken, nil, &status)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, ana, status.BlockedBy)

	var own map[string]interface{}
	code = s.do(t, http.MethodGet, "/Unblock_data_for_current_user",
		url.Values{"user": {ana}, "roomAddress": {"room-1"}}, anaToken, nil, &own)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, own, "the viewer's own block is not reported")

	require.Equal(t, "Send", b.request(t, "reactEvent", message(b, ana, "room-1", "are you there", 3000)))
	a.expectQuiet(t, 100*time.Millisecond)
	messages, _ := s.history(t, ana, anaToken, bo, "room-1")
	assert.Contains(t, string(messages), "are you there", "blocked messages are still stored")

	require.Equal(t, "Unblocked", a.request(t, "UnblockRequest", blockReq))
	assert.JSONEq(t, `{"blockedBy":false}`, string(b.expectEvent(t, "UnblockDetails")))

	require.Equal(t, "Send", b.request(t, "reactEvent", message(b, ana, "room-1", "welcome back", 4000)))
	a.expectEvent(t, "showMessage")
}
