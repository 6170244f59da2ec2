package router

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairchat/internal/testsupport"
	"pairchat/internal/websocket"
	"pairchat/pkg/types"
)

type recordingConn struct {
	id, identity string
	mu           sync.Mutex
	frames       []types.Outbound
}

func (c *recordingConn) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var frame types.Outbound
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return nil
}

func (c *recordingConn) Close() error          { return nil }
func (c *recordingConn) ID() string            { return c.id }
func (c *recordingConn) Identity() string      { return c.identity }
func (c *recordingConn) IsAuthenticated() bool { return true }

func (c *recordingConn) received() []types.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Outbound(nil), c.frames...)
}

type failingMessages struct{}

func (failingMessages) StoreMessage(context.Context, *types.Message) error {
	return errors.New("disk full")
}
func (failingMessages) GetConversationHistory(context.Context, string, string) ([]*types.Message, error) {
	return nil, nil
}
func (failingMessages) GetLastMessageBetween(context.Context, string, string) (*types.Message, error) {
	return nil, nil
}
func (failingMessages) ListUserMessages(context.Context, string) ([]*types.Message, error) {
	return nil, nil
}

func joinedPair(t *testing.T, registry *websocket.Registry, room string) (*recordingConn, *recordingConn) {
	t.Helper()
	ana := &recordingConn{id: "c-ana", identity: "ana@x.io"}
	bo := &recordingConn{id: "c-bo", identity: "bo@x.io"}
	for _, c := range []*recordingConn{ana, bo} {
		require.NoError(t, registry.Register(c))
		registry.Join(room, c)
	}
	return ana, bo
}

func TestRouter_RouteMessagePersistsThenFansOut(t *testing.T) {
	store := testsupport.NewStore(t)
	registry := websocket.NewRegistry()
	ana, bo := joinedPair(t, registry, "room-ab")
	r := NewRouter(registry, store, nil, testsupport.Logger())

	msg := &types.Message{Sender: "ana@x.io", Receiver: "bo@x.io", RoomAddress: "room-ab", Data: "hi", CurrentTimeMili: 42}
	delivered, err := r.RouteMessage(context.Background(), msg, ana, true)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.NotEmpty(t, msg.ID)

	assert.Empty(t, ana.received())
	frames := bo.received()
	require.Len(t, frames, 1)
	assert.Equal(t, types.EventShowMessage, frames[0].Event)
	payload := frames[0].Data.(map[string]interface{})
	assert.Equal(t, "hi", payload["data"])
	assert.Equal(t, float64(42), payload["currentTimeMili"])

	history, err := store.GetConversationHistory(context.Background(), "bo@x.io", "ana@x.io")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, msg.ID, history[0].ID)
}

func TestRouter_RouteMessageWithoutDelivery(t *testing.T) {
	store := testsupport.NewStore(t)
	registry := websocket.NewRegistry()
	ana, bo := joinedPair(t, registry, "room-ab")
	r := NewRouter(registry, store, nil, testsupport.Logger())

	msg := &types.Message{Sender: "ana@x.io", Receiver: "bo@x.io", RoomAddress: "room-ab", Data: "quiet", CurrentTimeMili: 1}
	delivered, err := r.RouteMessage(context.Background(), msg, ana, false)
	require.NoError(t, err)
	assert.Zero(t, delivered)
	assert.Empty(t, bo.received())

	last, err := store.GetLastMessageBetween(context.Background(), "ana@x.io", "bo@x.io")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "quiet", last.Data)
}

func TestRouter_ZeroTimestampUsesServerClock(t *testing.T) {
	store := testsupport.NewStore(t)
	r := NewRouter(websocket.NewRegistry(), store, nil, testsupport.Logger())
	fixed := time.UnixMilli(1_700_000_000_123)
	r.now = func() time.Time { return fixed }

	msg := &types.Message{Sender: "ana@x.io", Receiver: "bo@x.io", RoomAddress: "room-ab", Data: "x"}
	_, err := r.RouteMessage(context.Background(), msg, nil, true)
	require.NoError(t, err)
	assert.Equal(t, fixed.UnixMilli(), msg.CurrentTimeMili)
}

func TestRouter_StoreFailureSkipsFanout(t *testing.T) {
	registry := websocket.NewRegistry()
	ana, bo := joinedPair(t, registry, "room-ab")
	r := NewRouter(registry, failingMessages{}, nil, testsupport.Logger())

	msg := &types.Message{Sender: "ana@x.io", Receiver: "bo@x.io", RoomAddress: "room-ab", Data: "lost", CurrentTimeMili: 1}
	_, err := r.RouteMessage(context.Background(), msg, ana, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to persist message")
	assert.Empty(t, bo.received())
}

func TestRouter_RejectsBadInput(t *testing.T) {
	r := NewRouter(websocket.NewRegistry(), failingMessages{}, nil, testsupport.Logger())

	_, err := r.RouteMessage(context.Background(), nil, nil, true)
	assert.ErrorIs(t, err, ErrNilMessage)

	_, err = r.RouteMessage(context.Background(), &types.Message{Sender: "ana@x.io"}, nil, true)
	assert.ErrorIs(t, err, ErrMissingRoom)
}

func TestRouter_RateLimitAppliesBeforeStorage(t *testing.T) {
	store := testsupport.NewStore(t)
	r := NewRouter(websocket.NewRegistry(), store, NewRateLimiter(2, time.Minute), testsupport.Logger())

	for i := 1; i <= 3; i++ {
		msg := &types.Message{Sender: "ana@x.io", Receiver: "bo@x.io", RoomAddress: "room-ab", Data: "m", CurrentTimeMili: int64(i)}
		_, err := r.RouteMessage(context.Background(), msg, nil, true)
		if i <= 2 {
			require.NoError(t, err)
		} else {
			assert.ErrorIs(t, err, ErrRateLimitExceeded)
		}
	}

	history, err := store.GetConversationHistory(context.Background(), "ana@x.io", "bo@x.io")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestRouter_FanoutExcludesSender(t *testing.T) {
	registry := websocket.NewRegistry()
	ana, bo := joinedPair(t, registry, "room-ab")
	r := NewRouter(registry, failingMessages{}, nil, testsupport.Logger())

	notice := types.BlockNotice{BlockedBy: "ana@x.io"}
	assert.Equal(t, 1, r.Fanout("room-ab", types.EventBlockDetails, notice, ana))
	assert.Empty(t, ana.received())

	frames := bo.received()
	require.Len(t, frames, 1)
	assert.Equal(t, types.EventBlockDetails, frames[0].Event)
	assert.Equal(t, map[string]interface{}{"blockedBy": "ana@x.io"}, frames[0].Data)

	assert.Equal(t, 2, r.Fanout("room-ab", types.EventUnblockDetails, types.BlockNotice{Cleared: true}, nil))
	assert.Equal(t, map[string]interface{}{"blockedBy": false}, bo.received()[1].Data)
}
