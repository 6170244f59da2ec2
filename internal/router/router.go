package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pairchat/pkg/interfaces"
	"pairchat/pkg/types"
)

// Router persists chat messages and fans events out to room subscribers.
// Storage always completes before fan-out so a recipient that misses the
// live frame can recover it from history.
type Router struct {
	rooms    interfaces.RoomBroadcaster
	messages interfaces.MessageStore
	limiter  *RateLimiter
	now      func() time.Time
	logger   *slog.Logger
}

func NewRouter(rooms interfaces.RoomBroadcaster, messages interfaces.MessageStore, limiter *RateLimiter, logger *slog.Logger) *Router {
	if limiter == nil {
		limiter = NewRateLimiter(0, 0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		rooms:    rooms,
		messages: messages,
		limiter:  limiter,
		now:      time.Now,
		logger:   logger.With("component", "router"),
	}
}

// RouteMessage stores msg and, when deliver is set, sends it as showMessage
// to every other subscriber of its room. It returns the number of
// connections the frame was written to.
func (r *Router) RouteMessage(ctx context.Context, msg *types.Message, from interfaces.Connection, deliver bool) (int, error) {
	if msg == nil {
		return 0, ErrNilMessage
	}
	if msg.RoomAddress == "" {
		return 0, ErrMissingRoom
	}
	if !r.limiter.Allow(msg.Sender) {
		return 0, ErrRateLimitExceeded
	}
	if msg.CurrentTimeMili == 0 {
		msg.CurrentTimeMili = r.now().UnixMilli()
	}

	if err := r.messages.StoreMessage(ctx, msg); err != nil {
		return 0, fmt.Errorf("failed to persist message: %w", err)
	}

	if !deliver {
		r.logger.Debug("message stored without delivery", "room", msg.RoomAddress, "sender", msg.Sender)
		return 0, nil
	}
	return r.Fanout(msg.RoomAddress, types.EventShowMessage, msg, from), nil
}

// Fanout writes one event frame to the room, excluding from. Delivery is
// best effort.
func (r *Router) Fanout(roomAddress, event string, data interface{}, from interfaces.Connection) int {
	delivered := r.rooms.Broadcast(roomAddress, types.Outbound{Event: event, Data: data}, from)
	r.logger.Debug("fanout", "room", roomAddress, "event", event, "delivered", delivered)
	return delivered
}

// Limiter exposes the rate limiter so the hub can sweep it.
func (r *Router) Limiter() *RateLimiter {
	return r.limiter
}
