package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"pairchat/internal/auth"
	"pairchat/internal/blocking"
	"pairchat/internal/router"
	"pairchat/internal/websocket"
	"pairchat/pkg/interfaces"
	"pairchat/pkg/types"
)

var _ websocket.EventHandler = (*Hub)(nil)

// Options tune the hub's background loop.
type Options struct {
	// SweepInterval is how often idle rate limiter entries are dropped.
	SweepInterval time.Duration
	// LimiterIdle is how long an identity may stay silent before its
	// limiter entry is dropped.
	LimiterIdle time.Duration
	// DisconnectBuffer sizes the disconnect queue.
	DisconnectBuffer int
}

func DefaultOptions() Options {
	return Options{
		SweepInterval:    time.Minute,
		LimiterIdle:      5 * time.Minute,
		DisconnectBuffer: 100,
	}
}

// Deps are the components the hub dispatches to.
type Deps struct {
	Registry  *websocket.Registry
	Router    *router.Router
	Rooms     interfaces.RoomStore
	Blocks    *blocking.Machine
	Authority *auth.Authority
}

// Hub dispatches real-time events. Events run synchronously on the
// connection's read goroutine, so one connection's events are handled in
// order; the background loop only releases subscriptions and sweeps the
// rate limiter.
type Hub struct {
	registry  *websocket.Registry
	router    *router.Router
	rooms     interfaces.RoomStore
	blocks    *blocking.Machine
	authority *auth.Authority
	opts      Options

	disconnects chan interfaces.Connection
	shutdown    chan struct{}
	done        chan struct{}

	running bool
	mu      sync.RWMutex
	logger  *slog.Logger
}

func NewHub(deps Deps, opts Options, logger *slog.Logger) *Hub {
	d := DefaultOptions()
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = d.SweepInterval
	}
	if opts.LimiterIdle <= 0 {
		opts.LimiterIdle = d.LimiterIdle
	}
	if opts.DisconnectBuffer <= 0 {
		opts.DisconnectBuffer = d.DisconnectBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		registry:    deps.Registry,
		router:      deps.Router,
		rooms:       deps.Rooms,
		blocks:      deps.Blocks,
		authority:   deps.Authority,
		opts:        opts,
		disconnects: make(chan interfaces.Connection, opts.DisconnectBuffer),
		logger:      logger.With("component", "hub"),
	}
}

// Start launches the background loop.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdown = make(chan struct{})
	h.done = make(chan struct{})

	h.logger.Info("starting hub")
	go h.run(ctx, h.shutdown, h.done)
	return nil
}

// Stop ends the background loop and waits for it to exit.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdown)
	done := h.done
	h.mu.Unlock()

	<-done
	h.logger.Info("hub stopped")
	return nil
}

func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(h.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case conn := <-h.disconnects:
			h.release(conn)

		case <-ticker.C:
			if removed := h.router.Limiter().Cleanup(h.opts.LimiterIdle); removed > 0 {
				h.logger.Debug("rate limiter swept", "removed", removed)
			}

		case <-shutdown:
			h.drainDisconnects()
			return

		case <-ctx.Done():
			h.logger.Info("hub context cancelled")
			h.drainDisconnects()
			return
		}
	}
}

func (h *Hub) drainDisconnects() {
	for {
		select {
		case conn := <-h.disconnects:
			h.release(conn)
		default:
			return
		}
	}
}

// Disconnect releases the connection's room subscriptions. It is queued to
// the background loop when the hub runs and handled inline otherwise.
func (h *Hub) Disconnect(conn interfaces.Connection) {
	if conn == nil {
		return
	}
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()

	if running {
		select {
		case h.disconnects <- conn:
			return
		default:
			h.logger.Warn("disconnect queue full, releasing inline", "conn", conn.ID())
		}
	}
	h.release(conn)
}

func (h *Hub) release(conn interfaces.Connection) {
	h.registry.LeaveAll(conn)
	h.logger.Debug("subscriptions released", "conn", conn.ID(), "identity", conn.Identity())
}

// HandleEvent dispatches one inbound frame and acknowledges it.
func (h *Hub) HandleEvent(ctx context.Context, conn interfaces.Connection, env *types.Envelope) {
	var (
		status  types.AckStatus
		message string
	)
	switch env.Event {
	case types.EventJoinRoom:
		status, message = h.handleJoin(conn, env)
	case types.EventLeaveRoom:
		status, message = h.handleLeave(conn, env)
	case types.EventReact:
		status, message = h.handleReact(ctx, conn, env)
	case types.EventTyping:
		status, message = h.handleTyping(ctx, conn, env)
	case types.EventBlockRequest:
		status, message = h.handleBlock(ctx, conn, env, true)
	case types.EventUnblockRequest:
		status, message = h.handleBlock(ctx, conn, env, false)
	default:
		status, message = types.AckInvalid, types.ErrUnknownEvent.Error()
	}

	if message != "" {
		h.logger.Warn("event rejected", "event", env.Event, "conn", conn.ID(), "identity", conn.Identity(), "status", status, "reason", message)
	}
	h.acknowledge(conn, env, status, message)
}

func (h *Hub) acknowledge(conn interfaces.Connection, env *types.Envelope, status types.AckStatus, message string) {
	if env.Ack == nil {
		return
	}
	frame := types.Outbound{
		Event: types.EventAck,
		Ack:   env.Ack,
		Data:  types.Ack{Status: status, Message: message},
	}
	if err := conn.WriteJSON(frame); err != nil {
		h.logger.Debug("ack not delivered", "conn", conn.ID(), "error", err)
	}
}

func (h *Hub) handleJoin(conn interfaces.Connection, env *types.Envelope) (types.AckStatus, string) {
	var p types.JoinRoomPayload
	if err := decode(env, &p); err != nil {
		return types.AckInvalid, err.Error()
	}
	h.registry.Join(p.RoomAddress, conn)
	h.logger.Debug("joined room", "conn", conn.ID(), "room", p.RoomAddress)
	return types.AckJoined, ""
}

func (h *Hub) handleLeave(conn interfaces.Connection, env *types.Envelope) (types.AckStatus, string) {
	var p types.JoinRoomPayload
	if err := decode(env, &p); err != nil {
		return types.AckInvalid, err.Error()
	}
	h.registry.Leave(p.RoomAddress, conn)
	return types.AckLeft, ""
}

func (h *Hub) handleReact(ctx context.Context, conn interfaces.Connection, env *types.Envelope) (types.AckStatus, string) {
	var p types.SendMessagePayload
	if err := env.DecodeInto(&p); err != nil {
		return types.AckInvalid, err.Error()
	}
	email, status, message := h.gate(p.EventAuth)
	if status != "" {
		return status, message
	}
	if err := types.Validate(&p); err != nil {
		return types.AckInvalid, err.Error()
	}
	if p.Sender != email {
		return types.AckForbidden, auth.ErrForbidden.Error()
	}

	room, status, message := h.loadRoom(ctx, p.RoomAddress)
	if status != "" {
		return status, message
	}
	if !room.IsPair(p.Sender, p.Receiver) {
		return types.AckForbidden, blocking.ErrNotParticipant.Error()
	}

	msg := p.Message()
	delivered, err := h.router.RouteMessage(ctx, msg, conn, !room.IsBlocked())
	switch {
	case errors.Is(err, router.ErrRateLimitExceeded):
		return types.AckRateLimited, err.Error()
	case err != nil:
		h.logger.Error("failed to route message", "room", p.RoomAddress, "sender", email, "error", err)
		return types.AckError, "message could not be stored"
	}

	h.logger.Debug("message routed", "room", msg.RoomAddress, "id", msg.ID, "delivered", delivered, "blocked", room.IsBlocked())
	return types.AckSend, ""
}

func (h *Hub) handleTyping(ctx context.Context, conn interfaces.Connection, env *types.Envelope) (types.AckStatus, string) {
	var p types.TypingPayload
	if err := env.DecodeInto(&p); err != nil {
		return types.AckInvalid, err.Error()
	}
	email, status, message := h.gate(p.EventAuth)
	if status != "" {
		return status, message
	}
	if err := types.Validate(&p); err != nil {
		return types.AckInvalid, err.Error()
	}

	room, status, message := h.loadRoom(ctx, p.Room())
	if status != "" {
		return status, message
	}
	if !room.HasParticipant(email) {
		return types.AckForbidden, blocking.ErrNotParticipant.Error()
	}
	if !room.IsBlocked() {
		h.router.Fanout(room.RoomAddress, types.EventTyping, types.TypingNotice{Data: p.Data}, conn)
	}
	return types.AckTyping, ""
}

func (h *Hub) handleBlock(ctx context.Context, conn interfaces.Connection, env *types.Envelope, block bool) (types.AckStatus, string) {
	var p types.BlockPayload
	if err := env.DecodeInto(&p); err != nil {
		return types.AckInvalid, err.Error()
	}
	email, status, message := h.gate(p.EventAuth)
	if status != "" {
		return status, message
	}
	if err := types.Validate(&p); err != nil {
		return types.AckInvalid, err.Error()
	}
	if p.Sender != "" && p.Sender != email {
		return types.AckForbidden, auth.ErrForbidden.Error()
	}

	var (
		tr    *blocking.Transition
		err   error
		event = types.EventBlockDetails
		ok    = types.AckBlocked
	)
	if block {
		tr, err = h.blocks.Block(ctx, p.RoomAddress, email)
	} else {
		event, ok = types.EventUnblockDetails, types.AckUnblocked
		tr, err = h.blocks.Unblock(ctx, p.RoomAddress, email)
	}
	switch {
	case errors.Is(err, interfaces.ErrRoomNotFound):
		return types.AckNotFound, err.Error()
	case errors.Is(err, blocking.ErrNotParticipant):
		return types.AckForbidden, err.Error()
	case err != nil:
		h.logger.Error("block transition failed", "room", p.RoomAddress, "by", email, "block", block, "error", err)
		return types.AckError, "block state could not be updated"
	}

	if tr.Broadcast {
		h.router.Fanout(p.RoomAddress, event, tr.Notice, conn)
	}
	return ok, ""
}

// gate runs the per-event check and maps its failure to an ack status.
func (h *Hub) gate(creds types.EventAuth) (string, types.AckStatus, string) {
	email, err := h.authority.AuthorizeEvent(creds.Token, creds.Email)
	switch {
	case errors.Is(err, auth.ErrForbidden):
		return "", types.AckForbidden, err.Error()
	case err != nil:
		return "", types.AckDenied, err.Error()
	}
	return email, "", ""
}

func (h *Hub) loadRoom(ctx context.Context, roomAddress string) (*types.Room, types.AckStatus, string) {
	room, err := h.rooms.GetRoom(ctx, roomAddress)
	switch {
	case errors.Is(err, interfaces.ErrRoomNotFound):
		return nil, types.AckNotFound, err.Error()
	case err != nil:
		h.logger.Error("failed to load room", "room", roomAddress, "error", err)
		return nil, types.AckError, "room could not be loaded"
	}
	return room, "", ""
}

func decode(env *types.Envelope, v interface{}) error {
	if err := env.DecodeInto(v); err != nil {
		return err
	}
	return types.Validate(v)
}
