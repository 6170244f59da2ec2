package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"pairchat/internal/auth"
	"pairchat/pkg/interfaces"
	"pairchat/pkg/types"
)

// EventHandler receives decoded frames from admitted connections.
type EventHandler interface {
	// HandleEvent runs synchronously on the connection's read goroutine.
	HandleEvent(ctx context.Context, conn interfaces.Connection, env *types.Envelope)
	// Disconnect is called once when the read loop ends.
	Disconnect(conn interfaces.Connection)
}

// Handler authenticates the handshake, upgrades the request and runs the
// read pump for each connection.
type Handler struct {
	registry  *Registry
	authority *auth.Authority
	events    EventHandler
	opts      Options
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

func NewHandler(registry *Registry, authority *auth.Authority, events EventHandler, opts Options, logger *slog.Logger) *Handler {
	opts = opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry:  registry,
		authority: authority,
		events:    events,
		opts:      opts,
		upgrader: websocket.Upgrader{
			CheckOrigin:      opts.checkOrigin,
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger.With("component", "websocket"),
	}
}

// HandshakeError is the body returned when the handshake gate refuses a
// connection.
type HandshakeError struct {
	Message string            `json:"message"`
	Data    map[string]string `json:"data"`
}

// CredentialsFromRequest reads the handshake payload: email and token query
// parameters, with the Authorization header as a fallback for the token.
// It returns nil when the request carries no auth payload at all.
func CredentialsFromRequest(r *http.Request) *auth.Credentials {
	query := r.URL.Query()
	header := r.Header.Get("Authorization")
	if !query.Has("email") && !query.Has("token") && header == "" {
		return nil
	}

	creds := &auth.Credentials{Email: query.Get("email")}
	switch {
	case query.Has("token"):
		token := query.Get("token")
		creds.Token = &token
	case header != "":
		creds.Token = &header
	}
	return creds
}

// HandleWebSocket runs the handshake gate before upgrading so a refused
// client gets a plain HTTP error with the failure type.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	email, err := h.authority.AuthenticateHandshake(CredentialsFromRequest(r))
	if err != nil {
		h.logger.Warn("handshake refused", "remote", r.RemoteAddr, "error", err)
		h.writeHandshakeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	wsConn := NewConnection(conn, h.opts)
	wsConn.SetIdentity(email)

	if err := h.registry.Register(wsConn); err != nil {
		h.logger.Error("failed to register connection", "error", err)
		_ = wsConn.Close()
		return
	}

	h.logger.Info("connection established", "conn", wsConn.ID(), "identity", email)
	go h.handleConnection(wsConn)
}

func (h *Handler) writeHandshakeError(w http.ResponseWriter, err error) {
	status := http.StatusUnauthorized
	if errors.Is(err, auth.ErrForbidden) {
		status = http.StatusForbidden
	}
	message := err.Error()
	if errors.Is(err, auth.ErrTokenInvalid) {
		message = auth.ErrTokenInvalid.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HandshakeError{
		Message: message,
		Data:    map[string]string{"type": auth.HandshakeType(err)},
	})
}

func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		if h.events != nil {
			h.events.Disconnect(conn)
		}
		h.registry.Unregister(conn)
		_ = conn.Close()
		h.logger.Info("connection closed", "conn", conn.ID(), "identity", conn.Identity())
	}()

	conn.conn.SetReadLimit(h.opts.MaxMessageSize)
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read error", "conn", conn.ID(), "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			h.logger.Warn("malformed frame", "conn", conn.ID(), "error", err)
			_ = conn.WriteJSON(types.Outbound{
				Event: types.EventError,
				Data:  types.Ack{Status: types.AckInvalid, Message: "malformed frame"},
			})
			continue
		}

		if h.events != nil {
			h.events.HandleEvent(conn.ctx, conn, &env)
		}
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(h.opts.WriteTimeout)
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-conn.ctx.Done():
			return
		}
	}
}
