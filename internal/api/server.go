package api

import (
	"log/slog"
	"net/http"
	"time"

	"pairchat/internal/auth"
	"pairchat/internal/blocking"
	"pairchat/internal/contacts"
	"pairchat/pkg/interfaces"
)

// Registry is the part of the websocket registry the health check reads.
type Registry interface {
	GetStats() map[string]int
}

// Deps are the components behind the HTTP API.
type Deps struct {
	Store     interfaces.Store
	Authority *auth.Authority
	Directory interfaces.ConversationResolver
	Blocks    *blocking.Machine
	Contacts  *contacts.Aggregator
	Registry  Registry
	// WebSocket, when set, is mounted at /ws.
	WebSocket http.Handler
}

// Server is the HTTP front of the chat backend. It only parses requests,
// checks the caller's identity and encodes results.
type Server struct {
	store     interfaces.Store
	authority *auth.Authority
	directory interfaces.ConversationResolver
	blocks    *blocking.Machine
	contacts  *contacts.Aggregator
	registry  Registry
	mux       *http.ServeMux
	startedAt time.Time
	logger    *slog.Logger
}

func NewServer(deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:     deps.Store,
		authority: deps.Authority,
		directory: deps.Directory,
		blocks:    deps.Blocks,
		contacts:  deps.Contacts,
		registry:  deps.Registry,
		mux:       http.NewServeMux(),
		startedAt: time.Now(),
		logger:    logger.With("component", "api"),
	}
	s.setupRoutes(deps.WebSocket)
	return s
}

func (s *Server) setupRoutes(ws http.Handler) {
	protect := s.authority.Middleware(s.logger)

	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /health", s.healthCheck)

	s.mux.HandleFunc("POST /user", s.createUser)
	s.mux.HandleFunc("GET /jwt", s.issueToken)

	s.mux.Handle("GET /getUserDetails", protect(http.HandlerFunc(s.getUserDetails)))
	s.mux.Handle("PATCH /updateUser", protect(http.HandlerFunc(s.updateUser)))
	s.mux.Handle("GET /allTextedPerson", protect(http.HandlerFunc(s.allTextedPerson)))
	s.mux.Handle("POST /getAllMessages", protect(http.HandlerFunc(s.getAllMessages)))
	s.mux.Handle("GET /Unblock_data_for_current_user", protect(http.HandlerFunc(s.blockStatus)))

	if ws != nil {
		s.mux.Handle("GET /ws", ws)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Server is running perfectly"))
}
