package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"pairchat/internal/auth"
	"pairchat/internal/blocking"
	"pairchat/internal/conversation"
	"pairchat/pkg/interfaces"
	"pairchat/pkg/types"
)

type AcknowledgedResponse struct {
	Acknowledged bool   `json:"acknowledged"`
	InsertedID   string `json:"insertedId,omitempty"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type UpdateUserResponse struct {
	Acknowledged bool        `json:"acknowledged"`
	User         *types.User `json:"user"`
}

// SelectedPerson is the conversation the client has open.
type SelectedPerson struct {
	Sender      string `json:"sender"`
	Receiver    string `json:"receiver"`
	RoomAddress string `json:"roomAddress"`
}

func (p SelectedPerson) matches(a, b string) bool {
	return (p.Sender == a && p.Receiver == b) || (p.Sender == b && p.Receiver == a)
}

type HistoryRequest struct {
	SelectedPerson SelectedPerson `json:"selectedPerson"`
}

type BlockStatusResponse struct {
	BlockedBy string `json:"blockedBy,omitempty"`
}

// POST /user inserts the profile unless the email is already known.
func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var user types.User
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := types.ValidateIdentity(user.Email); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	inserted, err := s.store.InsertUserIfAbsent(r.Context(), &user)
	if err != nil {
		s.logger.Error("failed to insert user", "email", user.Email, "error", err)
		writeMessage(w, http.StatusInternalServerError, msgInternal)
		return
	}

	resp := AcknowledgedResponse{Acknowledged: true}
	if inserted {
		resp.InsertedID = user.Email
		s.logger.Info("user created", "email", user.Email)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /jwt issues a token for the user query parameter. Issuance takes no
// credential.
func (s *Server) issueToken(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("user")
	if err := types.ValidateIdentity(email); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	token, err := s.authority.Issue(email)
	if err != nil {
		s.logger.Error("failed to issue token", "email", email, "error", err)
		writeMessage(w, http.StatusInternalServerError, msgInternal)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{Token: token})
}

func (s *Server) getUserDetails(w http.ResponseWriter, r *http.Request) {
	email, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	user, err := s.store.GetUser(r.Context(), email)
	switch {
	case errors.Is(err, interfaces.ErrUserNotFound):
		writeJSON(w, http.StatusOK, nil)
	case err != nil:
		s.logger.Error("failed to load user", "email", email, "error", err)
		writeMessage(w, http.StatusInternalServerError, msgInternal)
	default:
		writeJSON(w, http.StatusOK, user)
	}
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	email, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var fields map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	user, err := s.store.UpsertUserProfile(r.Context(), email, fields)
	if err != nil {
		s.logger.Error("failed to update user", "email", email, "error", err)
		writeMessage(w, http.StatusInternalServerError, msgInternal)
		return
	}
	writeJSON(w, http.StatusOK, UpdateUserResponse{Acknowledged: true, User: user})
}

func (s *Server) allTextedPerson(w http.ResponseWriter, r *http.Request) {
	email, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	list, err := s.contacts.ContactsFor(r.Context(), email)
	if err != nil {
		s.logger.Error("failed to build contact list", "email", email, "error", err)
		writeMessage(w, http.StatusInternalServerError, msgInternal)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// POST /getAllMessages returns [history, {roomAddress, blockedBy?}] and
// creates the room on first contact.
func (s *Server) getAllMessages(w http.ResponseWriter, r *http.Request) {
	email, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	to := r.URL.Query().Get("to")
	if err := types.ValidateIdentity(to); err != nil {
		writeMessage(w, http.StatusBadRequest, "to: "+err.Error())
		return
	}

	var req HistoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	sp := req.SelectedPerson
	if (sp.Sender != "" || sp.Receiver != "") && !sp.matches(email, to) {
		writeMessage(w, http.StatusBadRequest, "selectedPerson does not match the conversation")
		return
	}

	room, created, err := s.directory.ResolveOrCreate(r.Context(), email, to, sp.RoomAddress)
	switch {
	case errors.Is(err, conversation.ErrMissingAddress),
		errors.Is(err, conversation.ErrSelfConversation),
		errors.Is(err, conversation.ErrInvalidPair):
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, interfaces.ErrRoomAddressTaken):
		writeMessage(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Error("failed to resolve room", "user", email, "to", to, "error", err)
		writeMessage(w, http.StatusInternalServerError, msgInternal)
		return
	}

	history, err := s.store.GetConversationHistory(r.Context(), email, to)
	if err != nil {
		s.logger.Error("failed to load history", "user", email, "to", to, "error", err)
		writeMessage(w, http.StatusInternalServerError, msgInternal)
		return
	}

	meta := types.ConversationMeta{
		RoomAddress: room.RoomAddress,
		BlockedBy:   blocking.QueryForViewer(room, email),
	}
	s.logger.Debug("history served", "user", email, "to", to, "room", room.RoomAddress, "created", created, "messages", len(history))
	writeJSON(w, http.StatusOK, []interface{}{history, meta})
}

// GET /Unblock_data_for_current_user reports who, other than the caller,
// blocks the room.
func (s *Server) blockStatus(w http.ResponseWriter, r *http.Request) {
	email, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	blockedBy, err := s.blocks.QueryForViewer(r.Context(), r.URL.Query().Get("roomAddress"), email)
	if err != nil {
		s.logger.Error("failed to read block status", "user", email, "error", err)
		writeMessage(w, http.StatusInternalServerError, msgInternal)
		return
	}
	writeJSON(w, http.StatusOK, BlockStatusResponse{BlockedBy: blockedBy})
}

// requireUser checks that the user query parameter is the token's identity.
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	email := r.URL.Query().Get("user")
	if err := auth.RequireIdentity(r.Context(), email); err != nil {
		status := http.StatusForbidden
		if errors.Is(err, auth.ErrUnauthenticated) {
			status = http.StatusUnauthorized
		}
		s.logger.Warn("identity mismatch", "path", r.URL.Path, "user", email)
		writeMessage(w, status, msgForbidden)
		return "", false
	}
	return email, true
}
