package api

import (
	"encoding/json"
	"net/http"
)

const (
	msgForbidden = "Forbidden Access"
	msgInternal  = "Internal Server Error"
)

// MessageResponse is the body of every error reply.
type MessageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, MessageResponse{Message: message})
}
