// Package handlers is the thin HTTP/WebSocket façade (spec.md §6): three
// WebSocket surfaces (bot attach, eval bar, human game) plus the enumerated
// game-CRUD and bot-discovery HTTP endpoints, all calling straight into
// C1-C5 with no business logic of their own.
package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func mustMarshal(v interface{}) []byte {
	raw, _ := json.Marshal(v)
	return raw
}

// newConnID gives every broadcast.Subscriber a unique id, since a topic
// (e.g. "live" or "game:<id>") may have many concurrent subscribers.
func newConnID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
