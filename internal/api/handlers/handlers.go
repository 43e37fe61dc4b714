package handlers

import (
	"encoding/json"
	"net/http"

	"vaultchat/internal/app"
	"vaultchat/internal/auth"
	"vaultchat/internal/ratelimit"
	"vaultchat/internal/relay"
	"vaultchat/internal/seal"
	"vaultchat/internal/store"
)

// VaultKeyHeader carries the session passphrase seed for sealed content.
// It is only ever used in-process and is never persisted or forwarded.
const VaultKeyHeader = "X-Vault-Key"

// ErrorResponse is the standardized JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ChatHandlers serves the chat API.
type ChatHandlers struct {
	config   *app.Config
	relay    *relay.Relay
	chats    *store.Chats
	messages *store.Messages
	sealer   seal.Sealer
}

// NewChatHandlers creates the chat API handlers.
func NewChatHandlers(config *app.Config) *ChatHandlers {
	limiter := ratelimit.NewLimiter(config.Store, config.AppConfig.WebSearch.DailyLimit)
	rel := relay.New(config.AppConfig.Upstream, config.AppConfig.Models, config.AppConfig.Personas, limiter, nil)

	return &ChatHandlers{
		config:   config,
		relay:    rel,
		chats:    store.NewChats(config.Store),
		messages: store.NewMessages(config.Store),
		sealer:   seal.New(),
	}
}

// sendError sends a standardized JSON error response
func (ch *ChatHandlers) sendError(w http.ResponseWriter, status int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	errResp := ErrorResponse{
		Code:    status,
		Message: message,
	}
	if err != nil {
		errResp.Error = err.Error()
	}
	json.NewEncoder(w).Encode(errResp)
}

func (ch *ChatHandlers) sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// identity returns the resolved caller identity for the request.
func (ch *ChatHandlers) identity(r *http.Request) auth.Identity {
	return auth.IdentityFromContext(r.Context())
}
