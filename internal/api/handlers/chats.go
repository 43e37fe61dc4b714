package handlers

import (
	"net/http"
	"time"

	"vaultchat/internal/logger"
	"vaultchat/internal/store"
	"vaultchat/internal/stream"

	"github.com/go-chi/chi/v5"
)

// ChatInfo is the list representation of a chat. Title carries ciphertext
// when the chat is sealed and no vault key was supplied.
type ChatInfo struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	TitleSealed  bool   `json:"title_sealed"`
	PersonaID    string `json:"persona_id,omitempty"`
	MessageCount int    `json:"message_count"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// ChatsResponse wraps the chat list.
type ChatsResponse struct {
	Chats []ChatInfo `json:"chats"`
}

// MessageData is the read representation of a message.
type MessageData struct {
	ID          string          `json:"id"`
	Role        string          `json:"role"`
	Content     string          `json:"content"`
	Sealed      bool            `json:"sealed"`
	Order       int             `json:"order"`
	Model       string          `json:"model,omitempty"`
	Attachments []string        `json:"attachments,omitempty"`
	Sources     []stream.Source `json:"sources,omitempty"`
	WebSearch   bool            `json:"web_search,omitempty"`
	CreatedAt   string          `json:"created_at"`
}

// MessagesResponse wraps a chat's messages.
type MessagesResponse struct {
	Messages []MessageData `json:"messages"`
}

// DeleteResponse acknowledges a deletion.
type DeleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ListChatsHandler returns all chats for the authenticated user.
func (ch *ChatHandlers) ListChatsHandler(w http.ResponseWriter, r *http.Request) {
	identity := ch.identity(r)
	seed := r.Header.Get(VaultKeyHeader)

	chats, err := ch.chats.ListByCreator(r.Context(), identity.UserID)
	if err != nil {
		logger.Log.WithError(err).Error("Error listing chats")
		ch.sendError(w, http.StatusInternalServerError, "Error retrieving chats", err)
		return
	}

	infos := make([]ChatInfo, 0, len(chats))
	for _, chat := range chats {
		title, sealed := ch.resolveTitle(chat.Title, seed)
		infos = append(infos, ChatInfo{
			ID:           chat.ID,
			Title:        title,
			TitleSealed:  sealed,
			PersonaID:    chat.PersonaID,
			MessageCount: chat.MessageCount,
			CreatedAt:    chat.CreatedAt.Format(time.RFC3339),
			UpdatedAt:    chat.UpdatedAt.Format(time.RFC3339),
		})
	}

	ch.sendJSON(w, ChatsResponse{Chats: infos})
}

// GetChatMessagesHandler returns a chat's messages in order.
func (ch *ChatHandlers) GetChatMessagesHandler(w http.ResponseWriter, r *http.Request) {
	identity := ch.identity(r)
	chatID := chi.URLParam(r, "id")
	seed := r.Header.Get(VaultKeyHeader)

	// Creator-scoped lookup doubles as the ownership check.
	if _, err := ch.chats.Get(r.Context(), chatID, identity.UserID); err != nil {
		ch.sendError(w, http.StatusNotFound, "Chat not found", err)
		return
	}

	messages, err := ch.messages.ListByChat(r.Context(), chatID)
	if err != nil {
		logger.Log.WithError(err).Error("Error listing messages")
		ch.sendError(w, http.StatusInternalServerError, "Error retrieving messages", err)
		return
	}

	data := make([]MessageData, 0, len(messages))
	for _, msg := range messages {
		content, sealed := msg.Content, msg.Sealed
		if sealed && seed != "" {
			result := ch.sealer.Decrypt(msg.Content, seed)
			content, sealed = result.Content, !result.DecryptComplete
		}
		data = append(data, MessageData{
			ID:          msg.ID,
			Role:        msg.Role,
			Content:     content,
			Sealed:      sealed,
			Order:       msg.Order,
			Model:       msg.Model,
			Attachments: msg.Attachments,
			Sources:     msg.Sources,
			WebSearch:   msg.WebSearch,
			CreatedAt:   msg.CreatedAt.Format(time.RFC3339),
		})
	}

	ch.sendJSON(w, MessagesResponse{Messages: data})
}

// DeleteChatHandler deletes a chat and all of its messages.
func (ch *ChatHandlers) DeleteChatHandler(w http.ResponseWriter, r *http.Request) {
	identity := ch.identity(r)
	chatID := chi.URLParam(r, "id")

	if _, err := ch.chats.Get(r.Context(), chatID, identity.UserID); err != nil {
		ch.sendError(w, http.StatusNotFound, "Chat not found", err)
		return
	}

	if err := ch.chats.Delete(r.Context(), chatID, identity.UserID); err != nil {
		logger.Log.WithError(err).Error("Error deleting chat")
		ch.sendError(w, http.StatusInternalServerError, "Error deleting chat", err)
		return
	}

	ch.sendJSON(w, DeleteResponse{Success: true, Message: "Chat deleted successfully"})
}

// PersonasHandler returns the configured personas.
func (ch *ChatHandlers) PersonasHandler(w http.ResponseWriter, r *http.Request) {
	type personaInfo struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		DefaultModel string `json:"default_model,omitempty"`
	}

	personas := ch.config.AppConfig.Personas.Available()
	infos := make([]personaInfo, 0, len(personas))
	for _, p := range personas {
		infos = append(infos, personaInfo{ID: p.ID, Name: p.Name, DefaultModel: p.DefaultModel})
	}
	ch.sendJSON(w, map[string]any{"personas": infos})
}

// ModelsHandler returns the list of available models.
func (ch *ChatHandlers) ModelsHandler(w http.ResponseWriter, r *http.Request) {
	ch.sendJSON(w, map[string]any{"models": ch.config.AppConfig.Models.GetAvailableModels()})
}

// StatsHandler reports collection metadata for operational visibility.
func (ch *ChatHandlers) StatsHandler(w http.ResponseWriter, r *http.Request) {
	collections := []string{store.CollectionUsers, store.CollectionChats, store.CollectionMessages}

	stats := make([]store.CollectionMetadata, 0, len(collections))
	for _, collection := range collections {
		meta, err := ch.config.Store.CollectionMetadata(r.Context(), collection)
		if err != nil {
			logger.Log.WithError(err).Error("Error reading collection metadata")
			ch.sendError(w, http.StatusInternalServerError, "Error reading store metadata", err)
			return
		}
		stats = append(stats, *meta)
	}

	ch.sendJSON(w, map[string]any{"collections": stats})
}

// resolveTitle decrypts a sealed title when a vault key is available.
// Failed decrypts return the ciphertext with sealed still true, so the
// caller can tell "shown as-is" from "genuinely decrypted".
func (ch *ChatHandlers) resolveTitle(title store.Title, seed string) (string, bool) {
	if !title.Sealed {
		return title.Value, false
	}
	if seed == "" {
		return title.Value, true
	}
	result := ch.sealer.Decrypt(title.Value, seed)
	return result.Content, !result.DecryptComplete
}
