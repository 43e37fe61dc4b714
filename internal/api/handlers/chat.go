package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"vaultchat/internal/lifecycle"
	"vaultchat/internal/logger"
	"vaultchat/internal/relay"
	"vaultchat/internal/stream"
	"vaultchat/pkg/validation"

	"github.com/sirupsen/logrus"
)

// Rate-limit signal headers on streaming responses. The body stays a pure
// pass-through, so the signal has to travel out of band.
const (
	RateLimitReachedHeader = "X-Rate-Limit-Reached"
	RateLimitMessageHeader = "X-Rate-Limit-Message"
)

// ChatRequest is the relay request from the browser.
type ChatRequest struct {
	Model     string          `json:"model,omitempty"`
	Persona   string          `json:"persona,omitempty"`
	Stream    bool            `json:"stream,omitempty"`
	WebSearch bool            `json:"web_search,omitempty"`
	Messages  []relay.Message `json:"messages"`
}

// ExchangeRequest drives the lifecycle flow: relay the exchange, stream it
// back, persist on completion.
type ExchangeRequest struct {
	ChatID      string          `json:"chat_id,omitempty"`
	PriorCount  int             `json:"prior_count"`
	Model       string          `json:"model,omitempty"`
	Persona     string          `json:"persona,omitempty"`
	WebSearch   bool            `json:"web_search,omitempty"`
	Attachments []string        `json:"attachments,omitempty"`
	Messages    []relay.Message `json:"messages"`
}

// ChatHandler relays a chat request to the inference backend. Anonymous
// callers are allowed; they just lose web-search augmentation.
func (ch *ChatHandlers) ChatHandler(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ch.sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := validation.ValidateChatRequest(toValidatorMessages(req.Messages), nil); err != nil {
		ch.sendError(w, http.StatusBadRequest, "Invalid chat request", err)
		return
	}

	result, err := ch.relay.Do(r.Context(), relay.Request{
		Messages:  req.Messages,
		PersonaID: req.Persona,
		Model:     req.Model,
		Stream:    req.Stream,
		WebSearch: req.WebSearch,
		Identity:  ch.identity(r),
	})
	if err != nil {
		ch.relayError(w, err)
		return
	}

	if !req.Stream {
		ch.writeAugmentedJSON(w, result)
		return
	}

	ch.streamThrough(w, result)
}

// relayError maps relay failures to the HTTP boundary: upstream detail goes
// to the logs, the caller gets a generic 500. Never retried.
func (ch *ChatHandlers) relayError(w http.ResponseWriter, err error) {
	var upstream *relay.UpstreamError
	switch {
	case errors.As(err, &upstream):
		logger.Log.WithFields(logrus.Fields{"status": upstream.Status, "body": upstream.Body}).Error("Upstream request failed")
		ch.sendError(w, http.StatusInternalServerError, "Error from inference backend", nil)
	case errors.Is(err, relay.ErrNoStreamBody):
		logger.Log.Error("Upstream returned no stream body")
		ch.sendError(w, http.StatusInternalServerError, "Error from inference backend", nil)
	default:
		logger.Log.WithError(err).Error("Relay request failed")
		ch.sendError(w, http.StatusInternalServerError, "Error relaying chat request", nil)
	}
}

// writeAugmentedJSON returns the full upstream body with the rate-limit
// signal fields merged in.
func (ch *ChatHandlers) writeAugmentedJSON(w http.ResponseWriter, result *relay.Result) {
	var body map[string]any
	if err := json.Unmarshal(result.JSON, &body); err != nil {
		logger.Log.WithError(err).Error("Upstream returned unparsable JSON")
		ch.sendError(w, http.StatusInternalServerError, "Error from inference backend", nil)
		return
	}
	if result.RateLimited {
		body["rate_limit_reached"] = true
		body["rate_limit_message"] = result.RateLimitMessage
	}
	ch.sendJSON(w, body)
}

// streamThrough relays the upstream body byte-for-byte, flushing per chunk.
func (ch *ChatHandlers) streamThrough(w http.ResponseWriter, result *relay.Result) {
	defer result.Body.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		ch.sendError(w, http.StatusInternalServerError, "Streaming not supported", nil)
		return
	}

	setStreamHeaders(w, result)

	if _, err := io.Copy(&flushWriter{w: w, f: flusher}, result.Body); err != nil {
		// Mid-stream failure: headers are gone, nothing left to do but log.
		logger.Log.WithError(err).Warn("Stream relay interrupted")
	}
}

// ExchangeHandler runs the full lifecycle flow: relay the exchange upstream,
// stream it back to the caller, and persist the completed exchange. The
// upstream body is teed so the caller sees the pure byte stream while the
// consumer reconstructs the assistant text for persistence.
func (ch *ChatHandlers) ExchangeHandler(w http.ResponseWriter, r *http.Request) {
	identity := ch.identity(r)

	var req ExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ch.sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := validation.ValidateChatRequest(toValidatorMessages(req.Messages), req.Attachments); err != nil {
		ch.sendError(w, http.StatusBadRequest, "Invalid exchange request", err)
		return
	}

	userText, ok := lastUserText(req.Messages)
	if !ok {
		ch.sendError(w, http.StatusBadRequest, "Exchange must end with a user message", nil)
		return
	}

	result, err := ch.relay.Do(r.Context(), relay.Request{
		Messages:  req.Messages,
		PersonaID: req.Persona,
		Model:     req.Model,
		Stream:    true,
		WebSearch: req.WebSearch,
		Identity:  identity,
	})
	if err != nil {
		ch.relayError(w, err)
		return
	}
	defer result.Body.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		ch.sendError(w, http.StatusInternalServerError, "Streaming not supported", nil)
		return
	}

	setStreamHeaders(w, result)

	controller := lifecycle.NewController(ch.chats, ch.messages, ch.relay, ch.sealer, lifecycle.SessionState{
		UserID:    identity.UserID,
		PersonaID: req.Persona,
		Seed:      r.Header.Get(VaultKeyHeader),
	})

	var chatID string
	consumer := &stream.Consumer{
		OnComplete: func(text string, sources []stream.Source, rateLimited bool) {
			chatID = controller.ExchangeCompleted(r.Context(), lifecycle.Exchange{
				ChatID:        req.ChatID,
				PriorCount:    req.PriorCount,
				UserText:      userText,
				AssistantText: text,
				Model:         result.Model,
				Attachments:   req.Attachments,
				Sources:       sources,
				WebSearch:     req.WebSearch && !rateLimited,
			})
		},
		OnError: func(msg string) {
			// Partial text is never persisted; the caller sees the break.
			logger.Log.WithField("error", msg).Warn("Exchange stream failed before completion")
		},
	}

	tee := io.TeeReader(result.Body, &flushWriter{w: w, f: flusher})
	consumer.Consume(tee, result.RateLimited)

	if chatID != "" {
		fmt.Fprintf(w, "data: CHAT_ID:%s\n\n", chatID)
		flusher.Flush()
	}
}

func setStreamHeaders(w http.ResponseWriter, result *relay.Result) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if result.RateLimited {
		w.Header().Set(RateLimitReachedHeader, "true")
		w.Header().Set(RateLimitMessageHeader, result.RateLimitMessage)
	}
}

// flushWriter flushes after every write so chunks reach the client as they
// arrive instead of sitting in the response buffer.
type flushWriter struct {
	w io.Writer
	f http.Flusher
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if n > 0 {
		fw.f.Flush()
	}
	return n, err
}

func lastUserText(messages []relay.Message) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Text()
		}
	}
	return "", false
}

func toValidatorMessages(messages []relay.Message) []validation.Message {
	out := make([]validation.Message, 0, len(messages))
	for _, m := range messages {
		text, _ := m.Text()
		out = append(out, validation.Message{Role: m.Role, Content: text, HasContent: len(m.Content) > 0})
	}
	return out
}
