// Package relay forwards chat requests to the upstream inference endpoint
// and hands the response back untouched. Streaming bodies are passed through
// byte-for-byte; rate-limit state travels in headers so the stream stays a
// pure relay. Single-attempt semantics throughout: the relay never retries.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"vaultchat/internal/auth"
	"vaultchat/internal/config"
	"vaultchat/internal/logger"
	"vaultchat/internal/ratelimit"

	"github.com/sirupsen/logrus"
)

// RateLimitMessage is the signal text sent when web search is disabled for
// the rest of the day.
const RateLimitMessage = "Daily web search limit reached. Web search will be available again tomorrow."

// ErrNoStreamBody is returned when streaming was requested but the upstream
// response carried no body to relay.
var ErrNoStreamBody = errors.New("upstream returned no body for streaming request")

// UpstreamError reports a non-success upstream status. It is surfaced to the
// caller as a generic 500; the detail stays in the logs.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.Status, e.Body)
}

// Message is a chat message on the wire. Content is kept raw so multi-part
// attachment content passes through unmodified.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// TextMessage builds a plain-text message.
func TextMessage(role, text string) Message {
	content, _ := json.Marshal(text)
	return Message{Role: role, Content: content}
}

// Text returns the message content if it is a plain string.
func (m Message) Text() (string, bool) {
	var text string
	if err := json.Unmarshal(m.Content, &text); err != nil {
		return "", false
	}
	return text, true
}

// Request is a relay invocation.
type Request struct {
	Messages  []Message
	PersonaID string
	Model     string
	Stream    bool
	WebSearch bool
	Identity  auth.Identity
}

// Result is the relayed upstream response. Body is set for streaming
// requests and must be closed by the caller; JSON holds the full body
// otherwise.
type Result struct {
	Body             io.ReadCloser
	JSON             []byte
	Model            string
	RateLimited      bool
	RateLimitMessage string
}

type quota interface {
	Check(ctx context.Context, userID string) (ratelimit.Status, error)
	Reset(ctx context.Context, userID string) error
	Increment(ctx context.Context, userID string, prior ratelimit.Status) error
}

// Relay composes prompts and forwards chat requests upstream.
type Relay struct {
	cfg      config.UpstreamConfig
	models   *config.ModelsConfig
	personas *config.PersonaConfig
	quota    quota
	client   *http.Client
}

// New creates a Relay. A nil client falls back to http.DefaultClient.
func New(cfg config.UpstreamConfig, models *config.ModelsConfig, personas *config.PersonaConfig, q quota, client *http.Client) *Relay {
	if client == nil {
		client = http.DefaultClient
	}
	return &Relay{cfg: cfg, models: models, personas: personas, quota: q, client: client}
}

// Compose merges the persona's system prompt into the message list. If no
// system message exists one is prepended; if one exists the prompt is
// prepended to its content, never replacing it. Compose is idempotent: a list
// that already carries the prompt comes back unchanged, so re-composing a
// conversation never duplicates the prompt.
func Compose(messages []Message, prompt string) []Message {
	if prompt == "" {
		return messages
	}

	for i, msg := range messages {
		if msg.Role != "system" {
			continue
		}
		existing, ok := msg.Text()
		if !ok {
			// Non-text system content cannot be merged; fall through to a
			// standalone system message.
			break
		}
		if existing == prompt || strings.HasPrefix(existing, prompt+"\n\n") {
			return messages
		}
		out := make([]Message, len(messages))
		copy(out, messages)
		out[i] = TextMessage("system", prompt+"\n\n"+existing)
		return out
	}

	return append([]Message{TextMessage("system", prompt)}, messages...)
}

// upstreamRequest is the body forwarded to the inference endpoint.
type upstreamRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	WebSearch   bool      `json:"web_search,omitempty"`
}

// completionBody is the subset of the non-streaming upstream response the
// relay itself ever inspects.
type completionBody struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Do forwards a chat request upstream. Web search is silently disabled for
// anonymous callers; authenticated callers are charged against the daily
// quota, with the limit signal carried on the Result rather than failing the
// request.
func (r *Relay) Do(ctx context.Context, req Request) (*Result, error) {
	persona := r.personas.Resolve(req.PersonaID)
	messages := Compose(req.Messages, persona.SystemPrompt)

	webSearch := req.WebSearch
	var rateLimited bool
	if webSearch {
		webSearch, rateLimited = r.gateWebSearch(ctx, req.Identity)
	}

	model := req.Model
	if model == "" {
		model = persona.DefaultModel
	}
	route := r.models.Route(model)

	body := upstreamRequest{
		Model:       route.Model,
		Messages:    messages,
		Stream:      req.Stream,
		Temperature: route.Temperature,
		MaxTokens:   route.MaxTokens,
		WebSearch:   webSearch,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("error marshaling upstream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, route.EndpointURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("error creating upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	httpReq.Header.Set("HTTP-Referer", r.cfg.Referer)
	httpReq.Header.Set("X-Title", r.cfg.Title)

	logger.Log.WithFields(logrus.Fields{
		"model":         route.Model,
		"persona":       persona.ID,
		"stream":        req.Stream,
		"web_search":    webSearch,
		"message_count": len(messages),
	}).Info("Forwarding chat request upstream")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("error sending upstream request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(detail)}
	}

	result := &Result{Model: route.Model, RateLimited: rateLimited}
	if rateLimited {
		result.RateLimitMessage = RateLimitMessage
	}

	if req.Stream {
		if resp.Body == nil || resp.Body == http.NoBody {
			return nil, ErrNoStreamBody
		}
		result.Body = resp.Body
		return result, nil
	}

	full, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("error reading upstream response: %w", err)
	}
	result.JSON = full
	return result, nil
}

// Complete runs a non-streaming text-only round trip and returns the
// assistant content. Used for title generation.
func (r *Relay) Complete(ctx context.Context, req Request) (string, error) {
	req.Stream = false
	req.WebSearch = false

	result, err := r.Do(ctx, req)
	if err != nil {
		return "", err
	}

	var body completionBody
	if err := json.Unmarshal(result.JSON, &body); err != nil {
		return "", fmt.Errorf("error decoding completion: %w", err)
	}
	if len(body.Choices) == 0 {
		return "", fmt.Errorf("no choices in completion response")
	}
	return body.Choices[0].Message.Content, nil
}

// gateWebSearch decides whether a web-search request may proceed and charges
// the quota when it does. Returns the effective flag and whether the caller
// hit the daily limit.
func (r *Relay) gateWebSearch(ctx context.Context, identity auth.Identity) (allowed, limited bool) {
	if !identity.IsAuthenticated {
		// Anonymous callers lose augmentation silently.
		return false, false
	}

	status := ratelimit.FailOpen(r.quota.Check(ctx, identity.UserID))
	if status.IsRateLimited {
		return false, true
	}

	if status.NeedsReset {
		if err := r.quota.Reset(ctx, identity.UserID); err != nil {
			logger.Log.WithError(err).Warn("Failed to reset web-search counter")
		}
	}
	if err := r.quota.Increment(ctx, identity.UserID, status); err != nil {
		logger.Log.WithError(err).Warn("Failed to increment web-search counter")
	}
	return true, false
}
