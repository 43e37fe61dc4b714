// Package lifecycle decides when chats are created, when titles are
// generated, and how completed exchanges are persisted.
//
// The running message count N drives an explicit state machine instead of
// arithmetic scattered across call sites: a chat is created after the first
// user+assistant exchange completes (N==2), the auto-generated title follows
// once both messages are durably written, and every later exchange persists
// exactly its own pair and bumps the count. Persistence failures are logged
// and swallowed; the in-memory conversation stays authoritative for the
// session either way.
package lifecycle

import (
	"context"
	"strings"
	"sync"

	"vaultchat/internal/auth"
	"vaultchat/internal/logger"
	"vaultchat/internal/relay"
	"vaultchat/internal/seal"
	"vaultchat/internal/store"
	"vaultchat/internal/stream"

	"github.com/sirupsen/logrus"
)

// FallbackTitle is persisted when title generation fails at any step.
const FallbackTitle = "New Chat"

const titlePrompt = "Summarize this conversation in three words or fewer. Respond with only the title, no quotes or punctuation."

// State is the lifecycle phase derived from the running message count.
type State int

const (
	// StateEmpty: no completed exchange yet, no chat record exists.
	StateEmpty State = iota
	// StateFirstExchangePending: the first exchange just completed; the chat
	// record and both messages must be created.
	StateFirstExchangePending
	// StateTitlePending: first-exchange messages are written; the title
	// round trip may now run against persisted content.
	StateTitlePending
	// StateSteady: chat exists and is titled; exchanges persist their own
	// pair and bump the count.
	StateSteady
)

// StateForCount maps the running message count after an exchange to the
// lifecycle state that handles it.
func StateForCount(n int) State {
	switch {
	case n <= 0:
		return StateEmpty
	case n <= 2:
		return StateFirstExchangePending
	default:
		return StateSteady
	}
}

// SessionState carries the per-session inputs the controller needs. Seed is
// the user's passphrase seed; when empty, content is persisted in plaintext.
type SessionState struct {
	UserID    string
	PersonaID string
	Seed      string
}

type completer interface {
	Complete(ctx context.Context, req relay.Request) (string, error)
}

// Exchange describes one completed user+assistant round trip.
type Exchange struct {
	ChatID        string
	PriorCount    int
	UserText      string
	AssistantText string
	Model         string
	Attachments   []string
	Sources       []stream.Source
	WebSearch     bool
}

// Controller persists completed exchanges according to the lifecycle state.
type Controller struct {
	chats    *store.Chats
	messages *store.Messages
	relay    completer
	sealer   seal.Sealer
	session  SessionState

	mu    sync.Mutex
	state State
}

// NewController creates a Controller bound to one session.
func NewController(chats *store.Chats, messages *store.Messages, rel completer, sealer seal.Sealer, session SessionState) *Controller {
	return &Controller{
		chats:    chats,
		messages: messages,
		relay:    rel,
		sealer:   sealer,
		session:  session,
		state:    StateEmpty,
	}
}

// State reports the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// ExchangeCompleted persists a finished exchange and returns the chat id,
// which is newly assigned when this was the chat's first exchange. Failures
// are logged, never returned: a lost write must not break the conversation
// the user is looking at.
func (c *Controller) ExchangeCompleted(ctx context.Context, ex Exchange) string {
	n := ex.PriorCount + 2

	switch StateForCount(n) {
	case StateFirstExchangePending:
		return c.firstExchange(ctx, ex)
	case StateSteady:
		c.setState(StateSteady)
		c.steadyExchange(ctx, ex, n)
		return ex.ChatID
	default:
		logger.Log.WithField("count", n).Warn("Exchange completed with no messages to persist")
		return ex.ChatID
	}
}

// firstExchange creates the chat, writes orders 1 and 2, then runs the title
// round trip. The title step is deliberately sequenced after both message
// writes so the summarizer only ever sees persisted content order.
func (c *Controller) firstExchange(ctx context.Context, ex Exchange) string {
	c.setState(StateFirstExchangePending)

	chat := &store.Chat{
		CreatorID:    c.session.UserID,
		Title:        store.PlainTitle(FallbackTitle),
		PersonaID:    c.session.PersonaID,
		MessageCount: 2,
	}
	if err := c.chats.Create(ctx, chat); err != nil {
		logger.Log.WithError(err).Error("Failed to create chat record")
		return ""
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.persistMessage(ctx, chat.ID, store.RoleUser, ex.UserText, 1, ex)
	}()
	go func() {
		defer wg.Done()
		c.persistMessage(ctx, chat.ID, store.RoleAssistant, ex.AssistantText, 2, ex)
	}()
	wg.Wait()

	c.setState(StateTitlePending)
	c.generateTitle(ctx, chat.ID, ex)
	c.setState(StateSteady)

	return chat.ID
}

// steadyExchange writes the newly completed pair at orders n-1 and n, and
// bumps the chat's message count. Only the side whose parity matches its
// slot is written: odd orders are user messages, even orders assistant.
func (c *Controller) steadyExchange(ctx context.Context, ex Exchange, n int) {
	var wg sync.WaitGroup

	if (n-1)%2 == 1 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.persistMessage(ctx, ex.ChatID, store.RoleUser, ex.UserText, n-1, ex)
		}()
	}
	if n%2 == 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.persistMessage(ctx, ex.ChatID, store.RoleAssistant, ex.AssistantText, n, ex)
		}()
	}

	// Count-only update, title untouched; issued alongside the message writes.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := c.chats.IncrementCount(ctx, ex.ChatID, 2); err != nil {
			logger.Log.WithError(err).Error("Failed to update chat message count")
		}
	}()

	wg.Wait()
}

func (c *Controller) persistMessage(ctx context.Context, chatID, role, text string, order int, ex Exchange) {
	content := text
	sealed := false
	if c.session.Seed != "" {
		ciphertext, err := c.sealer.Encrypt(text, c.session.Seed)
		if err != nil {
			logger.Log.WithError(err).WithField("order", order).Error("Failed to seal message, persisting plaintext")
		} else {
			content = ciphertext
			sealed = true
		}
	}

	msg := &store.Message{
		ChatID:    chatID,
		CreatorID: c.session.UserID,
		Role:      role,
		Content:   content,
		Sealed:    sealed,
		Order:     order,
		WebSearch: ex.WebSearch,
	}
	if role == store.RoleAssistant {
		msg.Model = ex.Model
		msg.Sources = ex.Sources
	} else {
		msg.Attachments = ex.Attachments
	}

	if err := c.messages.Write(ctx, msg); err != nil {
		logger.Log.WithError(err).WithFields(logrus.Fields{"chat_id": chatID, "order": order}).Error("Failed to persist message")
	}
}

// generateTitle resends the exchange through the relay with a synthetic
// summarization request appended. Any failure leaves the fallback title in
// place without disturbing the exchange.
func (c *Controller) generateTitle(ctx context.Context, chatID string, ex Exchange) {
	req := relay.Request{
		Messages: []relay.Message{
			relay.TextMessage(store.RoleUser, ex.UserText),
			relay.TextMessage(store.RoleAssistant, ex.AssistantText),
			relay.TextMessage(store.RoleUser, titlePrompt),
		},
		PersonaID: c.session.PersonaID,
		Model:     ex.Model,
		Identity:  auth.Identity{IsAuthenticated: true, UserID: c.session.UserID},
	}

	generated, err := c.relay.Complete(ctx, req)
	if err != nil {
		logger.Log.WithError(err).Warn("Title generation failed, keeping fallback title")
		return
	}

	title := strings.Trim(strings.TrimSpace(generated), `"'`)
	if title == "" {
		logger.Log.Warn("Title generation returned empty text, keeping fallback title")
		return
	}

	stored := store.PlainTitle(title)
	if c.session.Seed != "" {
		ciphertext, err := c.sealer.Encrypt(title, c.session.Seed)
		if err != nil {
			logger.Log.WithError(err).Warn("Failed to seal title, keeping fallback title")
			return
		}
		stored = store.SealedTitle(ciphertext)
	}

	if err := c.chats.SetTitle(ctx, chatID, stored); err != nil {
		logger.Log.WithError(err).Warn("Failed to persist generated title")
	}
}
