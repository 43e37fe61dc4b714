package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"vaultchat/internal/logger"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Chats provides typed chat operations over the record store.
type Chats struct {
	store Store
}

// NewChats creates a Chats accessor.
func NewChats(s Store) *Chats {
	return &Chats{store: s}
}

// Create writes a new chat record. A missing id is assigned.
func (c *Chats) Create(ctx context.Context, chat *Chat) error {
	if chat.ID == "" {
		chat.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = now
	}
	chat.UpdatedAt = now

	record, err := toRecord(chat)
	if err != nil {
		return fmt.Errorf("error encoding chat: %w", err)
	}
	if err := c.store.Write(ctx, CollectionChats, record); err != nil {
		return fmt.Errorf("error creating chat: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{"chat_id": chat.ID, "creator_id": chat.CreatorID}).Info("Created new chat")
	return nil
}

// Get retrieves a chat by id, scoped to its creator.
func (c *Chats) Get(ctx context.Context, chatID, creatorID string) (*Chat, error) {
	records, err := c.store.Find(ctx, CollectionChats, Filter{"_id": chatID, "creator_id": creatorID})
	if err != nil {
		return nil, fmt.Errorf("error retrieving chat: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("chat not found")
	}

	var chat Chat
	if err := fromRecord(records[0], &chat); err != nil {
		return nil, fmt.Errorf("error decoding chat: %w", err)
	}
	return &chat, nil
}

// ListByCreator returns the creator's chats, most recently updated first.
func (c *Chats) ListByCreator(ctx context.Context, creatorID string) ([]Chat, error) {
	records, err := c.store.Find(ctx, CollectionChats, Filter{"creator_id": creatorID})
	if err != nil {
		return nil, fmt.Errorf("error listing chats: %w", err)
	}

	chats := make([]Chat, 0, len(records))
	for _, record := range records {
		var chat Chat
		if err := fromRecord(record, &chat); err != nil {
			return nil, fmt.Errorf("error decoding chat: %w", err)
		}
		chats = append(chats, chat)
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i].UpdatedAt.After(chats[j].UpdatedAt) })
	return chats, nil
}

// SetTitle replaces the chat title. Count and other fields are untouched.
func (c *Chats) SetTitle(ctx context.Context, chatID string, title Title) error {
	titleValue, err := toRecord(struct {
		Title Title `json:"title"`
	}{Title: title})
	if err != nil {
		return fmt.Errorf("error encoding title: %w", err)
	}

	patch := Patch{"title": titleValue["title"], "updated_at": time.Now().UTC()}
	if err := c.store.Update(ctx, CollectionChats, Filter{"_id": chatID}, patch, OpSet); err != nil {
		return fmt.Errorf("error updating chat title: %w", err)
	}
	return nil
}

// IncrementCount bumps the chat's message count by n. The title is untouched.
func (c *Chats) IncrementCount(ctx context.Context, chatID string, n int) error {
	if err := c.store.Update(ctx, CollectionChats, Filter{"_id": chatID}, Patch{"message_count": n}, OpInc); err != nil {
		return fmt.Errorf("error incrementing message count: %w", err)
	}
	// Freshen the activity timestamp; last write wins by design of the store.
	if err := c.store.Update(ctx, CollectionChats, Filter{"_id": chatID}, Patch{"updated_at": time.Now().UTC()}, OpSet); err != nil {
		logger.Log.WithError(err).Warn("Error updating chat timestamp")
	}
	return nil
}

// Delete removes a chat and all of its messages. Individual messages are
// never deleted outside of whole-chat deletion.
func (c *Chats) Delete(ctx context.Context, chatID, creatorID string) error {
	if err := c.store.Delete(ctx, CollectionChats, Filter{"_id": chatID, "creator_id": creatorID}); err != nil {
		return fmt.Errorf("error deleting chat: %w", err)
	}
	if err := c.store.Delete(ctx, CollectionMessages, Filter{"chat_id": chatID}); err != nil {
		return fmt.Errorf("error deleting chat messages: %w", err)
	}
	logger.Log.WithField("chat_id", chatID).Info("Deleted chat")
	return nil
}
