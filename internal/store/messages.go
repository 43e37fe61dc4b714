package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Messages provides typed message operations over the record store.
type Messages struct {
	store Store
}

// NewMessages creates a Messages accessor.
func NewMessages(s Store) *Messages {
	return &Messages{store: s}
}

// Write persists a message. Messages are immutable once written.
func (m *Messages) Write(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	record, err := toRecord(msg)
	if err != nil {
		return fmt.Errorf("error encoding message: %w", err)
	}
	if err := m.store.Write(ctx, CollectionMessages, record); err != nil {
		return fmt.Errorf("error writing message: %w", err)
	}
	return nil
}

// ListByChat returns a chat's messages in order.
func (m *Messages) ListByChat(ctx context.Context, chatID string) ([]Message, error) {
	records, err := m.store.Find(ctx, CollectionMessages, Filter{"chat_id": chatID})
	if err != nil {
		return nil, fmt.Errorf("error listing messages: %w", err)
	}

	messages := make([]Message, 0, len(records))
	for _, record := range records {
		var msg Message
		if err := fromRecord(record, &msg); err != nil {
			return nil, fmt.Errorf("error decoding message: %w", err)
		}
		messages = append(messages, msg)
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].Order < messages[j].Order })
	return messages, nil
}
