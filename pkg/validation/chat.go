// Package validation provides request validation helpers for the chat API.
package validation

import (
	"errors"
	"fmt"
)

// MaxMessages caps the conversation length accepted in a single request.
const MaxMessages = 200

// Message is the validator's view of a chat message. HasContent reports
// whether the wire payload carried any content at all, including non-text
// shapes the validator cannot inspect.
type Message struct {
	Role       string
	Content    string
	HasContent bool
}

var validRoles = map[string]bool{
	"system":    true,
	"user":      true,
	"assistant": true,
}

var validAttachmentTags = map[string]bool{
	"image": true,
	"pdf":   true,
	"csv":   true,
	"audio": true,
}

// ValidateChatRequest checks the message list and attachment tags of an
// incoming chat request.
func ValidateChatRequest(messages []Message, attachments []string) error {
	if len(messages) == 0 {
		return errors.New("messages must not be empty")
	}
	if len(messages) > MaxMessages {
		return fmt.Errorf("too many messages: %d exceeds limit of %d", len(messages), MaxMessages)
	}

	for i, msg := range messages {
		if !validRoles[msg.Role] {
			return fmt.Errorf("message %d has invalid role %q", i, msg.Role)
		}
		if !msg.HasContent {
			return fmt.Errorf("message %d has no content", i)
		}
	}

	for _, tag := range attachments {
		if !validAttachmentTags[tag] {
			return fmt.Errorf("invalid attachment tag %q", tag)
		}
	}

	return nil
}
