package store

import (
	"encoding/json"
	"fmt"
)

// allotKey is the record store's field-level encryption convention: a sealed
// value is stored as {"%allot": "<ciphertext>"} instead of a plain string.
const allotKey = "%allot"

// Title is either a plaintext title or a sealed ciphertext, resolved once at
// the store boundary so readers never inspect the wire shape themselves.
type Title struct {
	Value  string
	Sealed bool
}

// PlainTitle wraps a plaintext title.
func PlainTitle(v string) Title { return Title{Value: v} }

// SealedTitle wraps an encrypted title.
func SealedTitle(v string) Title { return Title{Value: v, Sealed: true} }

// MarshalJSON writes a plain string or the %allot envelope.
func (t Title) MarshalJSON() ([]byte, error) {
	if t.Sealed {
		return json.Marshal(map[string]string{allotKey: t.Value})
	}
	return json.Marshal(t.Value)
}

// UnmarshalJSON accepts either wire shape.
func (t *Title) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		*t = Title{Value: plain}
		return nil
	}

	var envelope map[string]string
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("title is neither a string nor an %%allot envelope: %w", err)
	}
	sealed, ok := envelope[allotKey]
	if !ok {
		return fmt.Errorf("title envelope is missing the %q field", allotKey)
	}
	*t = Title{Value: sealed, Sealed: true}
	return nil
}
