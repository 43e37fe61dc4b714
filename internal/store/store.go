// Package store defines the record store the application persists into.
//
// The store speaks JSON documents grouped into collections. Updates are
// single-document atomic for the increment operator; everything else is
// last-write-wins with no cross-record transaction guarantees.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Record is a JSON document held by a collection.
type Record map[string]any

// Filter selects records by field equality. An empty filter matches all.
type Filter map[string]any

// Patch carries the fields an Update applies.
type Patch map[string]any

// Operator selects how a Patch is applied.
type Operator string

const (
	// OpSet overwrites the patched fields.
	OpSet Operator = "$set"
	// OpInc atomically adds the numeric patch values to the current fields.
	OpInc Operator = "$inc"
)

// CollectionMetadata describes a collection without reading its records.
type CollectionMetadata struct {
	Collection  string    `json:"collection"`
	Count       int64     `json:"count"`
	LastUpdated time.Time `json:"last_updated"`
}

// Store is the record store collaborator interface.
type Store interface {
	Find(ctx context.Context, collection string, filter Filter) ([]Record, error)
	Write(ctx context.Context, collection string, record Record) error
	Update(ctx context.Context, collection string, filter Filter, patch Patch, op Operator) error
	Delete(ctx context.Context, collection string, filter Filter) error
	CollectionMetadata(ctx context.Context, collection string) (*CollectionMetadata, error)
}

// Collection names.
const (
	CollectionUsers    = "users"
	CollectionChats    = "chats"
	CollectionMessages = "messages"
)

// toRecord converts a typed value to a Record through its JSON form.
func toRecord(v any) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return r, nil
}

// fromRecord converts a Record into a typed value through its JSON form.
func fromRecord(r Record, v any) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
