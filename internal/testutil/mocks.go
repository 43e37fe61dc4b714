// Package testutil provides mock collaborators for tests.
package testutil

import (
	"context"

	"vaultchat/internal/ratelimit"
	"vaultchat/internal/relay"
	"vaultchat/internal/seal"
	"vaultchat/internal/store"
)

// MockStore is a function-field mock of store.Store. Unset fields return
// empty results so tests only wire what they assert on.
type MockStore struct {
	FindFunc               func(ctx context.Context, collection string, filter store.Filter) ([]store.Record, error)
	WriteFunc              func(ctx context.Context, collection string, record store.Record) error
	UpdateFunc             func(ctx context.Context, collection string, filter store.Filter, patch store.Patch, op store.Operator) error
	DeleteFunc             func(ctx context.Context, collection string, filter store.Filter) error
	CollectionMetadataFunc func(ctx context.Context, collection string) (*store.CollectionMetadata, error)
}

func (m *MockStore) Find(ctx context.Context, collection string, filter store.Filter) ([]store.Record, error) {
	if m.FindFunc != nil {
		return m.FindFunc(ctx, collection, filter)
	}
	return nil, nil
}

func (m *MockStore) Write(ctx context.Context, collection string, record store.Record) error {
	if m.WriteFunc != nil {
		return m.WriteFunc(ctx, collection, record)
	}
	return nil
}

func (m *MockStore) Update(ctx context.Context, collection string, filter store.Filter, patch store.Patch, op store.Operator) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, collection, filter, patch, op)
	}
	return nil
}

func (m *MockStore) Delete(ctx context.Context, collection string, filter store.Filter) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, collection, filter)
	}
	return nil
}

func (m *MockStore) CollectionMetadata(ctx context.Context, collection string) (*store.CollectionMetadata, error) {
	if m.CollectionMetadataFunc != nil {
		return m.CollectionMetadataFunc(ctx, collection)
	}
	return &store.CollectionMetadata{Collection: collection}, nil
}

// MockQuota is a function-field mock of the web-search quota.
type MockQuota struct {
	CheckFunc     func(ctx context.Context, userID string) (ratelimit.Status, error)
	ResetFunc     func(ctx context.Context, userID string) error
	IncrementFunc func(ctx context.Context, userID string, prior ratelimit.Status) error
}

func (m *MockQuota) Check(ctx context.Context, userID string) (ratelimit.Status, error) {
	if m.CheckFunc != nil {
		return m.CheckFunc(ctx, userID)
	}
	return ratelimit.Status{}, nil
}

func (m *MockQuota) Reset(ctx context.Context, userID string) error {
	if m.ResetFunc != nil {
		return m.ResetFunc(ctx, userID)
	}
	return nil
}

func (m *MockQuota) Increment(ctx context.Context, userID string, prior ratelimit.Status) error {
	if m.IncrementFunc != nil {
		return m.IncrementFunc(ctx, userID, prior)
	}
	return nil
}

// MockCompleter is a function-field mock of the relay completion dependency.
type MockCompleter struct {
	CompleteFunc func(ctx context.Context, req relay.Request) (string, error)
}

func (m *MockCompleter) Complete(ctx context.Context, req relay.Request) (string, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return "", nil
}

// MockSealer is a reversible fake sealer that marks content without real
// cryptography, so tests can assert on sealed values directly.
type MockSealer struct {
	EncryptFunc func(plaintext, seed string) (string, error)
	DecryptFunc func(ciphertext, seed string) seal.Result
}

func (m *MockSealer) Encrypt(plaintext, seed string) (string, error) {
	if m.EncryptFunc != nil {
		return m.EncryptFunc(plaintext, seed)
	}
	return "sealed(" + plaintext + ")", nil
}

func (m *MockSealer) Decrypt(ciphertext, seed string) seal.Result {
	if m.DecryptFunc != nil {
		return m.DecryptFunc(ciphertext, seed)
	}
	if len(ciphertext) > 8 && ciphertext[:7] == "sealed(" && ciphertext[len(ciphertext)-1] == ')' {
		return seal.Result{Content: ciphertext[7 : len(ciphertext)-1], DecryptComplete: true}
	}
	return seal.Result{Content: ciphertext}
}
