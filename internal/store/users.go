package store

import (
	"context"
	"fmt"
	"time"

	"vaultchat/internal/logger"

	"github.com/sirupsen/logrus"
)

// creationRounding coarsens account creation times so they cannot be
// correlated with external sign-up events.
const creationRounding = 5 * time.Minute

// Users provides typed user operations over the record store.
type Users struct {
	store Store
}

// NewUsers creates a Users accessor.
func NewUsers(s Store) *Users {
	return &Users{store: s}
}

// Create writes a new user record. CreatedAt is rounded down to a 5-minute
// boundary regardless of what the caller supplied.
func (u *Users) Create(ctx context.Context, user *User) error {
	if user.ID == "" {
		return fmt.Errorf("user id is required")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.CreatedAt = user.CreatedAt.Truncate(creationRounding)

	record, err := toRecord(user)
	if err != nil {
		return fmt.Errorf("error encoding user: %w", err)
	}
	if err := u.store.Write(ctx, CollectionUsers, record); err != nil {
		return fmt.Errorf("error creating user: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{"user_id": user.ID, "auth_provider": user.AuthProvider}).Info("Created new user")
	return nil
}

// Get retrieves a user by id.
func (u *Users) Get(ctx context.Context, userID string) (*User, error) {
	records, err := u.store.Find(ctx, CollectionUsers, Filter{"_id": userID})
	if err != nil {
		return nil, fmt.Errorf("error retrieving user: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("user not found")
	}

	var user User
	if err := fromRecord(records[0], &user); err != nil {
		return nil, fmt.Errorf("error decoding user: %w", err)
	}
	return &user, nil
}

// GetByUsername retrieves a primary-provider user by username.
func (u *Users) GetByUsername(ctx context.Context, username string) (*User, error) {
	records, err := u.store.Find(ctx, CollectionUsers, Filter{"username": username})
	if err != nil {
		return nil, fmt.Errorf("error retrieving user: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("user not found")
	}

	var user User
	if err := fromRecord(records[0], &user); err != nil {
		return nil, fmt.Errorf("error decoding user: %w", err)
	}
	return &user, nil
}
