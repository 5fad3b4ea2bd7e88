// Package store defines the durable per-user record store consumed by the
// session manager. Adapters exist for DynamoDB, Redis, and an in-memory map.
package store

import (
	"context"
	"errors"

	"github.com/jun/drivebot/internal/model"
)

// ErrNotFound is returned when no record exists for the requested user.
var ErrNotFound = errors.New("user record not found")

// Store persists one UserRecord per user identity. Writes are
// last-writer-wins per user; writes for different users never interfere.
type Store interface {
	// Get returns the record for userID, or ErrNotFound.
	Get(ctx context.Context, userID int64) (*model.UserRecord, error)

	// Put replaces the record for rec.UserID.
	Put(ctx context.Context, rec *model.UserRecord) error

	// Delete removes the record for userID. Deleting a missing record is
	// not an error.
	Delete(ctx context.Context, userID int64) error
}
