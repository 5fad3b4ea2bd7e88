// Package redisstore provides a Redis-backed Store. Records are stored as
// JSON values keyed by user id.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/jun/drivebot/internal/model"
	"github.com/jun/drivebot/internal/store"
)

const keyPrefix = "drivebot:user:"

type Store struct {
	client *redis.Client
}

var _ store.Store = (*Store)(nil)

func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Get(ctx context.Context, userID int64) (*model.UserRecord, error) {
	data, err := s.client.Get(ctx, recordKey(userID)).Bytes()
	if err == redis.Nil {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user record: %w", err)
	}

	var rec model.UserRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user record: %w", err)
	}
	return &rec, nil
}

func (s *Store) Put(ctx context.Context, rec *model.UserRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal user record: %w", err)
	}
	if err := s.client.Set(ctx, recordKey(rec.UserID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save user record: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, userID int64) error {
	if err := s.client.Del(ctx, recordKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete user record: %w", err)
	}
	return nil
}

// ListRecords scans all user records. Used at startup to resume persisted
// device flows; not intended for hot paths.
func (s *Store) ListRecords(ctx context.Context) ([]*model.UserRecord, error) {
	var out []*model.UserRecord
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get user record: %w", err)
		}
		var rec model.UserRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal user record: %w", err)
		}
		out = append(out, &rec)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan user records: %w", err)
	}
	return out, nil
}

// Ping checks if the Redis backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func recordKey(userID int64) string {
	return keyPrefix + strconv.FormatInt(userID, 10)
}
