// Package memory provides an in-memory Store used in dev mode and tests.
package memory

import (
	"context"
	"sync"

	"github.com/jun/drivebot/internal/model"
	"github.com/jun/drivebot/internal/store"
)

// Store holds records in a map guarded by a RWMutex. Records are copied on
// the way in and out so callers never share memory with the store.
type Store struct {
	mu      sync.RWMutex
	records map[int64]*model.UserRecord
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{records: make(map[int64]*model.UserRecord)}
}

func (s *Store) Get(_ context.Context, userID int64) (*model.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyRecord(rec), nil
}

func (s *Store) Put(_ context.Context, rec *model.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.UserID] = copyRecord(rec)
	return nil
}

func (s *Store) Delete(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, userID)
	return nil
}

// ListRecords returns copies of all stored records.
func (s *Store) ListRecords(_ context.Context) ([]*model.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.UserRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, copyRecord(rec))
	}
	return out, nil
}

func copyRecord(rec *model.UserRecord) *model.UserRecord {
	out := *rec
	if rec.Credential != nil {
		cred := *rec.Credential
		out.Credential = &cred
	}
	if rec.DeviceFlow != nil {
		flow := *rec.DeviceFlow
		out.DeviceFlow = &flow
	}
	if rec.FavoriteFolders != nil {
		out.FavoriteFolders = append([]model.FavoriteFolder(nil), rec.FavoriteFolders...)
	}
	return &out
}
