// Package session owns the authoritative per-user record: credential,
// in-flight device flow, and folder preferences. All reads and writes to
// the backing store go through the Manager, which serializes mutations per
// user and keeps credentials valid by refreshing them before use.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jun/drivebot/internal/auth"
	"github.com/jun/drivebot/internal/crypto"
	"github.com/jun/drivebot/internal/model"
	"github.com/jun/drivebot/internal/store"
)

// refreshBuffer is how close to expiry a credential may get before it is
// refreshed ahead of an external call.
const refreshBuffer = 5 * time.Minute

// maxFavorites caps the favorite-folder list per user.
const maxFavorites = 10

// Refresher exchanges and revokes tokens with the provider.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*model.Credential, error)
	Revoke(ctx context.Context, accessToken string) error
}

// Prefs is a partial preference update. Nil fields are left untouched.
type Prefs struct {
	DefaultFolderID    *string
	FavoriteFolders    *[]model.FavoriteFolder
	LastUploadFolderID *string
}

// Manager mediates all access to per-user records. Each mutating method is
// a per-user critical section: the read-modify-write against the store
// never interleaves with another mutation for the same user, while
// unrelated users proceed in parallel.
//
// Refresh tokens are encrypted before they reach the store and decrypted
// on the way out; the rest of the record is stored as-is.
type Manager struct {
	store     store.Store
	refresher Refresher
	encryptor crypto.Encryptor
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewManager(st store.Store, refresher Refresher, encryptor crypto.Encryptor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:     st,
		refresher: refresher,
		encryptor: encryptor,
		logger:    logger,
		locks:     make(map[int64]*sync.Mutex),
	}
}

// userLock returns the mutex serializing mutations for one user.
func (m *Manager) userLock(userID int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[userID] = l
	}
	return l
}

// load fetches the record for userID, creating a fresh one on first
// interaction.
func (m *Manager) load(ctx context.Context, userID int64) (*model.UserRecord, error) {
	rec, err := m.store.Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return &model.UserRecord{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user record: %w", err)
	}
	return rec, nil
}

func (m *Manager) save(ctx context.Context, rec *model.UserRecord) error {
	rec.UpdatedAt = time.Now()
	if err := m.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("save user record: %w", err)
	}
	return nil
}

// Record returns the user's record for read-only purposes (status display,
// preference rendering). The stored refresh token stays encrypted; callers
// needing a usable credential go through WithValidCredential.
func (m *Manager) Record(ctx context.Context, userID int64) (*model.UserRecord, error) {
	return m.load(ctx, userID)
}

// WithValidCredential runs fn with a credential guaranteed not to be stale
// at call time. When the stored credential is within the refresh buffer of
// expiry, or its expiry is unknown, it is refreshed and persisted before fn
// runs. A rejected refresh surfaces as ErrAuthExpired and fn is never
// invoked; no stored credential surfaces as ErrNotAuthenticated.
func (m *Manager) WithValidCredential(ctx context.Context, userID int64, fn func(cred model.Credential) error) error {
	cred, err := m.validCredential(ctx, userID)
	if err != nil {
		return err
	}
	return fn(cred)
}

// validCredential performs the locked read-refresh-persist step and returns
// a plaintext credential. fn is deliberately invoked outside the per-user
// lock so a slow Drive call cannot block the user's other mutations.
func (m *Manager) validCredential(ctx context.Context, userID int64) (model.Credential, error) {
	l := m.userLock(userID)
	l.Lock()
	defer l.Unlock()

	rec, err := m.load(ctx, userID)
	if err != nil {
		return model.Credential{}, err
	}
	if rec.Credential == nil {
		return model.Credential{}, auth.ErrNotAuthenticated
	}

	refreshToken, err := m.encryptor.Decrypt(ctx, rec.Credential.RefreshToken)
	if err != nil {
		return model.Credential{}, fmt.Errorf("decrypt refresh token: %w", err)
	}

	cred := model.Credential{
		AccessToken:  rec.Credential.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    rec.Credential.ExpiresAt,
	}

	if !cred.ExpiresWithin(refreshBuffer) {
		return cred, nil
	}

	m.logger.Info("refreshing credential", "user_id", userID)
	refreshed, err := m.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrProviderUnavailable) {
			return model.Credential{}, err
		}
		return model.Credential{}, fmt.Errorf("%w: %v", auth.ErrAuthExpired, err)
	}

	encrypted, err := m.encryptor.Encrypt(ctx, refreshed.RefreshToken)
	if err != nil {
		return model.Credential{}, fmt.Errorf("encrypt refresh token: %w", err)
	}
	rec.Credential = &model.Credential{
		AccessToken:  refreshed.AccessToken,
		RefreshToken: encrypted,
		ExpiresAt:    refreshed.ExpiresAt,
	}
	if err := m.save(ctx, rec); err != nil {
		return model.Credential{}, err
	}

	return *refreshed, nil
}

// CompleteDeviceFlow atomically installs the credential obtained from a
// finished device flow and clears the flow state in the same persisted
// write. Calling it twice with the same credential is a no-op the second
// time around.
func (m *Manager) CompleteDeviceFlow(ctx context.Context, userID int64, cred *model.Credential) error {
	l := m.userLock(userID)
	l.Lock()
	defer l.Unlock()

	rec, err := m.load(ctx, userID)
	if err != nil {
		return err
	}

	var refreshToken string
	switch {
	case cred.RefreshToken != "":
		refreshToken, err = m.encryptor.Encrypt(ctx, cred.RefreshToken)
		if err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
	case rec.Credential != nil:
		// Keep the stored (already encrypted) refresh token when the
		// provider did not send a new one.
		refreshToken = rec.Credential.RefreshToken
	default:
		return fmt.Errorf("no refresh token in device flow result")
	}

	rec.Credential = &model.Credential{
		AccessToken:  cred.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    cred.ExpiresAt,
	}
	rec.DeviceFlow = nil
	return m.save(ctx, rec)
}

// SetDeviceFlow stores a new in-flight flow for the user, replacing any
// prior one.
func (m *Manager) SetDeviceFlow(ctx context.Context, userID int64, flow *model.DeviceFlowState) error {
	l := m.userLock(userID)
	l.Lock()
	defer l.Unlock()

	rec, err := m.load(ctx, userID)
	if err != nil {
		return err
	}
	rec.DeviceFlow = flow
	return m.save(ctx, rec)
}

// ClearDeviceFlow removes the stored flow. When flowID is non-empty the
// flow is only cleared if it matches: a poller for a superseded flow must
// not wipe out its successor's state.
func (m *Manager) ClearDeviceFlow(ctx context.Context, userID int64, flowID string) error {
	l := m.userLock(userID)
	l.Lock()
	defer l.Unlock()

	rec, err := m.load(ctx, userID)
	if err != nil {
		return err
	}
	if rec.DeviceFlow == nil {
		return nil
	}
	if flowID != "" && rec.DeviceFlow.FlowID != flowID {
		return nil
	}
	rec.DeviceFlow = nil
	return m.save(ctx, rec)
}

// DeviceFlow returns the user's stored in-flight flow, or nil.
func (m *Manager) DeviceFlow(ctx context.Context, userID int64) (*model.DeviceFlowState, error) {
	rec, err := m.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return rec.DeviceFlow, nil
}

// UpdatePreferences merges the provided preference fields into the stored
// record. Favorite folders are de-duplicated by id, keep insertion order,
// and are capped at maxFavorites.
func (m *Manager) UpdatePreferences(ctx context.Context, userID int64, prefs Prefs) error {
	l := m.userLock(userID)
	l.Lock()
	defer l.Unlock()

	rec, err := m.load(ctx, userID)
	if err != nil {
		return err
	}
	if prefs.DefaultFolderID != nil {
		rec.DefaultFolderID = *prefs.DefaultFolderID
	}
	if prefs.LastUploadFolderID != nil {
		rec.LastUploadFolderID = *prefs.LastUploadFolderID
	}
	if prefs.FavoriteFolders != nil {
		rec.FavoriteFolders = dedupeFavorites(*prefs.FavoriteFolders)
	}
	return m.save(ctx, rec)
}

// AddFavorite pins a folder for the user. Adding an already-pinned folder
// is a no-op.
func (m *Manager) AddFavorite(ctx context.Context, userID int64, folder model.FavoriteFolder) error {
	l := m.userLock(userID)
	l.Lock()
	defer l.Unlock()

	rec, err := m.load(ctx, userID)
	if err != nil {
		return err
	}
	if rec.IsFavorite(folder.ID) {
		return nil
	}
	if len(rec.FavoriteFolders) >= maxFavorites {
		return fmt.Errorf("favorite folder limit reached (%d)", maxFavorites)
	}
	rec.FavoriteFolders = append(rec.FavoriteFolders, folder)
	return m.save(ctx, rec)
}

// RemoveFavorite unpins a folder. Removing a folder that is not pinned is
// a no-op.
func (m *Manager) RemoveFavorite(ctx context.Context, userID int64, folderID string) error {
	l := m.userLock(userID)
	l.Lock()
	defer l.Unlock()

	rec, err := m.load(ctx, userID)
	if err != nil {
		return err
	}
	kept := rec.FavoriteFolders[:0]
	for _, f := range rec.FavoriteFolders {
		if f.ID != folderID {
			kept = append(kept, f)
		}
	}
	rec.FavoriteFolders = kept
	return m.save(ctx, rec)
}

// Disconnect revokes the credential with the provider (best effort) and
// clears it from the record. Preferences survive a disconnect.
func (m *Manager) Disconnect(ctx context.Context, userID int64) error {
	l := m.userLock(userID)
	l.Lock()
	defer l.Unlock()

	rec, err := m.load(ctx, userID)
	if err != nil {
		return err
	}
	if rec.Credential == nil {
		return nil
	}

	if rec.Credential.AccessToken != "" {
		if err := m.refresher.Revoke(ctx, rec.Credential.AccessToken); err != nil {
			m.logger.Warn("token revocation failed", "user_id", userID, "error", err)
		}
	}

	rec.Credential = nil
	return m.save(ctx, rec)
}

// RecordLister is implemented by stores that can enumerate records, used
// at startup to resume persisted device flows. The core Store interface
// does not require enumeration; adapters that support it opt in.
type RecordLister interface {
	ListRecords(ctx context.Context) ([]*model.UserRecord, error)
}

// PendingFlows returns the persisted device flows that should be resumed
// after a restart. Returns nil when the backing store cannot enumerate.
func (m *Manager) PendingFlows(ctx context.Context) (map[int64]model.DeviceFlowState, error) {
	lister, ok := m.store.(RecordLister)
	if !ok {
		return nil, nil
	}
	recs, err := lister.ListRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("list user records: %w", err)
	}
	flows := make(map[int64]model.DeviceFlowState)
	for _, rec := range recs {
		if rec.DeviceFlow != nil {
			flows[rec.UserID] = *rec.DeviceFlow
		}
	}
	return flows, nil
}

func dedupeFavorites(in []model.FavoriteFolder) []model.FavoriteFolder {
	seen := make(map[string]bool, len(in))
	out := make([]model.FavoriteFolder, 0, len(in))
	for _, f := range in {
		if seen[f.ID] {
			continue
		}
		seen[f.ID] = true
		out = append(out, f)
		if len(out) == maxFavorites {
			break
		}
	}
	return out
}
