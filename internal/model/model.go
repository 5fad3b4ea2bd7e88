package model

import "time"

// Credential is an OAuth2 access/refresh token pair for one user's Drive
// account. ExpiresAt is zero when the provider did not report an expiry;
// callers must treat that as "unknown" and refresh before use.
//
// In memory the refresh token is plaintext. The store adapters persist it
// encrypted (see session.Manager).
type Credential struct {
	AccessToken  string    `json:"access_token" dynamodbav:"access_token"`
	RefreshToken string    `json:"refresh_token" dynamodbav:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at,omitempty" dynamodbav:"expires_at,omitempty"`
}

// ExpiresWithin reports whether the credential expires within d of now,
// or has an unknown expiry.
func (c *Credential) ExpiresWithin(d time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return true
	}
	return time.Now().Add(d).After(c.ExpiresAt)
}

// DeviceFlowState is a persisted in-flight device authorization.
// FlowID identifies this particular flow; a poller compares it against the
// stored record before acting so that a superseded or cancelled flow
// becomes a no-op.
type DeviceFlowState struct {
	FlowID          string    `json:"flow_id" dynamodbav:"flow_id"`
	DeviceCode      string    `json:"device_code" dynamodbav:"device_code"`
	UserCode        string    `json:"user_code" dynamodbav:"user_code"`
	VerificationURL string    `json:"verification_url" dynamodbav:"verification_url"`
	ExpiresAt       time.Time `json:"expires_at" dynamodbav:"expires_at"`
	PollInterval    int       `json:"poll_interval" dynamodbav:"poll_interval"` // seconds
}

// Expired reports whether the flow's wall-clock deadline has passed.
func (f *DeviceFlowState) Expired() bool {
	return time.Now().After(f.ExpiresAt)
}

// FavoriteFolder is a user-pinned Drive folder.
type FavoriteFolder struct {
	ID   string `json:"id" dynamodbav:"id"`
	Name string `json:"name" dynamodbav:"name"`
}

// UserRecord is the authoritative per-user state. One record per chat user,
// keyed by the external user id. Credential and a freshly completed
// DeviceFlow are never both set by the same write: completing a flow clears
// DeviceFlow in the same update that sets Credential.
type UserRecord struct {
	UserID             int64            `json:"user_id" dynamodbav:"user_id"`
	Credential         *Credential      `json:"credential,omitempty" dynamodbav:"credential,omitempty"`
	DeviceFlow         *DeviceFlowState `json:"device_flow,omitempty" dynamodbav:"device_flow,omitempty"`
	DefaultFolderID    string           `json:"default_folder_id,omitempty" dynamodbav:"default_folder_id,omitempty"`
	FavoriteFolders    []FavoriteFolder `json:"favorite_folders,omitempty" dynamodbav:"favorite_folders,omitempty"`
	LastUploadFolderID string           `json:"last_upload_folder_id,omitempty" dynamodbav:"last_upload_folder_id,omitempty"`
	UpdatedAt          time.Time        `json:"updated_at" dynamodbav:"updated_at"`
}

// IsFavorite reports whether folderID is already pinned.
func (u *UserRecord) IsFavorite(folderID string) bool {
	for _, f := range u.FavoriteFolders {
		if f.ID == folderID {
			return true
		}
	}
	return false
}
