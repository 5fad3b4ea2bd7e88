// Package drive defines the storage-provider interface the bot talks to,
// parameterized by a user credential. The googledrive subpackage implements
// it against the Drive v3 API.
package drive

import (
	"context"
	"errors"
	"io"

	"github.com/jun/drivebot/internal/model"
)

var (
	// ErrNameConflict is returned when a same-named sibling folder exists.
	ErrNameConflict = errors.New("a folder with that name already exists")

	// ErrQuotaExceeded is returned on storage-limit errors.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrPermissionDenied is returned on scope or ACL errors.
	ErrPermissionDenied = errors.New("permission denied")
)

// Folder is a Drive folder.
type Folder struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parentId,omitempty"`
}

// File describes an uploaded file.
type File struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size,omitempty"`
	Link     string `json:"link,omitempty"`
}

// AccountInfo is the connected account plus its storage usage.
type AccountInfo struct {
	DisplayName  string
	EmailAddress string
	StorageUsed  int64
	StorageLimit int64
}

// Client performs storage operations on behalf of one user. Implementations
// are constructed per call with a live credential obtained from the session
// manager.
type Client interface {
	// ListFolders lists folders under parentID ("" means the Drive root),
	// ordered by name.
	ListFolders(ctx context.Context, parentID string) ([]Folder, error)

	// CreateFolder creates a folder under parentID ("" means root). Fails
	// with ErrNameConflict when a same-named sibling exists.
	CreateFolder(ctx context.Context, name, parentID string) (*Folder, error)

	// UploadFile streams content into a new file under parentID ("" means
	// root).
	UploadFile(ctx context.Context, content io.Reader, name, mimeType, parentID string) (*File, error)

	// About returns account and storage information.
	About(ctx context.Context) (*AccountInfo, error)
}

// Factory builds a Client from a credential.
type Factory func(ctx context.Context, cred model.Credential) (Client, error)
