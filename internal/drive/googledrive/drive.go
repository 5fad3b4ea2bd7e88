// Package googledrive implements drive.Client against the Drive v3 API.
package googledrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	driveapi "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/jun/drivebot/internal/auth"
	"github.com/jun/drivebot/internal/drive"
	"github.com/jun/drivebot/internal/model"
)

const folderMimeType = "application/vnd.google-apps.folder"

// Client wraps a drive/v3 service authenticated as one user.
type Client struct {
	service *driveapi.Service
}

var _ drive.Client = (*Client)(nil)

// New creates a Client from a live credential. The credential's access
// token is used as-is: callers obtain it through the session manager,
// which guarantees it is not stale.
func New(ctx context.Context, cred model.Credential) (drive.Client, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cred.AccessToken})
	srv, err := driveapi.NewService(ctx, option.WithTokenSource(src))
	if err != nil {
		return nil, fmt.Errorf("unable to create Drive client: %w", err)
	}
	return &Client{service: srv}, nil
}

// ListFolders lists folders under parentID, ordered by name.
func (c *Client) ListFolders(ctx context.Context, parentID string) ([]drive.Folder, error) {
	parent := parentID
	if parent == "" {
		parent = "root"
	}
	q := fmt.Sprintf("mimeType = '%s' and trashed = false and '%s' in parents", folderMimeType, escapeQuery(parent))

	var folders []drive.Folder
	pageToken := ""
	for {
		call := c.service.Files.List().
			Context(ctx).
			Q(q).
			OrderBy("name").
			Fields("nextPageToken, files(id, name, parents)")
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		r, err := call.Do()
		if err != nil {
			return nil, mapError(err, "unable to list folders")
		}
		for _, f := range r.Files {
			folder := drive.Folder{ID: f.Id, Name: f.Name}
			if len(f.Parents) > 0 {
				folder.ParentID = f.Parents[0]
			}
			folders = append(folders, folder)
		}
		if r.NextPageToken == "" {
			break
		}
		pageToken = r.NextPageToken
	}
	return folders, nil
}

// CreateFolder creates a folder under parentID. Drive itself allows
// duplicate names, so a same-named sibling is checked first and reported
// as ErrNameConflict.
func (c *Client) CreateFolder(ctx context.Context, name, parentID string) (*drive.Folder, error) {
	parent := parentID
	if parent == "" {
		parent = "root"
	}

	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false and '%s' in parents",
		escapeQuery(name), folderMimeType, escapeQuery(parent))
	existing, err := c.service.Files.List().Context(ctx).Q(q).Fields("files(id)").Do()
	if err != nil {
		return nil, mapError(err, "unable to check for existing folder")
	}
	if len(existing.Files) > 0 {
		return nil, drive.ErrNameConflict
	}

	f := &driveapi.File{
		Name:     name,
		MimeType: folderMimeType,
		Parents:  []string{parent},
	}
	res, err := c.service.Files.Create(f).Context(ctx).Fields("id, name, parents").Do()
	if err != nil {
		return nil, mapError(err, "unable to create folder")
	}

	folder := &drive.Folder{ID: res.Id, Name: res.Name}
	if len(res.Parents) > 0 {
		folder.ParentID = res.Parents[0]
	}
	return folder, nil
}

// UploadFile streams content into a new file under parentID.
func (c *Client) UploadFile(ctx context.Context, content io.Reader, name, mimeType, parentID string) (*drive.File, error) {
	parent := parentID
	if parent == "" {
		parent = "root"
	}

	f := &driveapi.File{
		Name:    name,
		Parents: []string{parent},
	}
	res, err := c.service.Files.Create(f).
		Context(ctx).
		Media(content, googleapi.ContentType(mimeType)).
		Fields("id, name, mimeType, size, webViewLink").
		Do()
	if err != nil {
		return nil, mapError(err, "unable to upload file")
	}

	return &drive.File{
		ID:       res.Id,
		Name:     res.Name,
		MimeType: res.MimeType,
		Size:     res.Size,
		Link:     res.WebViewLink,
	}, nil
}

// About returns the connected account's identity and storage usage.
func (c *Client) About(ctx context.Context) (*drive.AccountInfo, error) {
	r, err := c.service.About.Get().
		Context(ctx).
		Fields("user(displayName,emailAddress), storageQuota(usage,limit)").
		Do()
	if err != nil {
		return nil, mapError(err, "unable to get account info")
	}

	info := &drive.AccountInfo{}
	if r.User != nil {
		info.DisplayName = r.User.DisplayName
		info.EmailAddress = r.User.EmailAddress
	}
	if r.StorageQuota != nil {
		info.StorageUsed = r.StorageQuota.Usage
		info.StorageLimit = r.StorageQuota.Limit
	}
	return info, nil
}

// mapError translates googleapi errors into the shared taxonomy.
func mapError(err error, msg string) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		switch {
		case gErr.Code == http.StatusUnauthorized:
			return fmt.Errorf("%w: %v", auth.ErrAuthExpired, err)
		case gErr.Code == http.StatusForbidden && hasReason(gErr, "storageQuotaExceeded", "quotaExceeded"):
			return fmt.Errorf("%w: %v", drive.ErrQuotaExceeded, err)
		case gErr.Code == http.StatusForbidden:
			return fmt.Errorf("%w: %v", drive.ErrPermissionDenied, err)
		case gErr.Code == http.StatusConflict:
			return fmt.Errorf("%w: %v", drive.ErrNameConflict, err)
		case gErr.Code == http.StatusTooManyRequests || gErr.Code >= 500:
			return fmt.Errorf("%w: %v", auth.ErrProviderUnavailable, err)
		}
		return fmt.Errorf("%s: %w", msg, err)
	}
	// Non-API errors are network-shaped: timeouts, connection resets.
	return fmt.Errorf("%w: %s: %v", auth.ErrProviderUnavailable, msg, err)
}

func hasReason(gErr *googleapi.Error, reasons ...string) bool {
	for _, e := range gErr.Errors {
		for _, r := range reasons {
			if e.Reason == r {
				return true
			}
		}
	}
	return false
}

// escapeQuery escapes single quotes and backslashes for Drive query
// strings.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
