package drive

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/jun/drivebot/internal/auth"
	"github.com/jun/drivebot/internal/model"
)

const (
	retryBase = 1 * time.Second
	// Three attempts total: the first call plus two retries.
	maxRetries = 2
)

// WithRetry wraps a Client so that transient provider failures are retried
// with exponential backoff. All other errors, including input-shaped ones
// like ErrNameConflict, pass through on the first occurrence.
func WithRetry(c Client) Client {
	return &retryClient{inner: c}
}

// WithRetryFactory wraps a Factory so every constructed client retries.
func WithRetryFactory(f Factory) Factory {
	return func(ctx context.Context, cred model.Credential) (Client, error) {
		c, err := f(ctx, cred)
		if err != nil {
			return nil, err
		}
		return WithRetry(c), nil
	}
}

type retryClient struct {
	inner Client
}

var _ Client = (*retryClient)(nil)

func (r *retryClient) ListFolders(ctx context.Context, parentID string) ([]Folder, error) {
	var out []Folder
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.inner.ListFolders(ctx, parentID)
		return err
	})
	return out, err
}

func (r *retryClient) CreateFolder(ctx context.Context, name, parentID string) (*Folder, error) {
	var out *Folder
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.inner.CreateFolder(ctx, name, parentID)
		return err
	})
	return out, err
}

// UploadFile is not retried: the content reader may be partially consumed
// after a failed attempt.
func (r *retryClient) UploadFile(ctx context.Context, content io.Reader, name, mimeType, parentID string) (*File, error) {
	return r.inner.UploadFile(ctx, content, name, mimeType, parentID)
}

func (r *retryClient) About(ctx context.Context) (*AccountInfo, error) {
	var out *AccountInfo
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.inner.About(ctx)
		return err
	})
	return out, err
}

func (r *retryClient) do(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(maxRetries, retry.NewExponential(retryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, auth.ErrProviderUnavailable) {
			return retry.RetryableError(err)
		}
		return err
	})
}
