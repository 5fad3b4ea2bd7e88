package drive

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/jun/drivebot/internal/auth"
	"github.com/jun/drivebot/internal/model"
)

// flakyClient fails with errs in order, then succeeds.
type flakyClient struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (f *flakyClient) nextErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) {
		return f.errs[i]
	}
	return nil
}

func (f *flakyClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *flakyClient) ListFolders(ctx context.Context, parentID string) ([]Folder, error) {
	if err := f.nextErr(); err != nil {
		return nil, err
	}
	return []Folder{{ID: "f1", Name: "Docs"}}, nil
}

func (f *flakyClient) CreateFolder(ctx context.Context, name, parentID string) (*Folder, error) {
	if err := f.nextErr(); err != nil {
		return nil, err
	}
	return &Folder{ID: "f2", Name: name}, nil
}

func (f *flakyClient) UploadFile(ctx context.Context, content io.Reader, name, mimeType, parentID string) (*File, error) {
	if err := f.nextErr(); err != nil {
		return nil, err
	}
	return &File{ID: "file-1", Name: name}, nil
}

func (f *flakyClient) About(ctx context.Context) (*AccountInfo, error) {
	if err := f.nextErr(); err != nil {
		return nil, err
	}
	return &AccountInfo{EmailAddress: "u@example.com"}, nil
}

func TestRetryClient_RetriesProviderOutage(t *testing.T) {
	inner := &flakyClient{errs: []error{
		auth.ErrProviderUnavailable,
		auth.ErrProviderUnavailable,
	}}
	c := WithRetry(inner)

	folders, err := c.ListFolders(context.Background(), "root")
	if err != nil {
		t.Fatalf("ListFolders failed: %v", err)
	}
	if len(folders) != 1 {
		t.Errorf("expected one folder, got %d", len(folders))
	}
	if inner.callCount() != 3 {
		t.Errorf("expected 3 attempts, got %d", inner.callCount())
	}
}

func TestRetryClient_GivesUpAfterMaxRetries(t *testing.T) {
	inner := &flakyClient{errs: []error{
		auth.ErrProviderUnavailable,
		auth.ErrProviderUnavailable,
		auth.ErrProviderUnavailable,
	}}
	c := WithRetry(inner)

	_, err := c.ListFolders(context.Background(), "root")
	if !errors.Is(err, auth.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if inner.callCount() != 3 {
		t.Errorf("expected 3 attempts, got %d", inner.callCount())
	}
}

func TestRetryClient_NonRetryableErrorPassesThrough(t *testing.T) {
	inner := &flakyClient{errs: []error{ErrNameConflict}}
	c := WithRetry(inner)

	_, err := c.CreateFolder(context.Background(), "Docs", "root")
	if !errors.Is(err, ErrNameConflict) {
		t.Fatalf("expected ErrNameConflict, got %v", err)
	}
	if inner.callCount() != 1 {
		t.Errorf("expected a single attempt, got %d", inner.callCount())
	}
}

func TestRetryClient_UploadIsNeverRetried(t *testing.T) {
	inner := &flakyClient{errs: []error{auth.ErrProviderUnavailable}}
	c := WithRetry(inner)

	_, err := c.UploadFile(context.Background(), nil, "a.txt", "text/plain", "root")
	if !errors.Is(err, auth.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if inner.callCount() != 1 {
		t.Errorf("uploads must not be retried, got %d attempts", inner.callCount())
	}
}

func TestWithRetryFactory(t *testing.T) {
	inner := &flakyClient{errs: []error{auth.ErrProviderUnavailable}}
	factory := WithRetryFactory(func(ctx context.Context, cred model.Credential) (Client, error) {
		return inner, nil
	})

	c, err := factory(context.Background(), model.Credential{AccessToken: "at"})
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}
	if _, err := c.About(context.Background()); err != nil {
		t.Fatalf("About failed: %v", err)
	}
	if inner.callCount() != 2 {
		t.Errorf("expected the wrapped client to retry, got %d attempts", inner.callCount())
	}
}
