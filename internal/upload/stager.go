// Package upload holds files that have arrived from a user but have not
// yet been committed to a destination folder. Entries are short-lived:
// they are consumed by an upload, cancelled, or swept after a TTL.
package upload

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

const (
	// DefaultTTL is how long a staged file waits for a destination.
	DefaultTTL = 10 * time.Minute

	// DefaultSweepInterval is the cadence of the expiry sweep.
	DefaultSweepInterval = 5 * time.Minute

	// MaxFileSize mirrors the Telegram bot-API download limit.
	MaxFileSize = 20 * 1024 * 1024

	// spoolThreshold is the payload size above which bytes go to a temp
	// file instead of staying in memory.
	spoolThreshold = 1 * 1024 * 1024
)

// ErrFileTooLarge is returned when a payload exceeds MaxFileSize.
var ErrFileTooLarge = errors.New("file too large")

// ErrUploadSessionExpired marks a staged upload that is no longer
// available: its TTL elapsed or it was never staged.
var ErrUploadSessionExpired = errors.New("upload session expired")

// PendingUpload is one staged file. Payload is set for small files;
// larger ones live at SpoolPath until released.
type PendingUpload struct {
	OwnerID   int64
	Payload   []byte
	SpoolPath string
	FileName  string
	MimeType  string
	SizeBytes int64
	CreatedAt time.Time
}

// Bytes returns the payload, reading it back from the spool file if the
// entry was spooled.
func (p *PendingUpload) Bytes() ([]byte, error) {
	if p.SpoolPath == "" {
		return p.Payload, nil
	}
	data, err := os.ReadFile(p.SpoolPath)
	if err != nil {
		return nil, fmt.Errorf("read spooled upload: %w", err)
	}
	return data, nil
}

// Stager is a TTL-bounded per-user cache of pending uploads. At most one
// entry exists per owner; staging a new file replaces and releases the
// previous one.
type Stager struct {
	ttl      time.Duration
	spoolDir string
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[int64]*PendingUpload

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{} // nil until StartSweep
}

// Option configures a Stager.
type Option func(*Stager)

// WithTTL overrides the entry TTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Stager) { s.ttl = ttl }
}

// WithSpoolDir overrides the directory for spooled payloads.
func WithSpoolDir(dir string) Option {
	return func(s *Stager) { s.spoolDir = dir }
}

func NewStager(logger *slog.Logger, opts ...Option) *Stager {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Stager{
		ttl:      DefaultTTL,
		spoolDir: os.TempDir(),
		logger:   logger,
		entries:  make(map[int64]*PendingUpload),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stage stores a pending upload for the owner, replacing any previous one
// and releasing its resources. Payloads over the spool threshold are
// written to a temp file.
func (s *Stager) Stage(ownerID int64, payload []byte, fileName, mimeType string) (*PendingUpload, error) {
	if int64(len(payload)) > MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, len(payload))
	}

	entry := &PendingUpload{
		OwnerID:   ownerID,
		FileName:  fileName,
		MimeType:  mimeType,
		SizeBytes: int64(len(payload)),
		CreatedAt: time.Now(),
	}

	if len(payload) > spoolThreshold {
		f, err := os.CreateTemp(s.spoolDir, "drivebot-upload-*")
		if err != nil {
			return nil, fmt.Errorf("create spool file: %w", err)
		}
		if _, err := f.Write(payload); err != nil {
			f.Close()
			os.Remove(f.Name())
			return nil, fmt.Errorf("write spool file: %w", err)
		}
		if err := f.Close(); err != nil {
			os.Remove(f.Name())
			return nil, fmt.Errorf("close spool file: %w", err)
		}
		entry.SpoolPath = f.Name()
	} else {
		entry.Payload = payload
	}

	s.mu.Lock()
	prev := s.entries[ownerID]
	s.entries[ownerID] = entry
	s.mu.Unlock()

	s.release(prev)
	return entry, nil
}

// Peek returns the owner's staged upload without removing it, or nil when
// none exists or it has expired.
func (s *Stager) Peek(ownerID int64) *PendingUpload {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[ownerID]
	if !ok {
		return nil
	}
	if time.Since(entry.CreatedAt) > s.ttl {
		delete(s.entries, ownerID)
		go s.release(entry)
		return nil
	}
	return entry
}

// Consume removes and returns the owner's staged upload. The caller is
// expected to read the payload before the entry's resources are released
// via Release, or to call Release directly on cancel.
func (s *Stager) Consume(ownerID int64) *PendingUpload {
	s.mu.Lock()
	entry, ok := s.entries[ownerID]
	if ok {
		delete(s.entries, ownerID)
	}
	s.mu.Unlock()

	if !ok || time.Since(entry.CreatedAt) > s.ttl {
		s.release(entry)
		return nil
	}
	return entry
}

// Release frees any spooled resource backing the entry. Safe on nil.
func (s *Stager) Release(entry *PendingUpload) {
	s.release(entry)
}

// StartSweep launches the periodic expiry sweep. Call Stop to end it.
func (s *Stager) StartSweep(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	s.doneCh = make(chan struct{})
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				if n := s.Sweep(); n > 0 {
					s.logger.Info("swept expired uploads", "count", n)
				}
			}
		}
	}()
}

// Stop ends the sweep goroutine and waits for it to exit. Stopping a
// stager whose sweep never started is a no-op.
func (s *Stager) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.doneCh != nil {
		<-s.doneCh
	}
}

// Sweep removes all expired entries and releases their resources. It is
// safe to run concurrently with Stage/Peek/Consume.
func (s *Stager) Sweep() int {
	now := time.Now()

	s.mu.Lock()
	var expired []*PendingUpload
	for ownerID, entry := range s.entries {
		if now.Sub(entry.CreatedAt) > s.ttl {
			delete(s.entries, ownerID)
			expired = append(expired, entry)
		}
	}
	s.mu.Unlock()

	for _, entry := range expired {
		s.release(entry)
	}
	return len(expired)
}

func (s *Stager) release(entry *PendingUpload) {
	if entry == nil || entry.SpoolPath == "" {
		return
	}
	if err := os.Remove(entry.SpoolPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove spool file", "path", entry.SpoolPath, "error", err)
	}
	entry.SpoolPath = ""
}
