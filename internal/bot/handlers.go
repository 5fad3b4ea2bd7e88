package bot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jun/drivebot/internal/auth"
	"github.com/jun/drivebot/internal/drive"
	"github.com/jun/drivebot/internal/model"
	"github.com/jun/drivebot/internal/session"
	"github.com/jun/drivebot/internal/upload"
)

// notifyTimeout bounds the outbound calls made from poller outcome
// notifications, which run outside any chat turn.
const notifyTimeout = 30 * time.Second

// folderLabelMax caps folder names on inline-keyboard buttons, which
// Telegram renders in limited width.
const folderLabelMax = 32

// Sessions is the slice of session.Manager the handlers use.
type Sessions interface {
	Record(ctx context.Context, userID int64) (*model.UserRecord, error)
	WithValidCredential(ctx context.Context, userID int64, fn func(cred model.Credential) error) error
	DeviceFlow(ctx context.Context, userID int64) (*model.DeviceFlowState, error)
	UpdatePreferences(ctx context.Context, userID int64, prefs session.Prefs) error
	AddFavorite(ctx context.Context, userID int64, folder model.FavoriteFolder) error
	RemoveFavorite(ctx context.Context, userID int64, folderID string) error
	Disconnect(ctx context.Context, userID int64) error
}

// Flows starts and cancels device authorization flows.
type Flows interface {
	Begin(ctx context.Context, userID int64) (*model.DeviceFlowState, error)
	Cancel(ctx context.Context, userID int64) error
}

// pendingFolder marks a user whose next text message names a folder to
// create.
type pendingFolder struct {
	parentID   string
	parentName string
}

// Handlers wires chat events to the application services.
type Handlers struct {
	transport Transport
	sessions  Sessions
	flows     Flows
	stager    *upload.Stager
	newClient drive.Factory
	logger    *slog.Logger

	mu             sync.Mutex
	authPrompts    map[int64]MessageRef
	pendingFolders map[int64]pendingFolder
}

func NewHandlers(transport Transport, sessions Sessions, flows Flows, stager *upload.Stager, newClient drive.Factory, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		transport:      transport,
		sessions:       sessions,
		flows:          flows,
		stager:         stager,
		newClient:      newClient,
		logger:         logger,
		authPrompts:    make(map[int64]MessageRef),
		pendingFolders: make(map[int64]pendingFolder),
	}
}

// withClient runs fn with a Drive client built from a valid credential.
func (h *Handlers) withClient(ctx context.Context, userID int64, fn func(c drive.Client) error) error {
	return h.sessions.WithValidCredential(ctx, userID, func(cred model.Credential) error {
		c, err := h.newClient(ctx, cred)
		if err != nil {
			return err
		}
		return fn(c)
	})
}

func (h *Handlers) setAuthPrompt(userID int64, ref MessageRef) {
	h.mu.Lock()
	h.authPrompts[userID] = ref
	h.mu.Unlock()
}

func (h *Handlers) authPrompt(userID int64) (MessageRef, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ref, ok := h.authPrompts[userID]
	return ref, ok
}

func (h *Handlers) clearAuthPrompt(userID int64) {
	h.mu.Lock()
	delete(h.authPrompts, userID)
	h.mu.Unlock()
}

// NotifyFlowOutcome is installed as the authorizer's outcome hook. It
// edits the authorization prompt in place so the user sees the result
// without pressing anything.
func (h *Handlers) NotifyFlowOutcome(userID int64, flow model.DeviceFlowState, state auth.State) {
	ref, ok := h.authPrompt(userID)
	if !ok {
		h.logger.Info("no prompt to update for flow outcome", "user_id", userID, "state", state.String())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	switch state {
	case auth.StateSucceeded:
		h.clearAuthPrompt(userID)
		h.showConnected(ctx, userID, ref)
	case auth.StateExpired:
		h.clearAuthPrompt(userID)
		h.editAuthFailed(ctx, ref,
			"⏰ **Authorization Expired**\n\nThe authorization code has expired. Please start over.")
	case auth.StateDenied:
		h.clearAuthPrompt(userID)
		h.editAuthFailed(ctx, ref,
			"❌ **Authorization Denied**\n\nYou denied access to Google Drive. Please try again and grant the necessary permissions.")
	}
}

// showConnected confirms a fresh connection by fetching the account info.
func (h *Handlers) showConnected(ctx context.Context, userID int64, ref MessageRef) {
	var info *drive.AccountInfo
	err := h.withClient(ctx, userID, func(c drive.Client) error {
		var err error
		info, err = c.About(ctx)
		return err
	})
	if err != nil {
		h.logger.Warn("account lookup after connect failed", "user_id", userID, "error", err)
		info = &drive.AccountInfo{}
	}

	email := info.EmailAddress
	if email == "" {
		email = "Unknown"
	}
	name := info.DisplayName
	if name == "" {
		name = "Unknown"
	}

	markup := (&Markup{}).
		Row(Button{Label: "📁 Browse Folders", Data: cbBrowseFolders}).
		Row(Button{Label: "ℹ️ Help", Data: cbHelp})

	text := "✅ **Google Drive Connected Successfully!**\n\n" +
		"📧 Account: " + email + "\n" +
		"👤 Name: " + name + "\n\n" +
		"🎉 You can now upload files to your Google Drive! Send any file to get started."

	if err := h.transport.Edit(ctx, ref, text, markup); err != nil {
		h.logger.Warn("failed to update auth prompt", "user_id", userID, "error", err)
	}
}

func (h *Handlers) editAuthFailed(ctx context.Context, ref MessageRef, text string) {
	markup := (&Markup{}).Row(Button{Label: "🔗 Try Again", Data: cbConnect})
	if err := h.transport.Edit(ctx, ref, text, markup); err != nil {
		h.logger.Warn("failed to update auth prompt", "error", err)
	}
}
