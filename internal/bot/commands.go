package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/jun/drivebot/internal/drive"
	"github.com/jun/drivebot/internal/format"
)

const welcomeText = `🤖 **Welcome to Google Drive Bot!**

This bot helps you upload files directly to your Google Drive account.

**Features:**
• Upload any file type to Google Drive
• Browse and select destination folders
• Manage favorite folders for quick access
• View upload progress and confirmations

**Getting Started:**
1. Connect your Google Drive account
2. Send any file to upload it
3. Select destination folder
4. Done! Your file is in Google Drive

Click "Connect Google Drive" below to get started!`

const helpText = `📚 **Help - How to Use This Bot**

**Commands:**
• /start - Welcome message and main menu
• /status - Check Google Drive connection status
• /folders - Browse and manage folders
• /help - Show this help message

**File Upload Process:**
1️⃣ Send any file (document, image, video, etc.)
2️⃣ Choose destination folder from inline menu
3️⃣ Get Google Drive link when complete

**Folder Management:**
• Browse your Google Drive folders
• Set default upload folder
• Mark folders as favorites for quick access
• Create new folders directly from bot

**File Size Limits:**
• Maximum: 20MB per file

**Getting Started with Google Drive:**
1. Use /start and click "Connect Google Drive"
2. Click "Open Google Device Page" to visit Google's authorization
3. Enter the displayed code on Google's page
4. Grant permissions and return here
5. Done! The bot will detect authorization automatically

**Privacy & Security:**
• Your files are uploaded directly to YOUR Google Drive
• The bot doesn't store your files
• Authentication tokens are stored securely
• You can revoke access anytime from your Google Account settings`

// HandleCommand dispatches a slash command.
func (h *Handlers) HandleCommand(ctx context.Context, msg Message) error {
	cmd := strings.TrimSpace(msg.Text)
	if i := strings.IndexAny(cmd, " @"); i > 0 {
		cmd = cmd[:i]
	}
	switch cmd {
	case "/start":
		return h.handleStart(ctx, msg)
	case "/status":
		return h.handleStatus(ctx, msg.UserID, msg.ChatID, nil)
	case "/folders":
		return h.handleFolders(ctx, msg.UserID, msg.ChatID, nil)
	case "/help":
		return h.handleHelp(ctx, msg.ChatID, nil)
	default:
		_, err := h.transport.Send(ctx, msg.ChatID, "Unknown command. Use /help to see what I can do.", nil)
		return err
	}
}

func (h *Handlers) handleStart(ctx context.Context, msg Message) error {
	markup := (&Markup{}).
		Row(Button{Label: "🔗 Connect Google Drive", Data: cbConnect}).
		Row(
			Button{Label: "📁 Browse Folders", Data: cbBrowseFolders},
			Button{Label: "ℹ️ Help", Data: cbHelp},
		)
	_, err := h.transport.Send(ctx, msg.ChatID, welcomeText, markup)
	return err
}

// handleStatus renders connection state, account identity and storage
// usage. When editRef is non-nil the existing message is updated in place
// (the refresh-status callback path).
func (h *Handlers) handleStatus(ctx context.Context, userID, chatID int64, editRef *MessageRef) error {
	rec, err := h.sessions.Record(ctx, userID)
	if err != nil {
		return h.deliver(ctx, chatID, editRef, userMessage(err), nil)
	}

	if rec.Credential == nil {
		markup := (&Markup{}).Row(Button{Label: "🔗 Connect Google Drive", Data: cbConnect})
		text := "❌ **Google Drive Not Connected**\n\n" +
			"You need to connect your Google Drive account first to upload files.\n\n" +
			"Click the button below to start the authentication process."
		return h.deliver(ctx, chatID, editRef, text, markup)
	}

	var info *drive.AccountInfo
	err = h.withClient(ctx, userID, func(c drive.Client) error {
		var err error
		info, err = c.About(ctx)
		return err
	})
	if err != nil {
		h.logger.Warn("status check failed", "user_id", userID, "error", err)
		markup := (&Markup{}).Row(Button{Label: "🔗 Reconnect Google Drive", Data: cbConnect})
		text := "⚠️ **Connection Error**\n\n" +
			"Unable to verify your Google Drive connection. Your authentication may have expired.\n\n" +
			"Please reconnect your account."
		return h.deliver(ctx, chatID, editRef, text, markup)
	}

	defaultFolder := "📁 Root (My Drive)"
	if rec.DefaultFolderID != "" {
		defaultFolder = "📁 Custom"
	}

	text := fmt.Sprintf(
		"✅ **Google Drive Connected**\n\n"+
			"**Account:** %s\n"+
			"**Email:** %s\n\n"+
			"**Storage:**\n"+
			"• Used: %s\n"+
			"• Total: %s\n"+
			"• Available: %s\n\n"+
			"**Settings:**\n"+
			"• Default Folder: %s\n"+
			"• Favorite Folders: %d",
		info.DisplayName,
		info.EmailAddress,
		format.Bytes(info.StorageUsed),
		format.Bytes(info.StorageLimit),
		format.Bytes(info.StorageLimit-info.StorageUsed),
		defaultFolder,
		len(rec.FavoriteFolders),
	)

	markup := (&Markup{}).
		Row(Button{Label: "📁 Manage Folders", Data: cbBrowseFolders}).
		Row(
			Button{Label: "🔄 Refresh Status", Data: cbRefreshStatus},
			Button{Label: "🔌 Disconnect", Data: cbDisconnect},
		)
	return h.deliver(ctx, chatID, editRef, text, markup)
}

// handleFolders renders the folder overview with favorites, the default
// marker and management controls.
func (h *Handlers) handleFolders(ctx context.Context, userID, chatID int64, editRef *MessageRef) error {
	rec, err := h.sessions.Record(ctx, userID)
	if err != nil {
		return h.deliver(ctx, chatID, editRef, userMessage(err), nil)
	}

	if rec.Credential == nil {
		markup := (&Markup{}).Row(Button{Label: "🔗 Connect Google Drive", Data: cbConnect})
		text := "❌ **Google Drive Not Connected**\n\n" +
			"Connect your Google Drive account first to browse folders."
		return h.deliver(ctx, chatID, editRef, text, markup)
	}

	var folders []drive.Folder
	err = h.withClient(ctx, userID, func(c drive.Client) error {
		var err error
		folders, err = c.ListFolders(ctx, "")
		return err
	})
	if err != nil {
		h.logger.Warn("folder listing failed", "user_id", userID, "error", err)
		return h.deliver(ctx, chatID, editRef, userMessage(err), nil)
	}

	if len(folders) == 0 {
		markup := (&Markup{}).
			Row(Button{Label: "📁 Create First Folder", Data: cbCreateFolder}).
			Row(Button{Label: "🔄 Refresh", Data: cbBrowseFolders})
		text := "📁 **No Folders Found**\n\n" +
			"You don't have any folders in your Google Drive yet.\n" +
			"Create your first folder, or uploads will go to the root directory."
		return h.deliver(ctx, chatID, editRef, text, markup)
	}

	markup := &Markup{}
	if len(rec.FavoriteFolders) > 0 {
		markup.Row(Button{Label: "⭐ Favorites", Data: cbShowFavorites})
	}
	shown := folders
	if len(shown) > 8 {
		shown = shown[:8]
	}
	for _, f := range shown {
		emoji := "📁"
		if f.ID == rec.DefaultFolderID {
			emoji = "🏠"
		}
		markup.Row(Button{Label: emoji + " " + format.Truncate(f.Name, folderLabelMax), Data: cbFolderPrefix + f.ID})
	}
	if len(folders) > 8 {
		markup.Row(Button{Label: "📄 Show All", Data: cbShowAllFolders})
	}
	markup.Row(Button{Label: "🆕 Create Folder", Data: cbCreateFolder})

	defaultName := "Root (My Drive)"
	if rec.DefaultFolderID != "" {
		defaultName = "Unknown"
		for _, f := range folders {
			if f.ID == rec.DefaultFolderID {
				defaultName = f.Name
				break
			}
		}
	}

	text := fmt.Sprintf(
		"📁 **Your Google Drive Folders**\n\n"+
			"🏠 Default: %s\n"+
			"⭐ Favorites: %d\n"+
			"📊 Total Folders: %d\n\n"+
			"Select a folder to manage or set as default:",
		defaultName, len(rec.FavoriteFolders), len(folders),
	)
	return h.deliver(ctx, chatID, editRef, text, markup)
}

func (h *Handlers) handleHelp(ctx context.Context, chatID int64, editRef *MessageRef) error {
	return h.deliver(ctx, chatID, editRef, helpText, nil)
}

// deliver sends a new message or edits an existing one, depending on
// whether the caller came from a command or a callback.
func (h *Handlers) deliver(ctx context.Context, chatID int64, editRef *MessageRef, text string, markup *Markup) error {
	if editRef != nil {
		return h.transport.Edit(ctx, *editRef, text, markup)
	}
	_, err := h.transport.Send(ctx, chatID, text, markup)
	return err
}
