package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jun/drivebot/internal/drive"
	"github.com/jun/drivebot/internal/format"
	"github.com/jun/drivebot/internal/model"
	"github.com/jun/drivebot/internal/session"
)

// Static callback data values and the prefixes of dynamic ones.
const (
	cbConnect             = "connect_gdrive"
	cbCancelAuth          = "cancel_auth"
	cbCheckAuth           = "check_auth_status"
	cbDisconnect          = "disconnect_gdrive"
	cbRefreshStatus       = "refresh_status"
	cbBrowseFolders       = "browse_folders"
	cbShowFavorites       = "show_favorites"
	cbShowAllFolders      = "show_all_folders"
	cbCreateFolder        = "create_folder"
	cbCancelFolderCreate  = "cancel_folder_creation"
	cbUploadRoot          = "upload_to_root"
	cbBrowseUploadFolders = "browse_upload_folders"
	cbCancelUpload        = "cancel_upload"
	cbUploadAnother       = "upload_another"
	cbHelp                = "help"

	cbFolderPrefix         = "folder_"
	cbUploadToPrefix       = "upload_to_"
	cbSetDefaultPrefix     = "set_default_"
	cbAddFavoritePrefix    = "add_favorite_"
	cbRemoveFavoritePrefix = "remove_favorite_"
)

// HandleCallback dispatches an inline-keyboard press.
func (h *Handlers) HandleCallback(ctx context.Context, cb Callback) error {
	switch cb.Data {
	case cbConnect:
		return h.cbConnect(ctx, cb)
	case cbCancelAuth:
		return h.cbCancelAuth(ctx, cb)
	case cbCheckAuth:
		return h.cbCheckAuth(ctx, cb)
	case cbDisconnect:
		return h.cbDisconnect(ctx, cb)
	case cbRefreshStatus:
		h.answer(ctx, cb, "Refreshing status...")
		return h.handleStatus(ctx, cb.UserID, cb.Ref.ChatID, &cb.Ref)
	case cbBrowseFolders:
		h.answer(ctx, cb, "")
		return h.handleFolders(ctx, cb.UserID, cb.Ref.ChatID, &cb.Ref)
	case cbShowFavorites:
		return h.cbShowFavorites(ctx, cb)
	case cbShowAllFolders:
		return h.cbShowAllFolders(ctx, cb)
	case cbCreateFolder:
		return h.cbCreateFolder(ctx, cb)
	case cbCancelFolderCreate:
		return h.cbCancelFolderCreate(ctx, cb)
	case cbUploadRoot:
		return h.performUpload(ctx, cb, "")
	case cbBrowseUploadFolders:
		return h.cbBrowseUploadFolders(ctx, cb)
	case cbCancelUpload:
		return h.cbCancelUpload(ctx, cb)
	case cbUploadAnother:
		h.answer(ctx, cb, "")
		return h.transport.Edit(ctx, cb.Ref,
			"📤 **Upload Another File**\n\nSend any file (document, photo, video, etc.) to upload it to your Google Drive!", nil)
	case cbHelp:
		h.answer(ctx, cb, "")
		return h.handleHelp(ctx, cb.Ref.ChatID, &cb.Ref)
	}

	switch {
	case strings.HasPrefix(cb.Data, cbUploadToPrefix):
		return h.performUpload(ctx, cb, strings.TrimPrefix(cb.Data, cbUploadToPrefix))
	case strings.HasPrefix(cb.Data, cbSetDefaultPrefix):
		return h.cbSetDefault(ctx, cb, strings.TrimPrefix(cb.Data, cbSetDefaultPrefix))
	case strings.HasPrefix(cb.Data, cbAddFavoritePrefix):
		return h.cbAddFavorite(ctx, cb, strings.TrimPrefix(cb.Data, cbAddFavoritePrefix))
	case strings.HasPrefix(cb.Data, cbRemoveFavoritePrefix):
		return h.cbRemoveFavorite(ctx, cb, strings.TrimPrefix(cb.Data, cbRemoveFavoritePrefix))
	case strings.HasPrefix(cb.Data, cbFolderPrefix):
		return h.cbFolderDetail(ctx, cb, strings.TrimPrefix(cb.Data, cbFolderPrefix))
	}

	h.answer(ctx, cb, "")
	return nil
}

// answer acknowledges the callback; failures are logged, not propagated,
// since the main response is the message edit.
func (h *Handlers) answer(ctx context.Context, cb Callback, text string) {
	if err := h.transport.AnswerCallback(ctx, cb.ID, text); err != nil {
		h.logger.Warn("failed to answer callback", "user_id", cb.UserID, "error", err)
	}
}

// cbConnect starts a device authorization flow and shows the user code.
// Pressing it again replaces the previous flow.
func (h *Handlers) cbConnect(ctx context.Context, cb Callback) error {
	flow, err := h.flows.Begin(ctx, cb.UserID)
	if err != nil {
		h.logger.Error("device flow start failed", "user_id", cb.UserID, "error", err)
		h.answer(ctx, cb, "❌ Error starting authorization process")
		return err
	}

	h.setAuthPrompt(cb.UserID, cb.Ref)

	markup := (&Markup{}).
		Row(Button{Label: "🔗 Open Google Device Page", URL: flow.VerificationURL}).
		Row(
			Button{Label: "🔄 Check Status", Data: cbCheckAuth},
			Button{Label: "❌ Cancel", Data: cbCancelAuth},
		)

	minutes := int(time.Until(flow.ExpiresAt).Minutes())

	text := "🔐 **Google Drive Device Authorization**\n\n" +
		"**Step 1:** Click \"Open Google Device Page\" below\n" +
		"**Step 2:** Sign in to your Google account\n" +
		"**Step 3:** Enter this code when prompted:\n\n" +
		"🔢 **" + flow.UserCode + "**\n\n" +
		"**Step 4:** Grant permissions and return here\n" +
		"**Step 5:** Click \"Check Status\" or wait - I'll detect it automatically!\n\n" +
		fmt.Sprintf("⏰ Code expires in %d minutes\n\n", minutes) +
		"✅ No copy/paste needed - just enter the code above on Google's page!"

	h.answer(ctx, cb, "")
	return h.transport.Edit(ctx, cb.Ref, text, markup)
}

func (h *Handlers) cbCancelAuth(ctx context.Context, cb Callback) error {
	if err := h.flows.Cancel(ctx, cb.UserID); err != nil {
		h.logger.Error("device flow cancel failed", "user_id", cb.UserID, "error", err)
		h.answer(ctx, cb, "❌ Error cancelling authorization")
		return err
	}
	h.clearAuthPrompt(cb.UserID)

	markup := (&Markup{}).Row(Button{Label: "🔗 Connect Google Drive", Data: cbConnect})
	h.answer(ctx, cb, "Authorization cancelled")
	return h.transport.Edit(ctx, cb.Ref,
		"❌ **Authorization Cancelled**\n\nGoogle Drive authorization has been cancelled. You can try again anytime.",
		markup)
}

// cbCheckAuth reports on the in-flight flow. The poller is authoritative;
// this only reads stored state and never polls the provider itself.
func (h *Handlers) cbCheckAuth(ctx context.Context, cb Callback) error {
	flow, err := h.sessions.DeviceFlow(ctx, cb.UserID)
	if err != nil {
		h.answer(ctx, cb, "❌ Error checking status")
		return err
	}

	if flow == nil {
		rec, err := h.sessions.Record(ctx, cb.UserID)
		if err == nil && rec.Credential != nil {
			h.answer(ctx, cb, "✅ Already connected")
			return nil
		}
		h.answer(ctx, cb, "❌ No active authorization process")
		return nil
	}

	if flow.Expired() {
		if err := h.flows.Cancel(ctx, cb.UserID); err != nil {
			h.logger.Warn("failed to clear expired flow", "user_id", cb.UserID, "error", err)
		}
		h.clearAuthPrompt(cb.UserID)
		h.answer(ctx, cb, "Authorization expired")
		markup := (&Markup{}).Row(Button{Label: "🔗 Try Again", Data: cbConnect})
		return h.transport.Edit(ctx, cb.Ref,
			"⏰ **Authorization Expired**\n\nThe authorization code has expired. Please start over.",
			markup)
	}

	h.answer(ctx, cb, "⏳ Still waiting for authorization...")
	return nil
}

func (h *Handlers) cbDisconnect(ctx context.Context, cb Callback) error {
	if err := h.sessions.Disconnect(ctx, cb.UserID); err != nil {
		h.logger.Error("disconnect failed", "user_id", cb.UserID, "error", err)
		h.answer(ctx, cb, "❌ Error disconnecting Google Drive")
		return err
	}

	markup := (&Markup{}).Row(Button{Label: "🔗 Reconnect Google Drive", Data: cbConnect})
	h.answer(ctx, cb, "Google Drive disconnected")
	return h.transport.Edit(ctx, cb.Ref,
		"✅ **Google Drive Disconnected**\n\n"+
			"Your Google Drive account has been disconnected and all stored credentials have been removed.\n\n"+
			"You can reconnect anytime to continue using the bot.",
		markup)
}

func (h *Handlers) cbShowFavorites(ctx context.Context, cb Callback) error {
	rec, err := h.sessions.Record(ctx, cb.UserID)
	if err != nil {
		h.answer(ctx, cb, "❌ Error loading favorites")
		return err
	}
	if len(rec.FavoriteFolders) == 0 {
		h.answer(ctx, cb, "No favorite folders found")
		return nil
	}

	markup := &Markup{}
	for _, fav := range rec.FavoriteFolders {
		markup.Row(Button{Label: "⭐ " + format.Truncate(fav.Name, folderLabelMax), Data: cbFolderPrefix + fav.ID})
	}
	markup.Row(Button{Label: "🔙 Back to Folders", Data: cbBrowseFolders})

	h.answer(ctx, cb, "")
	return h.transport.Edit(ctx, cb.Ref,
		fmt.Sprintf("⭐ **Favorite Folders**\n\nYou have %d favorite folders:", len(rec.FavoriteFolders)),
		markup)
}

func (h *Handlers) cbShowAllFolders(ctx context.Context, cb Callback) error {
	rec, err := h.sessions.Record(ctx, cb.UserID)
	if err != nil {
		h.answer(ctx, cb, "❌ Error loading folders")
		return err
	}

	var folders []drive.Folder
	err = h.withClient(ctx, cb.UserID, func(c drive.Client) error {
		var err error
		folders, err = c.ListFolders(ctx, "")
		return err
	})
	if err != nil {
		h.answer(ctx, cb, userMessage(err))
		return err
	}

	markup := &Markup{}
	shown := folders
	if len(shown) > 20 {
		shown = shown[:20]
	}
	for _, f := range shown {
		emoji := "📁"
		if f.ID == rec.DefaultFolderID {
			emoji = "🏠"
		}
		markup.Row(Button{Label: emoji + " " + format.Truncate(f.Name, folderLabelMax), Data: cbFolderPrefix + f.ID})
	}
	markup.Row(Button{Label: "🔙 Back to Folders", Data: cbBrowseFolders})

	h.answer(ctx, cb, "")
	return h.transport.Edit(ctx, cb.Ref,
		fmt.Sprintf("📁 **All Folders (%d total)**\n\nSelect a folder to manage:", len(folders)),
		markup)
}

// cbFolderDetail shows one folder with its management actions.
func (h *Handlers) cbFolderDetail(ctx context.Context, cb Callback, folderID string) error {
	rec, err := h.sessions.Record(ctx, cb.UserID)
	if err != nil {
		h.answer(ctx, cb, "❌ Error loading folder")
		return err
	}

	folder, err := h.findFolder(ctx, cb.UserID, folderID)
	if err != nil {
		h.answer(ctx, cb, userMessage(err))
		return err
	}
	if folder == nil {
		h.answer(ctx, cb, "❌ Folder not found")
		return nil
	}

	isDefault := rec.DefaultFolderID == folderID
	isFavorite := rec.IsFavorite(folderID)

	markup := &Markup{}
	if !isDefault {
		markup.Row(Button{Label: "🏠 Set as Default", Data: cbSetDefaultPrefix + folderID})
	}
	if isFavorite {
		markup.Row(Button{Label: "💔 Remove from Favorites", Data: cbRemoveFavoritePrefix + folderID})
	} else {
		markup.Row(Button{Label: "⭐ Add to Favorites", Data: cbAddFavoritePrefix + folderID})
	}
	markup.Row(Button{Label: "🔙 Back to Folders", Data: cbBrowseFolders})

	var status []string
	if isDefault {
		status = append(status, "🏠 Default Folder")
	}
	if isFavorite {
		status = append(status, "⭐ Favorite")
	}
	text := "📁 **" + folder.Name + "**"
	if len(status) > 0 {
		text += "\n" + strings.Join(status, " • ")
	}
	text += "\n\nWhat would you like to do with this folder?"

	h.answer(ctx, cb, "")
	return h.transport.Edit(ctx, cb.Ref, text, markup)
}

func (h *Handlers) cbSetDefault(ctx context.Context, cb Callback, folderID string) error {
	err := h.sessions.UpdatePreferences(ctx, cb.UserID, session.Prefs{DefaultFolderID: &folderID})
	if err != nil {
		h.answer(ctx, cb, "❌ Error updating default folder")
		return err
	}
	h.answer(ctx, cb, "✅ Default folder updated")
	return h.cbFolderDetail(ctx, Callback{ID: "", UserID: cb.UserID, Ref: cb.Ref}, folderID)
}

func (h *Handlers) cbAddFavorite(ctx context.Context, cb Callback, folderID string) error {
	folder, err := h.findFolder(ctx, cb.UserID, folderID)
	if err != nil {
		h.answer(ctx, cb, userMessage(err))
		return err
	}
	if folder == nil {
		h.answer(ctx, cb, "❌ Folder not found")
		return nil
	}

	err = h.sessions.AddFavorite(ctx, cb.UserID, model.FavoriteFolder{ID: folderID, Name: folder.Name})
	if err != nil {
		h.answer(ctx, cb, "❌ "+err.Error())
		return err
	}
	h.answer(ctx, cb, "⭐ Added to favorites")
	return h.cbFolderDetail(ctx, Callback{ID: "", UserID: cb.UserID, Ref: cb.Ref}, folderID)
}

func (h *Handlers) cbRemoveFavorite(ctx context.Context, cb Callback, folderID string) error {
	if err := h.sessions.RemoveFavorite(ctx, cb.UserID, folderID); err != nil {
		h.answer(ctx, cb, "❌ Error removing favorite")
		return err
	}
	h.answer(ctx, cb, "💔 Removed from favorites")
	return h.cbFolderDetail(ctx, Callback{ID: "", UserID: cb.UserID, Ref: cb.Ref}, folderID)
}

// findFolder looks a folder up by id among the root-level folders.
func (h *Handlers) findFolder(ctx context.Context, userID int64, folderID string) (*drive.Folder, error) {
	var found *drive.Folder
	err := h.withClient(ctx, userID, func(c drive.Client) error {
		folders, err := c.ListFolders(ctx, "")
		if err != nil {
			return err
		}
		for i := range folders {
			if folders[i].ID == folderID {
				found = &folders[i]
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}
