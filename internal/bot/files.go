package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/jun/drivebot/internal/drive"
	"github.com/jun/drivebot/internal/format"
	"github.com/jun/drivebot/internal/model"
	"github.com/jun/drivebot/internal/session"
	"github.com/jun/drivebot/internal/upload"
)

// HandleFile downloads an incoming attachment, stages it, and asks the
// user for a destination folder. Sending a second file before choosing a
// destination replaces the first.
func (h *Handlers) HandleFile(ctx context.Context, msg FileMessage) error {
	rec, err := h.sessions.Record(ctx, msg.UserID)
	if err != nil {
		_, serr := h.transport.Send(ctx, msg.ChatID, userMessage(err), nil)
		return errors.Join(err, serr)
	}

	if rec.Credential == nil {
		markup := (&Markup{}).Row(Button{Label: "🔗 Connect Google Drive", Data: cbConnect})
		_, err := h.transport.Send(ctx, msg.ChatID,
			"❌ **Google Drive Not Connected**\n\nPlease connect your Google Drive account first to upload files.",
			markup)
		return err
	}

	if msg.Size > upload.MaxFileSize {
		_, err := h.transport.Send(ctx, msg.ChatID,
			"❌ **File Too Large**\n\nThe file exceeds the 20MB limit.\nPlease try uploading a smaller file.", nil)
		return err
	}

	progress, err := h.transport.Send(ctx, msg.ChatID, "⏳ Processing file...", nil)
	if err != nil {
		return err
	}

	payload, err := h.transport.Download(ctx, msg.FileID)
	if err != nil {
		h.logger.Error("file download failed", "user_id", msg.UserID, "error", err)
		return h.transport.Edit(ctx, progress,
			"❌ **Upload Failed**\n\nSorry, there was an error processing your file. Please try again.", nil)
	}

	entry, err := h.stager.Stage(msg.UserID, payload, msg.FileName, msg.MimeType)
	if err != nil {
		h.logger.Error("staging failed", "user_id", msg.UserID, "error", err)
		return h.transport.Edit(ctx, progress, userMessage(err), nil)
	}

	return h.showDestinationPicker(ctx, msg.UserID, progress, entry, rec)
}

// showDestinationPicker offers root, the default folder, the most recent
// destination and pinned favorites, plus full browsing.
func (h *Handlers) showDestinationPicker(ctx context.Context, userID int64, ref MessageRef, entry *upload.PendingUpload, rec *model.UserRecord) error {
	var folders []drive.Folder
	err := h.withClient(ctx, userID, func(c drive.Client) error {
		var err error
		folders, err = c.ListFolders(ctx, "")
		return err
	})
	if err != nil {
		h.logger.Warn("folder listing for destination picker failed", "user_id", userID, "error", err)
		// Still offer root so the upload is not lost.
		folders = nil
	}

	byID := make(map[string]drive.Folder, len(folders))
	for _, f := range folders {
		byID[f.ID] = f
	}

	markup := (&Markup{}).Row(Button{Label: "📁 My Drive (Root)", Data: cbUploadRoot})

	if rec.DefaultFolderID != "" {
		if f, ok := byID[rec.DefaultFolderID]; ok {
			markup.Row(Button{Label: "🏠 " + format.Truncate(f.Name, folderLabelMax) + " (Default)", Data: cbUploadToPrefix + f.ID})
		}
	}
	if last := rec.LastUploadFolderID; last != "" && last != rec.DefaultFolderID {
		if f, ok := byID[last]; ok {
			markup.Row(Button{Label: "🕒 " + format.Truncate(f.Name, folderLabelMax) + " (Recent)", Data: cbUploadToPrefix + f.ID})
		}
	}
	for i, fav := range rec.FavoriteFolders {
		if i == 3 {
			break
		}
		markup.Row(Button{Label: "⭐ " + format.Truncate(fav.Name, folderLabelMax), Data: cbUploadToPrefix + fav.ID})
	}
	if len(folders) > 0 {
		markup.Row(Button{Label: "📄 Browse All Folders", Data: cbBrowseUploadFolders})
	}
	markup.Row(Button{Label: "❌ Cancel Upload", Data: cbCancelUpload})

	text := fmt.Sprintf(
		"📎 **Ready to Upload**\n\n"+
			"**File:** %s\n"+
			"**Size:** %s\n"+
			"**Type:** %s\n\n"+
			"Select destination folder:",
		entry.FileName, format.Bytes(entry.SizeBytes), format.FileTypeLabel(entry.MimeType),
	)
	return h.transport.Edit(ctx, ref, text, markup)
}

// cbBrowseUploadFolders replaces the quick picker with the full folder
// list as upload destinations.
func (h *Handlers) cbBrowseUploadFolders(ctx context.Context, cb Callback) error {
	if h.stager.Peek(cb.UserID) == nil {
		h.answer(ctx, cb, userMessage(upload.ErrUploadSessionExpired))
		return nil
	}

	var folders []drive.Folder
	err := h.withClient(ctx, cb.UserID, func(c drive.Client) error {
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
	if len(shown) > 15 {
		shown = shown[:15]
	}
	for _, f := range shown {
		markup.Row(Button{Label: "📁 " + format.Truncate(f.Name, folderLabelMax), Data: cbUploadToPrefix + f.ID})
	}
	markup.Row(Button{Label: "📁 My Drive (Root)", Data: cbUploadRoot})
	markup.Row(Button{Label: "❌ Cancel Upload", Data: cbCancelUpload})

	h.answer(ctx, cb, "")
	return h.transport.Edit(ctx, cb.Ref,
		"📁 **Select Upload Destination**\n\nChoose where to upload your file:", markup)
}

func (h *Handlers) cbCancelUpload(ctx context.Context, cb Callback) error {
	if entry := h.stager.Consume(cb.UserID); entry != nil {
		h.stager.Release(entry)
	}
	h.answer(ctx, cb, "Upload cancelled")
	return h.transport.Edit(ctx, cb.Ref,
		"❌ **Upload Cancelled**\n\nYour file upload has been cancelled.", nil)
}

// performUpload commits the staged file to the chosen folder ("" means
// the Drive root) and records the destination for next time.
func (h *Handlers) performUpload(ctx context.Context, cb Callback, folderID string) error {
	entry := h.stager.Consume(cb.UserID)
	if entry == nil {
		h.answer(ctx, cb, "")
		return h.transport.Edit(ctx, cb.Ref,
			"❌ **Upload Failed**\n\n"+userMessage(upload.ErrUploadSessionExpired), nil)
	}
	defer h.stager.Release(entry)

	h.answer(ctx, cb, "")
	if err := h.transport.Edit(ctx, cb.Ref,
		fmt.Sprintf("⬆️ **Uploading to Google Drive...**\n\n📎 %s\n📊 %s",
			entry.FileName, format.Bytes(entry.SizeBytes)), nil); err != nil {
		h.logger.Warn("failed to show upload progress", "user_id", cb.UserID, "error", err)
	}

	payload, err := entry.Bytes()
	if err != nil {
		h.logger.Error("staged payload read failed", "user_id", cb.UserID, "error", err)
		return h.transport.Edit(ctx, cb.Ref,
			"❌ **Upload Failed**\n\nSorry, there was an error uploading your file to Google Drive. Please try again.", nil)
	}

	var uploaded *drive.File
	err = h.withClient(ctx, cb.UserID, func(c drive.Client) error {
		var err error
		uploaded, err = c.UploadFile(ctx, bytes.NewReader(payload), entry.FileName, entry.MimeType, folderID)
		return err
	})
	if err != nil {
		h.logger.Error("upload failed", "user_id", cb.UserID, "file", entry.FileName, "error", err)
		return h.transport.Edit(ctx, cb.Ref, "❌ **Upload Failed**\n\n"+userMessage(err), nil)
	}

	if folderID != "" {
		if err := h.sessions.UpdatePreferences(ctx, cb.UserID, session.Prefs{LastUploadFolderID: &folderID}); err != nil {
			h.logger.Warn("failed to record last upload folder", "user_id", cb.UserID, "error", err)
		}
	}

	location := "My Drive"
	if folderID != "" {
		location = "Custom Folder"
	}
	text := fmt.Sprintf(
		"✅ **Upload Successful!**\n\n"+
			"**File:** %s\n"+
			"**Size:** %s\n"+
			"**Location:** %s\n\n"+
			"The file has been successfully uploaded to your Google Drive!",
		uploaded.Name, format.Bytes(uploaded.Size), location,
	)

	markup := &Markup{}
	if uploaded.Link != "" {
		markup.Row(Button{Label: "🌐 Open in Drive", URL: uploaded.Link})
	}
	markup.Row(
		Button{Label: "📁 Browse Folders", Data: cbBrowseFolders},
		Button{Label: "📤 Upload Another", Data: cbUploadAnother},
	)
	return h.transport.Edit(ctx, cb.Ref, text, markup)
}
