package bot

import (
	"context"
	"errors"
	"strings"

	"github.com/jun/drivebot/internal/drive"
)

// cbCreateFolder puts the user into folder-creation mode: their next text
// message names the folder.
func (h *Handlers) cbCreateFolder(ctx context.Context, cb Callback) error {
	h.mu.Lock()
	h.pendingFolders[cb.UserID] = pendingFolder{parentID: "", parentName: "My Drive"}
	h.mu.Unlock()

	markup := (&Markup{}).Row(Button{Label: "❌ Cancel", Data: cbCancelFolderCreate})
	h.answer(ctx, cb, "")
	return h.transport.Edit(ctx, cb.Ref,
		"🆕 **Create New Folder**\n\nSend me a name for the new folder:", markup)
}

func (h *Handlers) cbCancelFolderCreate(ctx context.Context, cb Callback) error {
	h.mu.Lock()
	delete(h.pendingFolders, cb.UserID)
	h.mu.Unlock()

	h.answer(ctx, cb, "Folder creation cancelled")
	return h.transport.Edit(ctx, cb.Ref,
		"❌ **Folder Creation Cancelled**", nil)
}

// HandleText consumes plain text messages. Only users in folder-creation
// mode get a response; everything else is ignored.
func (h *Handlers) HandleText(ctx context.Context, msg Message) error {
	h.mu.Lock()
	pending, ok := h.pendingFolders[msg.UserID]
	h.mu.Unlock()
	if !ok {
		return nil
	}

	name := strings.TrimSpace(msg.Text)
	if name == "" {
		return nil
	}

	if !validFolderName(name) {
		markup := (&Markup{}).Row(Button{Label: "❌ Cancel", Data: cbCancelFolderCreate})
		_, err := h.transport.Send(ctx, msg.ChatID,
			"❌ **Invalid Folder Name**\n\n"+
				"Folder names must:\n"+
				"• Be 1-255 characters long\n"+
				"• Not contain: / \\ ? * : | \" < >\n\n"+
				"Please try again with a valid name:", markup)
		return err
	}

	h.mu.Lock()
	delete(h.pendingFolders, msg.UserID)
	h.mu.Unlock()

	var folder *drive.Folder
	err := h.withClient(ctx, msg.UserID, func(c drive.Client) error {
		var err error
		folder, err = c.CreateFolder(ctx, name, pending.parentID)
		return err
	})
	if err != nil {
		h.logger.Warn("folder creation failed", "user_id", msg.UserID, "name", name, "error", err)
		markup := (&Markup{}).Row(
			Button{Label: "🔄 Try Again", Data: cbCreateFolder},
			Button{Label: "📁 Browse Folders", Data: cbBrowseFolders},
		)
		text := "❌ **Folder Creation Failed**\n\n" + folderCreateError(err, name)
		_, serr := h.transport.Send(ctx, msg.ChatID, text, markup)
		return errors.Join(err, serr)
	}

	markup := (&Markup{}).
		Row(Button{Label: "📁 Open Folder", Data: cbFolderPrefix + folder.ID}).
		Row(
			Button{Label: "📁 Browse Folders", Data: cbBrowseFolders},
			Button{Label: "🏠 Set as Default", Data: cbSetDefaultPrefix + folder.ID},
		)

	location := "root directory"
	if pending.parentName != "" && pending.parentName != "My Drive" {
		location = "\"" + pending.parentName + "\" folder"
	}

	_, err = h.transport.Send(ctx, msg.ChatID,
		"✅ **Folder Created Successfully!**\n\n"+
			"📁 **"+folder.Name+"**\n"+
			"📍 Location: "+location+"\n\n"+
			"Your new folder is now available in your Google Drive.", markup)
	return err
}

func folderCreateError(err error, name string) string {
	switch {
	case errors.Is(err, drive.ErrNameConflict):
		return "A folder named \"" + name + "\" already exists in this location. Please choose a different name."
	case errors.Is(err, drive.ErrQuotaExceeded):
		return "Storage quota exceeded. Please free up space in your Google Drive."
	case errors.Is(err, drive.ErrPermissionDenied):
		return "Permission denied. Please check your Google Drive connection."
	default:
		return "Failed to create folder. Please try again."
	}
}

// validFolderName rejects empty, over-long and reserved names, and names
// with characters Drive or desktop sync clients cannot handle.
func validFolderName(name string) bool {
	if len(name) == 0 || len(name) > 255 {
		return false
	}
	if strings.ContainsAny(name, `/\?*:|"<>`) {
		return false
	}
	switch strings.ToUpper(name) {
	case "CON", "PRN", "AUX", "NUL":
		return false
	}
	upper := strings.ToUpper(name)
	if len(upper) == 4 && (strings.HasPrefix(upper, "COM") || strings.HasPrefix(upper, "LPT")) {
		if upper[3] >= '1' && upper[3] <= '9' {
			return false
		}
	}
	return true
}
