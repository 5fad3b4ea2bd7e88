package bot

import (
	"errors"

	"github.com/jun/drivebot/internal/auth"
	"github.com/jun/drivebot/internal/drive"
	"github.com/jun/drivebot/internal/upload"
)

// userMessage maps an internal error to the text shown to the user.
// Unrecognized errors get a generic message; details stay in the logs.
func userMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrNotAuthenticated):
		return "❌ Google Drive not connected. Use /start to connect your account."
	case errors.Is(err, auth.ErrAuthExpired):
		return "❌ Google Drive authentication expired. Please reconnect your account using /status."
	case errors.Is(err, auth.ErrProviderUnavailable):
		return "🌐 Google Drive is temporarily unavailable. Please try again in a moment."
	case errors.Is(err, drive.ErrQuotaExceeded):
		return "💾 Not enough Google Drive storage space."
	case errors.Is(err, drive.ErrPermissionDenied):
		return "🔒 Permission denied. Please check your Google Drive access."
	case errors.Is(err, drive.ErrNameConflict):
		return "❌ A folder with that name already exists. Please choose a different name."
	case errors.Is(err, upload.ErrFileTooLarge):
		return "📄 File is too large. Maximum size is 20MB."
	case errors.Is(err, upload.ErrUploadSessionExpired):
		return "⌛ Upload session expired. Please send the file again."
	default:
		return "❌ An unexpected error occurred. Please try again."
	}
}
