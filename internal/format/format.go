// Package format holds small text-formatting helpers for bot messages.
package format

import "fmt"

// Bytes renders a byte count in human-readable units.
func Bytes(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	units := []string{"B", "KB", "MB", "GB", "TB"}
	value := float64(n)
	i := 0
	for value >= 1024 && i < len(units)-1 {
		value /= 1024
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%d B", n)
	}
	return fmt.Sprintf("%.2f %s", value, units[i])
}

// FileTypeLabel maps a MIME type to a short human label.
func FileTypeLabel(mimeType string) string {
	labels := map[string]string{
		"image/jpeg":      "Image",
		"image/png":       "Image",
		"image/gif":       "GIF",
		"video/mp4":       "Video",
		"video/quicktime": "Video",
		"audio/mpeg":      "Audio",
		"audio/ogg":       "Audio",
		"audio/wav":       "Audio",
		"application/pdf": "PDF",
		"application/zip": "Archive",
		"text/plain":      "Text",
	}
	if label, ok := labels[mimeType]; ok {
		return label
	}
	return "File"
}

// Truncate shortens text to at most max runes, appending an ellipsis when
// something was cut.
func Truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
