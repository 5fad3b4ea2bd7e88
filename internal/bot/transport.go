// Package bot implements the chat surface: commands, callback queries and
// file messages, translated into calls against the session manager, the
// authorizer, the upload stager and Drive. The chat platform itself is
// reached through the Transport interface so handlers stay testable.
package bot

import "context"

// MessageRef identifies a sent message so it can be edited later.
type MessageRef struct {
	ChatID    int64
	MessageID int64
}

// Button is one inline-keyboard button. Exactly one of Data and URL is set.
type Button struct {
	Label string
	Data  string
	URL   string
}

// Markup is an inline keyboard: rows of buttons.
type Markup struct {
	Rows [][]Button
}

// Row appends a row of buttons and returns the markup for chaining.
func (m *Markup) Row(buttons ...Button) *Markup {
	m.Rows = append(m.Rows, buttons)
	return m
}

// Transport sends messages to the chat platform and fetches user files
// from it.
type Transport interface {
	// Send posts a new message to the chat, optionally with a keyboard.
	Send(ctx context.Context, chatID int64, text string, markup *Markup) (MessageRef, error)

	// Edit replaces the text and keyboard of a previously sent message.
	Edit(ctx context.Context, ref MessageRef, text string, markup *Markup) error

	// AnswerCallback acknowledges a callback query, optionally with a
	// short notification text.
	AnswerCallback(ctx context.Context, callbackID, text string) error

	// Download fetches the raw bytes of a file the user sent.
	Download(ctx context.Context, fileID string) ([]byte, error)
}

// Message is an incoming text message.
type Message struct {
	UserID int64
	ChatID int64
	Text   string
}

// FileMessage is an incoming file attachment of any kind.
type FileMessage struct {
	UserID   int64
	ChatID   int64
	FileID   string
	FileName string
	MimeType string
	Size     int64
}

// Callback is an incoming callback-query press on an inline keyboard.
type Callback struct {
	ID     string
	UserID int64
	Ref    MessageRef
	Data   string
}
