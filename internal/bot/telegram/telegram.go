// Package telegram adapts the Telegram Bot API to the bot.Transport
// interface and pumps incoming updates into the handlers.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/jun/drivebot/internal/bot"
)

const downloadTimeout = 2 * time.Minute

// Transport is a bot.Transport backed by the Telegram Bot API.
type Transport struct {
	api        *tgbotapi.BotAPI
	httpClient *http.Client
	logger     *slog.Logger
}

var _ bot.Transport = (*Transport)(nil)

func New(token string, logger *slog.Logger) (*Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	logger.Info("authorized on telegram", "username", api.Self.UserName)
	return &Transport{
		api:        api,
		httpClient: &http.Client{Timeout: downloadTimeout},
		logger:     logger,
	}, nil
}

func (t *Transport) Send(ctx context.Context, chatID int64, text string, markup *bot.Markup) (bot.MessageRef, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if markup != nil {
		msg.ReplyMarkup = keyboard(markup)
	}
	sent, err := t.api.Send(msg)
	if err != nil {
		return bot.MessageRef{}, fmt.Errorf("send message: %w", err)
	}
	return bot.MessageRef{ChatID: sent.Chat.ID, MessageID: int64(sent.MessageID)}, nil
}

func (t *Transport) Edit(ctx context.Context, ref bot.MessageRef, text string, markup *bot.Markup) error {
	edit := tgbotapi.NewEditMessageText(ref.ChatID, int(ref.MessageID), text)
	edit.ParseMode = tgbotapi.ModeMarkdown
	if markup != nil {
		kb := keyboard(markup)
		edit.ReplyMarkup = &kb
	}
	if _, err := t.api.Send(edit); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

func (t *Transport) AnswerCallback(ctx context.Context, callbackID, text string) error {
	cb := tgbotapi.NewCallback(callbackID, text)
	if _, err := t.api.Request(cb); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}

func (t *Transport) Download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := t.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	return data, nil
}

// Listen long-polls Telegram for updates and dispatches them until ctx is
// cancelled.
func (t *Transport) Listen(ctx context.Context, handlers *bot.Handlers) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := t.api.GetUpdatesChan(cfg)

	for {
		select {
		case <-ctx.Done():
			t.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			t.dispatch(ctx, handlers, update)
		}
	}
}

func (t *Transport) dispatch(ctx context.Context, handlers *bot.Handlers, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		cq := update.CallbackQuery
		cb := bot.Callback{
			ID:     cq.ID,
			UserID: cq.From.ID,
			Data:   cq.Data,
		}
		if cq.Message != nil {
			cb.Ref = bot.MessageRef{ChatID: cq.Message.Chat.ID, MessageID: int64(cq.Message.MessageID)}
		}
		if err := handlers.HandleCallback(ctx, cb); err != nil {
			t.logger.Warn("callback handling failed", "data", cb.Data, "error", err)
		}

	case update.Message != nil:
		msg := update.Message
		if msg.From == nil {
			return
		}

		if file, ok := incomingFile(msg); ok {
			if err := handlers.HandleFile(ctx, file); err != nil {
				t.logger.Warn("file handling failed", "user_id", file.UserID, "error", err)
			}
			return
		}

		m := bot.Message{UserID: msg.From.ID, ChatID: msg.Chat.ID, Text: msg.Text}
		var err error
		if msg.IsCommand() {
			err = handlers.HandleCommand(ctx, m)
		} else if msg.Text != "" {
			err = handlers.HandleText(ctx, m)
		}
		if err != nil {
			t.logger.Warn("message handling failed", "user_id", m.UserID, "error", err)
		}
	}
}

// incomingFile extracts the attachment from a message, whatever its kind.
func incomingFile(msg *tgbotapi.Message) (bot.FileMessage, bool) {
	file := bot.FileMessage{UserID: msg.From.ID, ChatID: msg.Chat.ID}
	now := time.Now().Unix()

	switch {
	case msg.Document != nil:
		file.FileID = msg.Document.FileID
		file.FileName = msg.Document.FileName
		file.MimeType = msg.Document.MimeType
		file.Size = int64(msg.Document.FileSize)
		if file.FileName == "" {
			file.FileName = fmt.Sprintf("document_%d", now)
		}
		if file.MimeType == "" {
			file.MimeType = "application/octet-stream"
		}
	case len(msg.Photo) > 0:
		// Telegram sends several sizes; the last is the largest.
		p := msg.Photo[len(msg.Photo)-1]
		file.FileID = p.FileID
		file.FileName = fmt.Sprintf("photo_%d.jpg", now)
		file.MimeType = "image/jpeg"
		file.Size = int64(p.FileSize)
	case msg.Video != nil:
		file.FileID = msg.Video.FileID
		file.FileName = msg.Video.FileName
		file.MimeType = msg.Video.MimeType
		file.Size = int64(msg.Video.FileSize)
		if file.FileName == "" {
			file.FileName = fmt.Sprintf("video_%d.mp4", now)
		}
		if file.MimeType == "" {
			file.MimeType = "video/mp4"
		}
	case msg.Audio != nil:
		file.FileID = msg.Audio.FileID
		file.FileName = msg.Audio.FileName
		file.MimeType = msg.Audio.MimeType
		file.Size = int64(msg.Audio.FileSize)
		if file.FileName == "" {
			file.FileName = fmt.Sprintf("audio_%d.mp3", now)
		}
		if file.MimeType == "" {
			file.MimeType = "audio/mpeg"
		}
	case msg.Voice != nil:
		file.FileID = msg.Voice.FileID
		file.FileName = fmt.Sprintf("voice_%d.ogg", now)
		file.MimeType = "audio/ogg"
		file.Size = int64(msg.Voice.FileSize)
	case msg.VideoNote != nil:
		file.FileID = msg.VideoNote.FileID
		file.FileName = fmt.Sprintf("video_note_%d.mp4", now)
		file.MimeType = "video/mp4"
		file.Size = int64(msg.VideoNote.FileSize)
	case msg.Animation != nil:
		file.FileID = msg.Animation.FileID
		file.FileName = msg.Animation.FileName
		file.MimeType = msg.Animation.MimeType
		file.Size = int64(msg.Animation.FileSize)
		if file.FileName == "" {
			file.FileName = fmt.Sprintf("animation_%d.gif", now)
		}
		if file.MimeType == "" {
			file.MimeType = "image/gif"
		}
	default:
		return bot.FileMessage{}, false
	}
	return file, true
}

// keyboard converts the transport-agnostic markup to a Telegram inline
// keyboard.
func keyboard(markup *bot.Markup) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(markup.Rows))
	for _, row := range markup.Rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			if b.URL != "" {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(b.Label, b.URL))
			} else {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
			}
		}
		rows = append(rows, buttons)
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}
