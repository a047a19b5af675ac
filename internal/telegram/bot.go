// ABOUTME: Telegram transport: long-poll intake, outbound delivery, voice download
// ABOUTME: Converts Telegram updates into the gateway's transport-free messages

package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/sherkenhoff/openai-telegram-assistant/internal/gateway"
)

// Bot implements chat.Delivery and gateway.VoiceFetcher over the Telegram
// bot API, and feeds inbound updates to the dispatcher.
type Bot struct {
	api    *tgbotapi.BotAPI
	client *http.Client
	logger *slog.Logger
}

func NewBot(token string, logger *slog.Logger) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connecting to telegram: %w", err)
	}
	logger = logger.With("component", "telegram")
	logger.Info("connected", "bot", api.Self.UserName)
	return &Bot{api: api, client: http.DefaultClient, logger: logger}, nil
}

// Poll long-polls for updates and hands each message to handle until ctx is
// cancelled.
func (b *Bot) Poll(ctx context.Context, handle func(ctx context.Context, msg *gateway.Message)) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 40
	updates := b.api.GetUpdatesChan(cfg)

	b.logger.Info("polling for updates")
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("polling stopped")
			return
		case update := <-updates:
			if update.Message == nil {
				continue
			}
			handle(ctx, convert(update.Message))
		}
	}
}

func convert(m *tgbotapi.Message) *gateway.Message {
	msg := &gateway.Message{
		ChatID: m.Chat.ID,
		Text:   m.Text,
	}
	if m.From != nil {
		msg.Username = m.From.UserName
		msg.FirstName = m.From.FirstName
		msg.LastName = m.From.LastName
	}
	switch {
	case m.Voice != nil:
		msg.Kind = gateway.KindVoice
		msg.VoiceFileID = m.Voice.FileID
	case len(m.Photo) > 0:
		msg.Kind = gateway.KindPhoto
	case m.Video != nil:
		msg.Kind = gateway.KindVideo
	case m.Document != nil:
		msg.Kind = gateway.KindDocument
	default:
		msg.Kind = gateway.KindText
	}
	return msg
}

// SendText delivers a markdown-formatted text message.
func (b *Bot) SendText(_ context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

// SendPhoto delivers the image file at path.
func (b *Bot) SendPhoto(_ context.Context, chatID int64, path string) error {
	if _, err := b.api.Send(tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(path))); err != nil {
		return fmt.Errorf("sending photo: %w", err)
	}
	return nil
}

// SendVoice delivers audio bytes as a voice message.
func (b *Bot) SendVoice(_ context.Context, chatID int64, name string, audio []byte) error {
	voice := tgbotapi.NewVoice(chatID, tgbotapi.FileBytes{Name: name, Bytes: audio})
	if _, err := b.api.Send(voice); err != nil {
		return fmt.Errorf("sending voice message: %w", err)
	}
	return nil
}

// DownloadVoice fetches a voice note's audio into the file at dest.
func (b *Bot) DownloadVoice(ctx context.Context, fileID, dest string) error {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return fmt.Errorf("resolving voice file url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building voice download request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading voice file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading voice file: unexpected status %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating voice file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("writing voice file: %w", err)
	}
	return nil
}
