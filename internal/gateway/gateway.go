// ABOUTME: Inbound message dispatch: access control, session routing, voice intake
// ABOUTME: Unknown senders are recorded for later approval and their messages dropped

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sherkenhoff/openai-telegram-assistant/internal/chat"
	"github.com/sherkenhoff/openai-telegram-assistant/internal/session"
	"github.com/sherkenhoff/openai-telegram-assistant/internal/store"
)

// Kind classifies an inbound message.
type Kind int

const (
	KindText Kind = iota
	KindVoice
	KindPhoto
	KindVideo
	KindDocument
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindVoice:
		return "voice"
	case KindPhoto:
		return "photo"
	case KindVideo:
		return "video"
	case KindDocument:
		return "document"
	}
	return "unknown"
}

// Message is one inbound message, already detached from the transport.
type Message struct {
	ChatID      int64
	Username    string
	FirstName   string
	LastName    string
	Text        string
	VoiceFileID string
	Kind        Kind
}

// Roster is the slice of the store the dispatcher consults for access.
type Roster interface {
	GetUser(ctx context.Context, chatID int64) (*store.User, error)
	EnsureUser(ctx context.Context, chatID int64, firstName, lastName, nickname string, firstContact time.Time) error
	TouchLastContact(ctx context.Context, chatID int64, t time.Time) error
}

// Sessions hands out the per-conversation session for a chat id.
type Sessions interface {
	GetOrCreate(chatID int64, admin bool) (*session.Session, bool)
}

// VoiceFetcher downloads a voice note's audio to a local file.
type VoiceFetcher interface {
	DownloadVoice(ctx context.Context, fileID, dest string) error
}

const (
	transcriptionApology = "Sorry, I could not understand that voice message."
	queueFullApology     = "I am still working through your earlier messages, please try again in a moment."
)

// Dispatcher routes inbound messages to conversation workers.
type Dispatcher struct {
	roster            Roster
	sessions          Sessions
	transcriber       chat.Transcriber
	delivery          chat.Delivery
	voice             VoiceFetcher
	transcriptionsDir string
	logger            *slog.Logger
	now               func() time.Time
}

func NewDispatcher(roster Roster, sessions Sessions, transcriber chat.Transcriber, delivery chat.Delivery, voice VoiceFetcher, transcriptionsDir string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		roster:            roster,
		sessions:          sessions,
		transcriber:       transcriber,
		delivery:          delivery,
		voice:             voice,
		transcriptionsDir: transcriptionsDir,
		logger:            logger.With("component", "gateway"),
		now:               time.Now,
	}
}

// Handle processes one inbound message. Messages from unknown or disallowed
// senders are dropped after recording the sender for later approval.
func (d *Dispatcher) Handle(ctx context.Context, msg *Message) error {
	logger := d.logger.With("chat_id", msg.ChatID)

	u, err := d.roster.GetUser(ctx, msg.ChatID)
	if errors.Is(err, store.ErrNotFound) {
		// Not every Telegram account has a username; the chat id keeps the
		// nickname column meaningful for the admin listings
		nickname := msg.Username
		if nickname == "" {
			nickname = strconv.FormatInt(msg.ChatID, 10)
		}
		logger.Info("first contact from unknown user", "nickname", nickname)
		if err := d.roster.EnsureUser(ctx, msg.ChatID, msg.FirstName, msg.LastName, nickname, d.now()); err != nil {
			return fmt.Errorf("recording unknown user: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("looking up user: %w", err)
	}
	if !u.Allowed {
		logger.Info("dropping message from disallowed user")
		return nil
	}

	now := d.now()
	if err := d.roster.TouchLastContact(ctx, msg.ChatID, now); err != nil {
		logger.Error("updating last contact failed", "error", err)
	}
	sess, _ := d.sessions.GetOrCreate(msg.ChatID, u.Admin)
	sess.Touch(now)

	switch msg.Kind {
	case KindText:
		d.enqueue(ctx, sess, msg.Text, logger)
	case KindVoice:
		// Transcription is slow; do not block the update loop on it
		go d.transcribeAndEnqueue(ctx, sess, msg.VoiceFileID, logger)
	default:
		logger.Info("dropping unsupported message", "kind", msg.Kind.String())
	}
	return nil
}

func (d *Dispatcher) enqueue(ctx context.Context, sess *session.Session, text string, logger *slog.Logger) {
	select {
	case sess.Queue <- text:
	case <-ctx.Done():
	default:
		logger.Warn("session queue full, dropping prompt")
		if err := d.delivery.SendText(ctx, sess.ChatID, queueFullApology); err != nil {
			logger.Error("sending queue apology failed", "error", err)
		}
	}
}

func (d *Dispatcher) transcribeAndEnqueue(ctx context.Context, sess *session.Session, fileID string, logger *slog.Logger) {
	if err := os.MkdirAll(d.transcriptionsDir, 0o755); err != nil {
		logger.Error("creating transcriptions directory failed", "error", err)
		d.apologize(ctx, sess, logger)
		return
	}

	dest := filepath.Join(d.transcriptionsDir, fmt.Sprintf("voice-%d.ogg", d.now().UnixNano()))
	if err := d.voice.DownloadVoice(ctx, fileID, dest); err != nil {
		logger.Error("downloading voice note failed", "error", err)
		d.apologize(ctx, sess, logger)
		return
	}
	defer os.Remove(dest)

	text, err := d.transcriber.Transcribe(ctx, dest)
	if err != nil {
		logger.Error("transcription failed", "error", err)
		d.apologize(ctx, sess, logger)
		return
	}

	logger.Info("voice note transcribed", "chars", len(text))
	d.enqueue(ctx, sess, text, logger)
}

func (d *Dispatcher) apologize(ctx context.Context, sess *session.Session, logger *slog.Logger) {
	if err := d.delivery.SendText(ctx, sess.ChatID, transcriptionApology); err != nil {
		logger.Error("sending transcription apology failed", "error", err)
	}
}
