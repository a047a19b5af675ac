// ABOUTME: Background maintenance: image retention and idle history expiry
// ABOUTME: Removes image files before soft-deleting their rows, oldest first

package sweeper

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sherkenhoff/openai-telegram-assistant/internal/session"
	"github.com/sherkenhoff/openai-telegram-assistant/internal/store"
)

// Pruner is the slice of the store the sweeper prunes through.
type Pruner interface {
	ListLiveImages(ctx context.Context) ([]store.Image, error)
	SoftDeleteImage(ctx context.Context, id int64, t time.Time) error
}

// Sessions walks the live sessions for idle history expiry.
type Sessions interface {
	Range(fn func(sess *session.Session))
}

// Sweeper periodically prunes generated images beyond the per-chat retention
// count and clears conversation histories idle beyond the timeout.
type Sweeper struct {
	store     Pruner
	sessions  Sessions
	imagesDir string
	interval  time.Duration
	keep      int
	idle      time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func New(store Pruner, sessions Sessions, imagesDir string, interval time.Duration, keep int, idle time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:     store,
		sessions:  sessions,
		imagesDir: imagesDir,
		interval:  interval,
		keep:      keep,
		idle:      idle,
		logger:    logger.With("component", "sweeper"),
		now:       time.Now,
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("sweeper started", "interval", s.interval, "keep_images", s.keep, "history_timeout", s.idle)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one maintenance pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.sweepImages(ctx)
	s.sweepHistories()
}

// sweepImages keeps only the newest images per chat, removing the file on
// disk before marking the row deleted so a live row always has its artifact.
func (s *Sweeper) sweepImages(ctx context.Context) {
	live, err := s.store.ListLiveImages(ctx)
	if err != nil {
		s.logger.Error("listing images failed", "error", err)
		return
	}

	// Rows arrive ordered by id, so each chat's slice is oldest first
	byChat := make(map[int64][]store.Image)
	for _, img := range live {
		byChat[img.ChatID] = append(byChat[img.ChatID], img)
	}

	for chatID, images := range byChat {
		excess := len(images) - s.keep
		for i := 0; i < excess; i++ {
			img := images[i]
			path := filepath.Join(s.imagesDir, img.Filename)
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				s.logger.Error("removing image file failed", "file", path, "error", err)
				continue
			}
			if err := s.store.SoftDeleteImage(ctx, img.ID, s.now()); err != nil {
				s.logger.Error("soft-deleting image failed", "image_id", img.ID, "error", err)
				continue
			}
			s.logger.Info("pruned image", "chat_id", chatID, "file", img.Filename)
		}
	}
}

// sweepHistories clears the transcript of every session idle past the
// timeout. The session itself stays live; only its memory is dropped.
func (s *Sweeper) sweepHistories() {
	cutoff := s.now().Add(-s.idle)
	s.sessions.Range(func(sess *session.Session) {
		if sess.HistoryLen() == 0 || sess.LastContact().After(cutoff) {
			return
		}
		sess.ClearHistory()
		s.logger.Info("cleared idle history", "chat_id", sess.ChatID)
	})
}
