// ABOUTME: Registry of live sessions keyed by chat id
// ABOUTME: Creating a session spawns its worker goroutine with a per-session context

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// StartFunc runs a session's worker loop. It is invoked in its own goroutine
// and must return when ctx is cancelled.
type StartFunc func(ctx context.Context, sess *Session)

// Registry owns every live session. Sessions are created on demand and live
// until the registry closes or access is revoked.
type Registry struct {
	mu       sync.RWMutex
	sessions map[int64]*Session

	baseCtx      context.Context
	defaultModel string
	queueSize    int
	start        StartFunc
	logger       *slog.Logger
}

// NewRegistry creates an empty registry. Workers started for new sessions
// inherit from baseCtx and stop when it is cancelled.
func NewRegistry(baseCtx context.Context, defaultModel string, queueSize int, start StartFunc, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions:     make(map[int64]*Session),
		baseCtx:      baseCtx,
		defaultModel: defaultModel,
		queueSize:    queueSize,
		start:        start,
		logger:       logger.With("component", "sessions"),
	}
}

// GetOrCreate returns the session for the chat id, creating it and starting
// its worker if needed. The second return reports whether it was created.
func (r *Registry) GetOrCreate(chatID int64, admin bool) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[chatID]; ok {
		// Admin standing may have changed since the session was created
		sess.SetAdmin(admin)
		return sess, false
	}

	ctx, cancel := context.WithCancel(r.baseCtx)
	sess := &Session{
		ChatID: chatID,
		Queue:  make(chan string, r.queueSize),
		admin:  admin,
		model:  r.defaultModel,
		cancel: cancel,
	}
	sess.Touch(time.Now())
	r.sessions[chatID] = sess

	r.logger.Info("starting session", "chat_id", chatID, "admin", admin)
	go r.start(ctx, sess)
	return sess, true
}

// Get returns the session for the chat id if one is live.
func (r *Registry) Get(chatID int64) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[chatID]
	return sess, ok
}

// Remove stops the session's worker and drops it from the registry. Used when
// a conversation's access is revoked.
func (r *Registry) Remove(chatID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[chatID]
	if !ok {
		return
	}
	sess.cancel()
	delete(r.sessions, chatID)
	r.logger.Info("removed session", "chat_id", chatID)
}

// Range calls fn for every live session.
func (r *Registry) Range(fn func(sess *Session)) {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.RUnlock()

	for _, sess := range sessions {
		fn(sess)
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close stops every worker and empties the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for chatID, sess := range r.sessions {
		sess.cancel()
		delete(r.sessions, chatID)
	}
	r.logger.Info("all sessions stopped")
}
