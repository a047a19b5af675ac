// ABOUTME: Per-conversation session state: history, model override, idle clock
// ABOUTME: All mutable state sits behind one mutex shared by worker and sweeper

package session

import (
	"sync"
	"time"

	"github.com/sherkenhoff/openai-telegram-assistant/internal/chat"
)

// Session holds one conversation's in-memory state. The Queue carries inbound
// prompts to the conversation's worker goroutine; everything behind mu may be
// touched concurrently by the worker, tool handlers, and the sweeper.
type Session struct {
	ChatID int64
	Queue  chan string

	mu          sync.Mutex
	admin       bool
	history     []chat.Message
	model       string
	lastContact time.Time

	cancel func()
}

// Admin reports whether this conversation has administrator standing.
func (s *Session) Admin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admin
}

// SetAdmin updates the conversation's administrator standing. The flag can
// change while the worker is mid-turn; each read sees the standing at that
// moment.
func (s *Session) SetAdmin(admin bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admin = admin
}

// Append adds messages to the end of the conversation history.
func (s *Session) Append(msgs ...chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, msgs...)
}

// History returns a copy of the conversation history.
func (s *Session) History() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.Message, len(s.history))
	copy(out, s.history)
	return out
}

// HistoryLen returns the number of messages in the history.
func (s *Session) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// ClearHistory discards the conversation history.
func (s *Session) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// Model returns the model this conversation completes with.
func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// SetModel overrides the model for this conversation.
func (s *Session) SetModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = model
}

// Touch records the time of the most recent inbound message.
func (s *Session) Touch(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastContact = t
}

// LastContact returns the time of the most recent inbound message.
func (s *Session) LastContact() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastContact
}
