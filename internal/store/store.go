// ABOUTME: Store types and errors for the assistant's SQLite persistence
// ABOUTME: Defines user, item, expense, image and completion records

package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// User is one chat identity's roster row. Users are created on first inbound
// contact with the access flag unset and are never deleted, only revoked.
type User struct {
	ChatID       int64
	FirstName    string
	LastName     string
	Nickname     string
	Allowed      bool
	Admin        bool
	FirstContact *time.Time
	LastContact  *time.Time

	TotalPromptTokens     int64
	TotalCompletionTokens int64
	TotalImages           int64
}

// Item is one row in a conversation's item list
type Item struct {
	ID       int64
	ChatID   int64
	Item     string
	Owner    string
	Quantity int64
}

// Expense is one row in a conversation's expense ledger
type Expense struct {
	ID          int64
	ChatID      int64
	Amount      float64
	Category    string
	Date        string // YYYY-MM-DD
	Description string
}

// Image records a generated image artifact. The row and its filesystem
// artifact are created together and soft-deleted together: a row whose
// artifact is gone must have DeletedAt set.
type Image struct {
	ID            int64
	ChatID        int64
	Filename      string
	CreatedAt     time.Time
	DeletedAt     *time.Time
	Prompt        string
	RevisedPrompt string
}

// Completion is a write-once audit row for one completion exchange
type Completion struct {
	ID               int64
	ChatID           int64
	CompletionID     string
	Created          time.Time
	Model            string
	Response         string
	PromptTokens     int
	CompletionTokens int
	FinishReason     string
}
