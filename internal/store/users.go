// ABOUTME: User persistence: identity, allow-list, admin flags, usage counters
// ABOUTME: Unknown users are recorded as disallowed on first contact

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const userColumns = `id, COALESCE(first_name, ''), COALESCE(last_name, ''), nickname,
	first_contact_timestamp, last_contact_timestamp,
	COALESCE(user_allowed, 0), COALESCE(is_admin, 0),
	COALESCE(total_prompt_tokens, 0), COALESCE(total_completion_tokens, 0),
	COALESCE(total_images, 0)`

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var firstContact, lastContact sql.NullString
	err := row.Scan(&u.ChatID, &u.FirstName, &u.LastName, &u.Nickname,
		&firstContact, &lastContact, &u.Allowed, &u.Admin,
		&u.TotalPromptTokens, &u.TotalCompletionTokens, &u.TotalImages)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	u.FirstContact = parseTimestamp(firstContact)
	u.LastContact = parseTimestamp(lastContact)
	return &u, nil
}

func parseTimestamp(v sql.NullString) *time.Time {
	if !v.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v.String)
	if err != nil {
		return nil
	}
	return &t
}

// GetUser returns the user for the given chat id, or ErrNotFound.
func (s *Store) GetUser(ctx context.Context, chatID int64) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, chatID)
	return scanUser(row)
}

// EnsureUser records a first-contact user. It is a no-op if the user already
// exists; new users are stored as not allowed and not admin.
func (s *Store) EnsureUser(ctx context.Context, chatID int64, firstName, lastName, nickname string, firstContact time.Time) error {
	_, err := s.exec(ctx,
		`INSERT INTO users (id, first_name, last_name, nickname, first_contact_timestamp, user_allowed, is_admin)
		 VALUES (?, ?, ?, ?, ?, 0, 0)
		 ON CONFLICT(id) DO NOTHING`,
		chatID, nullString(firstName), nullString(lastName), nickname,
		firstContact.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("ensuring user %d: %w", chatID, err)
	}
	return nil
}

// AllowUser grants the chat id access to the assistant.
func (s *Store) AllowUser(ctx context.Context, chatID int64) error {
	return s.updateUserFlag(ctx, chatID, `UPDATE users SET user_allowed = 1 WHERE id = ?`)
}

// DisallowUser revokes access. Any admin standing is revoked with it.
func (s *Store) DisallowUser(ctx context.Context, chatID int64) error {
	return s.updateUserFlag(ctx, chatID, `UPDATE users SET user_allowed = 0, is_admin = 0 WHERE id = ?`)
}

// PromoteUser marks the chat id as an administrator.
func (s *Store) PromoteUser(ctx context.Context, chatID int64) error {
	return s.updateUserFlag(ctx, chatID, `UPDATE users SET is_admin = 1 WHERE id = ?`)
}

func (s *Store) updateUserFlag(ctx context.Context, chatID int64, query string) error {
	res, err := s.exec(ctx, query, chatID)
	if err != nil {
		return fmt.Errorf("updating user %d: %w", chatID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating user %d: %w", chatID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastContact records the time of the most recent inbound message.
func (s *Store) TouchLastContact(ctx context.Context, chatID int64, t time.Time) error {
	_, err := s.exec(ctx,
		`UPDATE users SET last_contact_timestamp = ? WHERE id = ?`,
		t.UTC().Format(time.RFC3339), chatID)
	if err != nil {
		return fmt.Errorf("touching user %d: %w", chatID, err)
	}
	return nil
}

// AddUsage accumulates token and image counters for the chat id.
func (s *Store) AddUsage(ctx context.Context, chatID int64, promptTokens, completionTokens, images int64) error {
	_, err := s.exec(ctx,
		`UPDATE users SET
			total_prompt_tokens = COALESCE(total_prompt_tokens, 0) + ?,
			total_completion_tokens = COALESCE(total_completion_tokens, 0) + ?,
			total_images = COALESCE(total_images, 0) + ?
		 WHERE id = ?`,
		promptTokens, completionTokens, images, chatID)
	if err != nil {
		return fmt.Errorf("recording usage for user %d: %w", chatID, err)
	}
	return nil
}

// ListUnallowedUsers returns every user without access, oldest first.
func (s *Store) ListUnallowedUsers(ctx context.Context) ([]User, error) {
	return s.listUsers(ctx, `COALESCE(user_allowed, 0) = 0`)
}

// ListAdminUsers returns every administrator, oldest first.
func (s *Store) ListAdminUsers(ctx context.Context) ([]User, error) {
	return s.listUsers(ctx, `COALESCE(is_admin, 0) = 1`)
}

func (s *Store) listUsers(ctx context.Context, where string) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var firstContact, lastContact sql.NullString
		if err := rows.Scan(&u.ChatID, &u.FirstName, &u.LastName, &u.Nickname,
			&firstContact, &lastContact, &u.Allowed, &u.Admin,
			&u.TotalPromptTokens, &u.TotalCompletionTokens, &u.TotalImages); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		u.FirstContact = parseTimestamp(firstContact)
		u.LastContact = parseTimestamp(lastContact)
		users = append(users, u)
	}
	return users, rows.Err()
}
