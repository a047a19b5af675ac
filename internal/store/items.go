// ABOUTME: Persistence for the shared items list kept per conversation

package store

import (
	"context"
	"fmt"
)

// AddItem appends an entry to the conversation's items list.
func (s *Store) AddItem(ctx context.Context, chatID int64, item, owner string, quantity int64) (int64, error) {
	res, err := s.exec(ctx,
		`INSERT INTO items (chatid, item, owner, quantity) VALUES (?, ?, ?, ?)`,
		chatID, item, owner, quantity)
	if err != nil {
		return 0, fmt.Errorf("adding item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("adding item: %w", err)
	}
	return id, nil
}

// ListItems returns the conversation's items, optionally filtered by owner.
// An empty owner matches everything.
func (s *Store) ListItems(ctx context.Context, chatID int64, owner string) ([]Item, error) {
	query := `SELECT id, chatid, item, owner, quantity FROM items WHERE chatid = ?`
	args := []any{chatID}
	if owner != "" {
		query += ` AND owner = ?`
		args = append(args, owner)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.ChatID, &it.Item, &it.Owner, &it.Quantity); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
