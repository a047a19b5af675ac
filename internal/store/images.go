// ABOUTME: Persistence for generated image records with soft deletion
// ABOUTME: The sweeper soft-deletes rows after removing the file on disk

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AddImage records a generated image artifact for the conversation.
func (s *Store) AddImage(ctx context.Context, chatID int64, filename string, created time.Time, prompt, revisedPrompt string) (int64, error) {
	res, err := s.exec(ctx,
		`INSERT INTO images (chatid, image_filename, timestamp_created, prompt, revised_prompt)
		 VALUES (?, ?, ?, ?, ?)`,
		chatID, filename, created.UTC().Format(time.RFC3339),
		nullString(prompt), nullString(revisedPrompt))
	if err != nil {
		return 0, fmt.Errorf("adding image: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("adding image: %w", err)
	}
	return id, nil
}

// ListLiveImages returns every image not yet soft-deleted, across all
// conversations, oldest first.
func (s *Store) ListLiveImages(ctx context.Context) ([]Image, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chatid, image_filename, timestamp_created, timestamp_deleted,
			COALESCE(prompt, ''), COALESCE(revised_prompt, '')
		 FROM images WHERE timestamp_deleted IS NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing images: %w", err)
	}
	defer rows.Close()

	var images []Image
	for rows.Next() {
		var img Image
		var created string
		var deleted sql.NullString
		if err := rows.Scan(&img.ID, &img.ChatID, &img.Filename, &created, &deleted,
			&img.Prompt, &img.RevisedPrompt); err != nil {
			return nil, fmt.Errorf("scanning image: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, created); err == nil {
			img.CreatedAt = t
		}
		img.DeletedAt = parseTimestamp(deleted)
		images = append(images, img)
	}
	return images, rows.Err()
}

// SoftDeleteImage marks the image row as deleted without removing it.
func (s *Store) SoftDeleteImage(ctx context.Context, id int64, t time.Time) error {
	res, err := s.exec(ctx,
		`UPDATE images SET timestamp_deleted = ? WHERE id = ? AND timestamp_deleted IS NULL`,
		t.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("soft-deleting image %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("soft-deleting image %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
