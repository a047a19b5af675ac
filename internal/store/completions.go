// ABOUTME: Audit persistence for every model completion the gateway receives

package store

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// SaveCompletion records one model response for auditing. The response text
// may be empty when the model answered with tool calls only.
func (s *Store) SaveCompletion(ctx context.Context, c Completion) (int64, error) {
	res, err := s.exec(ctx,
		`INSERT INTO completions (chatid, completion_id, completion_created,
			completion_model, completion_response, prompt_tokens, completion_tokens, finish_reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ChatID, c.CompletionID, c.Created.UTC().Format(time.RFC3339), c.Model,
		nullString(c.Response),
		strconv.Itoa(c.PromptTokens), strconv.Itoa(c.CompletionTokens),
		nullString(c.FinishReason))
	if err != nil {
		return 0, fmt.Errorf("saving completion: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("saving completion: %w", err)
	}
	return id, nil
}

// ListCompletions returns the conversation's recorded completions, newest
// first, capped at limit (0 means no cap).
func (s *Store) ListCompletions(ctx context.Context, chatID int64, limit int) ([]Completion, error) {
	query := `SELECT id, chatid, completion_id, completion_created, completion_model,
		COALESCE(completion_response, ''), prompt_tokens, completion_tokens,
		COALESCE(finish_reason, '')
		FROM completions WHERE chatid = ? ORDER BY id DESC`
	args := []any{chatID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing completions: %w", err)
	}
	defer rows.Close()

	var completions []Completion
	for rows.Next() {
		var c Completion
		var created, promptTokens, completionTokens string
		if err := rows.Scan(&c.ID, &c.ChatID, &c.CompletionID, &created, &c.Model,
			&c.Response, &promptTokens, &completionTokens, &c.FinishReason); err != nil {
			return nil, fmt.Errorf("scanning completion: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, created); err == nil {
			c.Created = t
		}
		c.PromptTokens, _ = strconv.Atoi(promptTokens)
		c.CompletionTokens, _ = strconv.Atoi(completionTokens)
		completions = append(completions, c)
	}
	return completions, rows.Err()
}
