// ABOUTME: Expense tracking persistence: add, query with filters, delete
// ABOUTME: Dates are ISO 8601 day strings so lexicographic range compares work

package store

import (
	"context"
	"fmt"
)

// AddExpense records one expense for the conversation. Date is an ISO 8601
// day string (YYYY-MM-DD).
func (s *Store) AddExpense(ctx context.Context, chatID int64, amount float64, category, date, description string) (int64, error) {
	res, err := s.exec(ctx,
		`INSERT INTO expenses (chatid, amount, category, date, description) VALUES (?, ?, ?, ?, ?)`,
		chatID, amount, category, date, nullString(description))
	if err != nil {
		return 0, fmt.Errorf("adding expense: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("adding expense: %w", err)
	}
	return id, nil
}

// ListExpenses returns the conversation's expenses, oldest first. Category
// filters exactly when non-empty; start and end bound the date range
// inclusively when non-empty.
func (s *Store) ListExpenses(ctx context.Context, chatID int64, category, start, end string) ([]Expense, error) {
	query := `SELECT id, chatid, amount, category, date, COALESCE(description, '')
		FROM expenses WHERE chatid = ?`
	args := []any{chatID}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	if start != "" {
		query += ` AND date >= ?`
		args = append(args, start)
	}
	if end != "" {
		query += ` AND date <= ?`
		args = append(args, end)
	}
	query += ` ORDER BY date, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing expenses: %w", err)
	}
	defer rows.Close()

	var expenses []Expense
	for rows.Next() {
		var e Expense
		if err := rows.Scan(&e.ID, &e.ChatID, &e.Amount, &e.Category, &e.Date, &e.Description); err != nil {
			return nil, fmt.Errorf("scanning expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

// ListExpenseCategories returns the distinct categories used by the
// conversation so far.
func (s *Store) ListExpenseCategories(ctx context.Context, chatID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT category FROM expenses WHERE chatid = ? ORDER BY category`, chatID)
	if err != nil {
		return nil, fmt.Errorf("listing expense categories: %w", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scanning category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// RemoveExpenseExact deletes every expense matching the amount and date
// exactly and reports how many rows were removed.
func (s *Store) RemoveExpenseExact(ctx context.Context, chatID int64, amount float64, date string) (int64, error) {
	res, err := s.exec(ctx,
		`DELETE FROM expenses WHERE chatid = ? AND amount = ? AND date = ?`,
		chatID, amount, date)
	if err != nil {
		return 0, fmt.Errorf("removing expense: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("removing expense: %w", err)
	}
	return n, nil
}

// RemoveExpensesRange deletes every expense inside the inclusive date range
// and reports how many rows were removed.
func (s *Store) RemoveExpensesRange(ctx context.Context, chatID int64, start, end string) (int64, error) {
	res, err := s.exec(ctx,
		`DELETE FROM expenses WHERE chatid = ? AND date >= ? AND date <= ?`,
		chatID, start, end)
	if err != nil {
		return 0, fmt.Errorf("removing expenses: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("removing expenses: %w", err)
	}
	return n, nil
}
