package store

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAdminID int64 = 4242

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.sqlite")
	s, err := Open(path, testAdminID, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_MigratesAndSeedsAdmin(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, len(migrations), version)

	admin, err := s.GetUser(ctx, testAdminID)
	require.NoError(t, err)
	assert.True(t, admin.Allowed)
	assert.True(t, admin.Admin)
	assert.Equal(t, "admin", admin.Nickname)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.sqlite")

	s1, err := Open(path, testAdminID, slog.Default())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s1.EnsureUser(ctx, 100, "Ada", "Lovelace", "ada", time.Now()))
	require.NoError(t, s1.Close())

	s2, err := Open(path, testAdminID, slog.Default())
	require.NoError(t, err)
	defer s2.Close()

	var version int
	require.NoError(t, s2.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, len(migrations), version)

	u, err := s2.GetUser(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, "ada", u.Nickname)
}

func TestUsers_Lifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	first := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.GetUser(ctx, 7)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.EnsureUser(ctx, 7, "Grace", "Hopper", "grace", first))
	u, err := s.GetUser(ctx, 7)
	require.NoError(t, err)
	assert.False(t, u.Allowed)
	assert.False(t, u.Admin)
	require.NotNil(t, u.FirstContact)
	assert.Equal(t, first, u.FirstContact.UTC())

	// Re-ensuring an existing user must not clobber anything
	require.NoError(t, s.EnsureUser(ctx, 7, "Other", "Name", "other", time.Now()))
	u, err = s.GetUser(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "grace", u.Nickname)

	require.NoError(t, s.AllowUser(ctx, 7))
	require.NoError(t, s.PromoteUser(ctx, 7))
	u, err = s.GetUser(ctx, 7)
	require.NoError(t, err)
	assert.True(t, u.Allowed)
	assert.True(t, u.Admin)

	// Revoking access also revokes admin standing
	require.NoError(t, s.DisallowUser(ctx, 7))
	u, err = s.GetUser(ctx, 7)
	require.NoError(t, err)
	assert.False(t, u.Allowed)
	assert.False(t, u.Admin)

	assert.ErrorIs(t, s.AllowUser(ctx, 999), ErrNotFound)
}

func TestUsers_Lists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureUser(ctx, 1, "", "", "one", time.Now()))
	require.NoError(t, s.EnsureUser(ctx, 2, "", "", "two", time.Now()))
	require.NoError(t, s.AllowUser(ctx, 2))
	require.NoError(t, s.PromoteUser(ctx, 2))

	unallowed, err := s.ListUnallowedUsers(ctx)
	require.NoError(t, err)
	require.Len(t, unallowed, 1)
	assert.Equal(t, int64(1), unallowed[0].ChatID)

	admins, err := s.ListAdminUsers(ctx)
	require.NoError(t, err)
	require.Len(t, admins, 2)
	assert.Equal(t, int64(2), admins[0].ChatID)
	assert.Equal(t, testAdminID, admins[1].ChatID)
}

func TestUsers_UsageAndLastContact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureUser(ctx, 5, "", "", "five", time.Now()))
	require.NoError(t, s.AddUsage(ctx, 5, 120, 40, 0))
	require.NoError(t, s.AddUsage(ctx, 5, 10, 5, 1))

	u, err := s.GetUser(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(130), u.TotalPromptTokens)
	assert.Equal(t, int64(45), u.TotalCompletionTokens)
	assert.Equal(t, int64(1), u.TotalImages)

	last := time.Date(2024, 6, 2, 8, 30, 0, 0, time.UTC)
	require.NoError(t, s.TouchLastContact(ctx, 5, last))
	u, err = s.GetUser(ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, u.LastContact)
	assert.Equal(t, last, u.LastContact.UTC())
}

func TestItems(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddItem(ctx, 1, "milk", "alice", 2)
	require.NoError(t, err)
	_, err = s.AddItem(ctx, 1, "eggs", "bob", 12)
	require.NoError(t, err)
	_, err = s.AddItem(ctx, 2, "bread", "alice", 1)
	require.NoError(t, err)

	all, err := s.ListItems(ctx, 1, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "milk", all[0].Item)
	assert.Equal(t, int64(12), all[1].Quantity)

	mine, err := s.ListItems(ctx, 1, "alice")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "milk", mine[0].Item)
}

func TestExpenses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddExpense(ctx, 1, 12.50, "groceries", "2024-05-01", "market")
	require.NoError(t, err)
	_, err = s.AddExpense(ctx, 1, 40, "fuel", "2024-05-10", "")
	require.NoError(t, err)
	_, err = s.AddExpense(ctx, 1, 8.20, "groceries", "2024-05-20", "bakery")
	require.NoError(t, err)
	_, err = s.AddExpense(ctx, 2, 99, "rent", "2024-05-01", "")
	require.NoError(t, err)

	all, err := s.ListExpenses(ctx, 1, "", "", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	groceries, err := s.ListExpenses(ctx, 1, "groceries", "", "")
	require.NoError(t, err)
	require.Len(t, groceries, 2)
	assert.Equal(t, 12.50, groceries[0].Amount)

	ranged, err := s.ListExpenses(ctx, 1, "", "2024-05-05", "2024-05-15")
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, "fuel", ranged[0].Category)

	categories, err := s.ListExpenseCategories(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"fuel", "groceries"}, categories)
}

func TestExpenses_Remove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddExpense(ctx, 1, 10, "misc", "2024-05-01", "")
	require.NoError(t, err)
	_, err = s.AddExpense(ctx, 1, 10, "other", "2024-05-01", "")
	require.NoError(t, err)
	_, err = s.AddExpense(ctx, 1, 20, "misc", "2024-05-02", "")
	require.NoError(t, err)

	n, err := s.RemoveExpenseExact(ctx, 1, 10, "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.RemoveExpenseExact(ctx, 1, 10, "2024-05-01")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.RemoveExpensesRange(ctx, 1, "2024-05-01", "2024-05-31")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestImages_SoftDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)

	id1, err := s.AddImage(ctx, 1, "1/a.png", created, "a cat", "a fluffy cat")
	require.NoError(t, err)
	_, err = s.AddImage(ctx, 1, "1/b.png", created.Add(time.Minute), "a dog", "")
	require.NoError(t, err)

	live, err := s.ListLiveImages(ctx)
	require.NoError(t, err)
	require.Len(t, live, 2)
	assert.Equal(t, "1/a.png", live[0].Filename)
	assert.Equal(t, "a fluffy cat", live[0].RevisedPrompt)
	assert.Equal(t, created, live[0].CreatedAt.UTC())

	require.NoError(t, s.SoftDeleteImage(ctx, id1, created.Add(time.Hour)))
	live, err = s.ListLiveImages(ctx)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "1/b.png", live[0].Filename)

	// A second soft delete of the same row is reported as not found
	assert.ErrorIs(t, s.SoftDeleteImage(ctx, id1, created.Add(2*time.Hour)), ErrNotFound)
}

func TestCompletions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2024, 8, 1, 9, 0, 0, 0, time.UTC)

	_, err := s.SaveCompletion(ctx, Completion{
		ChatID: 1, CompletionID: "cmpl-1", Created: created, Model: "gpt-4o-mini",
		Response: "hello", PromptTokens: 50, CompletionTokens: 12, FinishReason: "stop",
	})
	require.NoError(t, err)
	_, err = s.SaveCompletion(ctx, Completion{
		ChatID: 1, CompletionID: "cmpl-2", Created: created.Add(time.Minute), Model: "gpt-4o-mini",
		Response: "", PromptTokens: 60, CompletionTokens: 3, FinishReason: "tool_calls",
	})
	require.NoError(t, err)

	// Tool-call-only responses are stored with a NULL response text
	var resp sql.NullString
	require.NoError(t, s.db.QueryRow(
		`SELECT completion_response FROM completions WHERE completion_id = 'cmpl-2'`).Scan(&resp))
	assert.False(t, resp.Valid)

	got, err := s.ListCompletions(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "cmpl-2", got[0].CompletionID)
	assert.Equal(t, "tool_calls", got[0].FinishReason)
	assert.Equal(t, 50, got[1].PromptTokens)

	capped, err := s.ListCompletions(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, capped, 1)
}
