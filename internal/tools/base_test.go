package tools

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sherkenhoff/openai-telegram-assistant/internal/chat"
	"github.com/sherkenhoff/openai-telegram-assistant/internal/session"
	"github.com/sherkenhoff/openai-telegram-assistant/internal/store"
)

type fakeRecorder struct {
	items    []store.Item
	expenses []store.Expense
	images   []store.Image
	usage    [3]int64

	removeExactN int64
	removeRangeN int64
}

func (f *fakeRecorder) AddItem(_ context.Context, chatID int64, item, owner string, quantity int64) (int64, error) {
	f.items = append(f.items, store.Item{ChatID: chatID, Item: item, Owner: owner, Quantity: quantity})
	return int64(len(f.items)), nil
}

func (f *fakeRecorder) ListItems(_ context.Context, chatID int64, owner string) ([]store.Item, error) {
	var out []store.Item
	for _, it := range f.items {
		if it.ChatID == chatID && (owner == "" || it.Owner == owner) {
			out = append(out, it)
		}
	}
	return out, nil
}

func (f *fakeRecorder) AddExpense(_ context.Context, chatID int64, amount float64, category, date, description string) (int64, error) {
	f.expenses = append(f.expenses, store.Expense{ChatID: chatID, Amount: amount, Category: category, Date: date, Description: description})
	return int64(len(f.expenses)), nil
}

func (f *fakeRecorder) ListExpenses(_ context.Context, chatID int64, _, _, _ string) ([]store.Expense, error) {
	var out []store.Expense
	for _, e := range f.expenses {
		if e.ChatID == chatID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeRecorder) ListExpenseCategories(context.Context, int64) ([]string, error) {
	return []string{"groceries"}, nil
}

func (f *fakeRecorder) RemoveExpenseExact(context.Context, int64, float64, string) (int64, error) {
	return f.removeExactN, nil
}

func (f *fakeRecorder) RemoveExpensesRange(context.Context, int64, string, string) (int64, error) {
	return f.removeRangeN, nil
}

func (f *fakeRecorder) AddImage(_ context.Context, chatID int64, filename string, created time.Time, prompt, revisedPrompt string) (int64, error) {
	f.images = append(f.images, store.Image{ChatID: chatID, Filename: filename, CreatedAt: created, Prompt: prompt, RevisedPrompt: revisedPrompt})
	return int64(len(f.images)), nil
}

func (f *fakeRecorder) AddUsage(_ context.Context, _ int64, promptTokens, completionTokens, images int64) error {
	f.usage[0] += promptTokens
	f.usage[1] += completionTokens
	f.usage[2] += images
	return nil
}

type fakeImageGen struct {
	img chat.GeneratedImage
	err error
}

func (f *fakeImageGen) GenerateImage(context.Context, string, string) (*chat.GeneratedImage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &f.img, nil
}

type fakeSpeech struct{ audio []byte }

func (f *fakeSpeech) Synthesize(context.Context, string, string) ([]byte, error) {
	return f.audio, nil
}

type fakeDelivery struct {
	texts  []string
	photos []string
	voices [][]byte
}

func (f *fakeDelivery) SendText(_ context.Context, _ int64, text string) error {
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeDelivery) SendPhoto(_ context.Context, _ int64, path string) error {
	f.photos = append(f.photos, path)
	return nil
}

func (f *fakeDelivery) SendVoice(_ context.Context, _ int64, _ string, audio []byte) error {
	f.voices = append(f.voices, audio)
	return nil
}

func newBaseExecutor(t *testing.T, d Deps) *Executor {
	t.Helper()
	e := NewExecutor(nil)
	for _, tool := range BasePack(d) {
		e.Register(tool)
	}
	return e
}

func exec(t *testing.T, e *Executor, sess *session.Session, name, args string) (Outcome, map[string]any) {
	t.Helper()
	out := e.Execute(context.Background(), sess, chat.ToolCall{
		Name:      name,
		Arguments: json.RawMessage(args),
	})
	var payload map[string]any
	require.NoError(t, json.Unmarshal(out.Result, &payload))
	return out, payload
}

func TestRenderImage(t *testing.T) {
	dir := t.TempDir()
	rec := &fakeRecorder{}
	del := &fakeDelivery{}
	at := time.Date(2024, 10, 5, 14, 30, 0, 0, time.UTC)
	d := Deps{
		Store:     rec,
		Images:    &fakeImageGen{img: chat.GeneratedImage{Data: []byte("png-bytes"), RevisedPrompt: "a very fluffy cat"}},
		Delivery:  del,
		ImagesDir: dir,
		Now:       func() time.Time { return at },
	}
	e := newBaseExecutor(t, d)
	sess := &session.Session{ChatID: 42}

	_, payload := exec(t, e, sess, "render_dalle_image", `{"prompt": "a cat"}`)
	assert.Equal(t, "OK", payload["status"])
	assert.Equal(t, "a very fluffy cat", payload["revised_prompt"])

	path := filepath.Join(dir, "42", "2024-10-05T14-30-00.png")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)

	require.Len(t, rec.images, 1)
	assert.Equal(t, filepath.Join("42", "2024-10-05T14-30-00.png"), rec.images[0].Filename)
	assert.Equal(t, "a cat", rec.images[0].Prompt)
	assert.Equal(t, int64(1), rec.usage[2])
	assert.Equal(t, []string{path}, del.photos)

	// Same second, same name: the handler must refuse to overwrite
	out, _ := exec(t, e, sess, "render_dalle_image", `{"prompt": "a cat"}`)
	assert.Contains(t, statusOf(t, out.Result), "already exists")
}

func TestRenderImage_GeneratorFailure(t *testing.T) {
	d := Deps{
		Store:     &fakeRecorder{},
		Images:    &fakeImageGen{err: errors.New("api quota exceeded")},
		Delivery:  &fakeDelivery{},
		ImagesDir: t.TempDir(),
	}
	e := newBaseExecutor(t, d)

	out, _ := exec(t, e, &session.Session{ChatID: 1}, "render_dalle_image", `{"prompt": "x"}`)
	assert.Contains(t, statusOf(t, out.Result), "api quota exceeded")
}

func TestTextToSpeech(t *testing.T) {
	del := &fakeDelivery{}
	d := Deps{
		Store:        &fakeRecorder{},
		Speech:       &fakeSpeech{audio: []byte("mp3")},
		Delivery:     del,
		DefaultVoice: "onyx",
	}
	e := newBaseExecutor(t, d)

	_, payload := exec(t, e, &session.Session{ChatID: 1}, "generate_text_to_speech", `{"text": "hello"}`)
	assert.Equal(t, "OK", payload["status"])
	require.Len(t, del.voices, 1)
	assert.Equal(t, []byte("mp3"), del.voices[0])
}

func TestItemsTools(t *testing.T) {
	rec := &fakeRecorder{}
	e := newBaseExecutor(t, Deps{Store: rec})
	sess := &session.Session{ChatID: 3}

	_, payload := exec(t, e, sess, "add_thing_to_items_list", `{"item": "milk", "owner": "alice"}`)
	assert.Equal(t, "OK", payload["status"])
	require.Len(t, rec.items, 1)
	assert.Equal(t, int64(1), rec.items[0].Quantity)

	_, payload = exec(t, e, sess, "show_items_list", `{"owner": "alice"}`)
	items := payload["items"].([]any)
	require.Len(t, items, 1)

	out, _ := exec(t, e, sess, "add_thing_to_items_list", `{"item": "milk"}`)
	assert.Contains(t, statusOf(t, out.Result), "owner")
}

func TestAddExpense(t *testing.T) {
	rec := &fakeRecorder{}
	e := newBaseExecutor(t, Deps{Store: rec})
	sess := &session.Session{ChatID: 3}

	_, payload := exec(t, e, sess, "add_expense", `{"amount": 12.5, "category": "groceries", "date": "2024-05-01"}`)
	assert.Equal(t, "OK", payload["status"])
	require.Len(t, rec.expenses, 1)
	assert.Equal(t, 12.5, rec.expenses[0].Amount)

	out, _ := exec(t, e, sess, "add_expense", `{"amount": 5, "category": "misc", "date": "May 1st"}`)
	assert.Contains(t, statusOf(t, out.Result), "YYYY-MM-DD")

	out, _ = exec(t, e, sess, "add_expense", `{"amount": 5}`)
	assert.Contains(t, statusOf(t, out.Result), "required")
}

func TestRemoveExpenses(t *testing.T) {
	rec := &fakeRecorder{removeExactN: 2, removeRangeN: 5}
	e := newBaseExecutor(t, Deps{Store: rec})
	sess := &session.Session{ChatID: 3}

	_, payload := exec(t, e, sess, "remove_expenses", `{"amount": 10, "date": "2024-05-01"}`)
	assert.Equal(t, float64(2), payload["removed"])

	_, payload = exec(t, e, sess, "remove_expenses", `{"start_date": "2024-05-01", "end_date": "2024-05-31"}`)
	assert.Equal(t, float64(5), payload["removed"])

	// Neither an exact match nor a range is a declared error, not a deletion
	out, _ := exec(t, e, sess, "remove_expenses", `{"amount": 10}`)
	assert.Contains(t, statusOf(t, out.Result), "ERROR")
}

func TestRetrieveExpenses(t *testing.T) {
	rec := &fakeRecorder{}
	e := newBaseExecutor(t, Deps{Store: rec})
	sess := &session.Session{ChatID: 3}

	exec(t, e, sess, "add_expense", `{"amount": 10, "category": "misc", "date": "2024-05-01"}`)
	exec(t, e, sess, "add_expense", `{"amount": 7.5, "category": "misc", "date": "2024-05-02"}`)

	_, payload := exec(t, e, sess, "retrieve_expenses", `{}`)
	assert.Equal(t, 17.5, payload["total"])
	assert.Len(t, payload["expenses"].([]any), 2)

	_, payload = exec(t, e, sess, "retrieve_expense_categories", `{}`)
	assert.Equal(t, []any{"groceries"}, payload["categories"])
}

func TestClearHistory(t *testing.T) {
	e := newBaseExecutor(t, Deps{Store: &fakeRecorder{}})
	sess := &session.Session{ChatID: 3}
	sess.Append(chat.Message{Role: chat.RoleUser, Content: "hi"})

	out, payload := exec(t, e, sess, "clear_message_history", `{}`)
	assert.Equal(t, "OK", payload["status"])
	assert.True(t, out.HistoryCleared)
	assert.Zero(t, sess.HistoryLen())
}
