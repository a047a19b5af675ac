// ABOUTME: The base tool pack available to every allowed conversation
// ABOUTME: Covers image generation, speech, item lists, expenses and history reset

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sherkenhoff/openai-telegram-assistant/internal/chat"
	"github.com/sherkenhoff/openai-telegram-assistant/internal/session"
	"github.com/sherkenhoff/openai-telegram-assistant/internal/store"
)

// Recorder is the slice of the store the base pack writes through.
type Recorder interface {
	AddItem(ctx context.Context, chatID int64, item, owner string, quantity int64) (int64, error)
	ListItems(ctx context.Context, chatID int64, owner string) ([]store.Item, error)
	AddExpense(ctx context.Context, chatID int64, amount float64, category, date, description string) (int64, error)
	ListExpenses(ctx context.Context, chatID int64, category, start, end string) ([]store.Expense, error)
	ListExpenseCategories(ctx context.Context, chatID int64) ([]string, error)
	RemoveExpenseExact(ctx context.Context, chatID int64, amount float64, date string) (int64, error)
	RemoveExpensesRange(ctx context.Context, chatID int64, start, end string) (int64, error)
	AddImage(ctx context.Context, chatID int64, filename string, created time.Time, prompt, revisedPrompt string) (int64, error)
	AddUsage(ctx context.Context, chatID int64, promptTokens, completionTokens, images int64) error
}

// Deps are the collaborators the base pack needs.
type Deps struct {
	Store        Recorder
	Images       chat.ImageGenerator
	Speech       chat.SpeechSynthesizer
	Delivery     chat.Delivery
	ImagesDir    string
	DefaultVoice string
	Now          func() time.Time
}

// BasePack returns the tools every allowed conversation can call.
func BasePack(d Deps) []*Tool {
	if d.Now == nil {
		d.Now = time.Now
	}
	return []*Tool{
		renderImageTool(d),
		textToSpeechTool(d),
		addItemTool(d),
		showItemsTool(d),
		addExpenseTool(d),
		removeExpensesTool(d),
		retrieveExpensesTool(d),
		expenseCategoriesTool(d),
		clearHistoryTool(),
	}
}

const imageFilenameLayout = "2006-01-02T15-04-05"

func renderImageTool(d Deps) *Tool {
	return &Tool{
		Definition: chat.ToolDefinition{
			Name:        "render_dalle_image",
			Description: "Render an image from a text prompt and send it to the user.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"prompt": {"type": "string", "description": "Description of the image to render"},
					"quality": {"type": "string", "enum": ["standard", "hd"], "description": "Rendering quality, defaults to standard"}
				},
				"required": ["prompt"]
			}`),
		},
		Handler: func(ctx context.Context, sess *session.Session, args json.RawMessage) (json.RawMessage, error) {
			var params struct {
				Prompt  string `json:"prompt"`
				Quality string `json:"quality"`
			}
			if err := json.Unmarshal(args, &params); err != nil {
				return nil, fmt.Errorf("parsing arguments: %w", err)
			}
			if params.Prompt == "" {
				return nil, errors.New("prompt is required")
			}
			if params.Quality == "" {
				params.Quality = "standard"
			}

			start := d.Now()
			img, err := d.Images.GenerateImage(ctx, params.Prompt, params.Quality)
			if err != nil {
				return nil, fmt.Errorf("generating image: %w", err)
			}

			chatDir := filepath.Join(d.ImagesDir, strconv.FormatInt(sess.ChatID, 10))
			if err := os.MkdirAll(chatDir, 0o755); err != nil {
				return nil, fmt.Errorf("creating image directory: %w", err)
			}
			name := d.Now().UTC().Format(imageFilenameLayout) + ".png"
			path := filepath.Join(chatDir, name)
			if _, err := os.Stat(path); err == nil {
				return nil, fmt.Errorf("image file %s already exists", name)
			}
			if err := os.WriteFile(path, img.Data, 0o644); err != nil {
				return nil, fmt.Errorf("writing image file: %w", err)
			}

			relative := filepath.Join(strconv.FormatInt(sess.ChatID, 10), name)
			if _, err := d.Store.AddImage(ctx, sess.ChatID, relative, d.Now(), params.Prompt, img.RevisedPrompt); err != nil {
				return nil, err
			}
			if err := d.Store.AddUsage(ctx, sess.ChatID, 0, 0, 1); err != nil {
				return nil, err
			}
			if err := d.Delivery.SendPhoto(ctx, sess.ChatID, path); err != nil {
				return nil, fmt.Errorf("sending image: %w", err)
			}

			return okResult(map[string]any{
				"revised_prompt":   img.RevisedPrompt,
				"duration_seconds": d.Now().Sub(start).Seconds(),
			}), nil
		},
	}
}

func textToSpeechTool(d Deps) *Tool {
	return &Tool{
		Definition: chat.ToolDefinition{
			Name:        "generate_text_to_speech",
			Description: "Convert text to spoken audio and send it to the user as a voice message.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"text": {"type": "string", "description": "The text to speak"},
					"voice": {"type": "string", "enum": ["alloy", "echo", "fable", "onyx", "nova", "shimmer"], "description": "Voice to use"}
				},
				"required": ["text"]
			}`),
		},
		Handler: func(ctx context.Context, sess *session.Session, args json.RawMessage) (json.RawMessage, error) {
			var params struct {
				Text  string `json:"text"`
				Voice string `json:"voice"`
			}
			if err := json.Unmarshal(args, &params); err != nil {
				return nil, fmt.Errorf("parsing arguments: %w", err)
			}
			if params.Text == "" {
				return nil, errors.New("text is required")
			}
			if params.Voice == "" {
				params.Voice = d.DefaultVoice
			}

			audio, err := d.Speech.Synthesize(ctx, params.Text, params.Voice)
			if err != nil {
				return nil, fmt.Errorf("synthesizing speech: %w", err)
			}
			if err := d.Delivery.SendVoice(ctx, sess.ChatID, "speech.mp3", audio); err != nil {
				return nil, fmt.Errorf("sending voice message: %w", err)
			}
			return okResult(nil), nil
		},
	}
}

func addItemTool(d Deps) *Tool {
	return &Tool{
		Definition: chat.ToolDefinition{
			Name:        "add_thing_to_items_list",
			Description: "Add an item to the shared items list of this chat.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"item": {"type": "string", "description": "Name of the item"},
					"owner": {"type": "string", "description": "Who the item belongs to"},
					"quantity": {"type": "integer", "description": "How many, defaults to 1"}
				},
				"required": ["item", "owner"]
			}`),
		},
		Handler: func(ctx context.Context, sess *session.Session, args json.RawMessage) (json.RawMessage, error) {
			var params struct {
				Item     string `json:"item"`
				Owner    string `json:"owner"`
				Quantity int64  `json:"quantity"`
			}
			if err := json.Unmarshal(args, &params); err != nil {
				return nil, fmt.Errorf("parsing arguments: %w", err)
			}
			if params.Item == "" || params.Owner == "" {
				return nil, errors.New("item and owner are required")
			}
			if params.Quantity <= 0 {
				params.Quantity = 1
			}

			if _, err := d.Store.AddItem(ctx, sess.ChatID, params.Item, params.Owner, params.Quantity); err != nil {
				return nil, err
			}
			return okResult(nil), nil
		},
	}
}

func showItemsTool(d Deps) *Tool {
	return &Tool{
		Definition: chat.ToolDefinition{
			Name:        "show_items_list",
			Description: "Show the items list of this chat, optionally only one owner's items.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"owner": {"type": "string", "description": "Only show items of this owner"}
				}
			}`),
		},
		Handler: func(ctx context.Context, sess *session.Session, args json.RawMessage) (json.RawMessage, error) {
			var params struct {
				Owner string `json:"owner"`
			}
			if len(args) > 0 {
				if err := json.Unmarshal(args, &params); err != nil {
					return nil, fmt.Errorf("parsing arguments: %w", err)
				}
			}

			items, err := d.Store.ListItems(ctx, sess.ChatID, params.Owner)
			if err != nil {
				return nil, err
			}
			entries := make([]map[string]any, 0, len(items))
			for _, it := range items {
				entries = append(entries, map[string]any{
					"item": it.Item, "owner": it.Owner, "quantity": it.Quantity,
				})
			}
			return okResult(map[string]any{"items": entries}), nil
		},
	}
}

func addExpenseTool(d Deps) *Tool {
	return &Tool{
		Definition: chat.ToolDefinition{
			Name:        "add_expense",
			Description: "Record an expense with amount, category and date.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"amount": {"type": "number", "description": "Amount spent"},
					"category": {"type": "string", "description": "Expense category, e.g. groceries"},
					"date": {"type": "string", "description": "Date of the expense as YYYY-MM-DD"},
					"description": {"type": "string", "description": "Optional free-form note"}
				},
				"required": ["amount", "category", "date"]
			}`),
		},
		Handler: func(ctx context.Context, sess *session.Session, args json.RawMessage) (json.RawMessage, error) {
			var params struct {
				Amount      float64 `json:"amount"`
				Category    string  `json:"category"`
				Date        string  `json:"date"`
				Description string  `json:"description"`
			}
			if err := json.Unmarshal(args, &params); err != nil {
				return nil, fmt.Errorf("parsing arguments: %w", err)
			}
			if params.Amount == 0 || params.Category == "" || params.Date == "" {
				return nil, errors.New("amount, category and date are required")
			}
			if _, err := time.Parse("2006-01-02", params.Date); err != nil {
				return nil, fmt.Errorf("date must be YYYY-MM-DD: %w", err)
			}

			if _, err := d.Store.AddExpense(ctx, sess.ChatID, params.Amount, params.Category, params.Date, params.Description); err != nil {
				return nil, err
			}
			return okResult(nil), nil
		},
	}
}

func removeExpensesTool(d Deps) *Tool {
	return &Tool{
		Definition: chat.ToolDefinition{
			Name:        "remove_expenses",
			Description: "Remove expenses, either one exact amount on a date, or every expense in a date range.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"amount": {"type": "number", "description": "Exact amount of the expense to remove"},
					"date": {"type": "string", "description": "Date of the expense to remove as YYYY-MM-DD"},
					"start_date": {"type": "string", "description": "Start of the removal range as YYYY-MM-DD"},
					"end_date": {"type": "string", "description": "End of the removal range as YYYY-MM-DD"}
				}
			}`),
		},
		Handler: func(ctx context.Context, sess *session.Session, args json.RawMessage) (json.RawMessage, error) {
			var params struct {
				Amount    float64 `json:"amount"`
				Date      string  `json:"date"`
				StartDate string  `json:"start_date"`
				EndDate   string  `json:"end_date"`
			}
			if err := json.Unmarshal(args, &params); err != nil {
				return nil, fmt.Errorf("parsing arguments: %w", err)
			}

			var removed int64
			var err error
			switch {
			case params.Amount != 0 && params.Date != "":
				removed, err = d.Store.RemoveExpenseExact(ctx, sess.ChatID, params.Amount, params.Date)
			case params.StartDate != "" && params.EndDate != "":
				removed, err = d.Store.RemoveExpensesRange(ctx, sess.ChatID, params.StartDate, params.EndDate)
			default:
				return nil, errors.New("provide either amount and date, or start_date and end_date")
			}
			if err != nil {
				return nil, err
			}
			return okResult(map[string]any{"removed": removed}), nil
		},
	}
}

func retrieveExpensesTool(d Deps) *Tool {
	return &Tool{
		Definition: chat.ToolDefinition{
			Name:        "retrieve_expenses",
			Description: "Retrieve recorded expenses, optionally filtered by category and date range.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"category": {"type": "string", "description": "Only this category"},
					"start_date": {"type": "string", "description": "Earliest date as YYYY-MM-DD"},
					"end_date": {"type": "string", "description": "Latest date as YYYY-MM-DD"}
				}
			}`),
		},
		Handler: func(ctx context.Context, sess *session.Session, args json.RawMessage) (json.RawMessage, error) {
			var params struct {
				Category  string `json:"category"`
				StartDate string `json:"start_date"`
				EndDate   string `json:"end_date"`
			}
			if len(args) > 0 {
				if err := json.Unmarshal(args, &params); err != nil {
					return nil, fmt.Errorf("parsing arguments: %w", err)
				}
			}

			expenses, err := d.Store.ListExpenses(ctx, sess.ChatID, params.Category, params.StartDate, params.EndDate)
			if err != nil {
				return nil, err
			}
			var total float64
			entries := make([]map[string]any, 0, len(expenses))
			for _, e := range expenses {
				total += e.Amount
				entries = append(entries, map[string]any{
					"amount": e.Amount, "category": e.Category,
					"date": e.Date, "description": e.Description,
				})
			}
			return okResult(map[string]any{"expenses": entries, "total": total}), nil
		},
	}
}

func expenseCategoriesTool(d Deps) *Tool {
	return &Tool{
		Definition: chat.ToolDefinition{
			Name:        "retrieve_expense_categories",
			Description: "List the expense categories used so far in this chat.",
			Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
		},
		Handler: func(ctx context.Context, sess *session.Session, _ json.RawMessage) (json.RawMessage, error) {
			categories, err := d.Store.ListExpenseCategories(ctx, sess.ChatID)
			if err != nil {
				return nil, err
			}
			if categories == nil {
				categories = []string{}
			}
			return okResult(map[string]any{"categories": categories}), nil
		},
	}
}

func clearHistoryTool() *Tool {
	return &Tool{
		Definition: chat.ToolDefinition{
			Name:        "clear_message_history",
			Description: "Forget the conversation so far and start fresh.",
			Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
		},
		ClearsHistory: true,
		Handler: func(_ context.Context, sess *session.Session, _ json.RawMessage) (json.RawMessage, error) {
			sess.ClearHistory()
			return okResult(nil), nil
		},
	}
}
