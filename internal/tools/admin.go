// ABOUTME: Administrator-only tools: access roster management and model override
// ABOUTME: The configured admin identity can never be locked out

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sherkenhoff/openai-telegram-assistant/internal/chat"
	"github.com/sherkenhoff/openai-telegram-assistant/internal/session"
	"github.com/sherkenhoff/openai-telegram-assistant/internal/store"
)

// Roster is the slice of the store the admin pack manages users through.
type Roster interface {
	AllowUser(ctx context.Context, chatID int64) error
	DisallowUser(ctx context.Context, chatID int64) error
	PromoteUser(ctx context.Context, chatID int64) error
	ListUnallowedUsers(ctx context.Context) ([]store.User, error)
	ListAdminUsers(ctx context.Context) ([]store.User, error)
}

// Evictor removes a live session when its access is revoked.
type Evictor interface {
	Remove(chatID int64)
}

// AdminPack returns the tools only administrator sessions may call.
// adminChatID is the configured primary administrator, whose access can never
// be revoked.
func AdminPack(roster Roster, sessions Evictor, adminChatID int64) []*Tool {
	return []*Tool{
		listUsersTool("list_unallowed_users",
			"List users who contacted the bot but are not allowed to chat with it.",
			roster.ListUnallowedUsers),
		listUsersTool("list_admin_users",
			"List users with administrator access.",
			roster.ListAdminUsers),
		allowUserTool(roster),
		promoteUserTool(roster),
		disallowUserTool(roster, sessions, adminChatID),
		modelTool(),
	}
}

type chatIDArgs struct {
	ChatID int64 `json:"chatid"`
}

func parseChatID(args json.RawMessage) (int64, error) {
	var params chatIDArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return 0, fmt.Errorf("parsing arguments: %w", err)
	}
	if params.ChatID == 0 {
		return 0, errors.New("chatid is required")
	}
	return params.ChatID, nil
}

var chatIDSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"chatid": {"type": "integer", "description": "Telegram chat id of the user"}
	},
	"required": ["chatid"]
}`)

func listUsersTool(name, description string, list func(ctx context.Context) ([]store.User, error)) *Tool {
	return &Tool{
		AdminOnly: true,
		Definition: chat.ToolDefinition{
			Name:        name,
			Description: description,
			Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
		},
		Handler: func(ctx context.Context, _ *session.Session, _ json.RawMessage) (json.RawMessage, error) {
			users, err := list(ctx)
			if err != nil {
				return nil, err
			}
			entries := make([]map[string]any, 0, len(users))
			for _, u := range users {
				entry := map[string]any{
					"chatid":     u.ChatID,
					"nickname":   u.Nickname,
					"first_name": u.FirstName,
					"last_name":  u.LastName,
				}
				if u.FirstContact != nil {
					entry["first_contact"] = u.FirstContact.UTC().Format(time.RFC3339)
				}
				entries = append(entries, entry)
			}
			return okResult(map[string]any{"users": entries}), nil
		},
	}
}

func allowUserTool(roster Roster) *Tool {
	return &Tool{
		AdminOnly: true,
		Definition: chat.ToolDefinition{
			Name:        "allow_chatid_to_chat_with_bot",
			Description: "Allow a user to chat with the bot.",
			Parameters:  chatIDSchema,
		},
		Handler: func(ctx context.Context, _ *session.Session, args json.RawMessage) (json.RawMessage, error) {
			chatID, err := parseChatID(args)
			if err != nil {
				return nil, err
			}
			if err := roster.AllowUser(ctx, chatID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return nil, fmt.Errorf("no user with chatid %d", chatID)
				}
				return nil, err
			}
			return okResult(nil), nil
		},
	}
}

func promoteUserTool(roster Roster) *Tool {
	return &Tool{
		AdminOnly: true,
		Definition: chat.ToolDefinition{
			Name:        "promote_user_to_admin",
			Description: "Give a user administrator access.",
			Parameters:  chatIDSchema,
		},
		Handler: func(ctx context.Context, _ *session.Session, args json.RawMessage) (json.RawMessage, error) {
			chatID, err := parseChatID(args)
			if err != nil {
				return nil, err
			}
			if err := roster.PromoteUser(ctx, chatID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return nil, fmt.Errorf("no user with chatid %d", chatID)
				}
				return nil, err
			}
			return okResult(nil), nil
		},
	}
}

func disallowUserTool(roster Roster, sessions Evictor, adminChatID int64) *Tool {
	return &Tool{
		AdminOnly: true,
		Definition: chat.ToolDefinition{
			Name:        "disallow_chatid_to_chat_with_bot",
			Description: "Revoke a user's access to the bot.",
			Parameters:  chatIDSchema,
		},
		Handler: func(ctx context.Context, _ *session.Session, args json.RawMessage) (json.RawMessage, error) {
			chatID, err := parseChatID(args)
			if err != nil {
				return nil, err
			}
			if chatID == adminChatID {
				return nil, errors.New("the primary administrator cannot be disallowed")
			}
			if err := roster.DisallowUser(ctx, chatID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return nil, fmt.Errorf("no user with chatid %d", chatID)
				}
				return nil, err
			}
			// Stop the live worker so no queued prompt completes after revocation
			sessions.Remove(chatID)
			return okResult(nil), nil
		},
	}
}

func modelTool() *Tool {
	return &Tool{
		AdminOnly: true,
		Definition: chat.ToolDefinition{
			Name:        "gpt_model",
			Description: "Show or change the model used for this chat. Without a model argument the current model is returned.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"model": {"type": "string", "description": "Model name to switch this chat to"}
				}
			}`),
		},
		Handler: func(_ context.Context, sess *session.Session, args json.RawMessage) (json.RawMessage, error) {
			var params struct {
				Model string `json:"model"`
			}
			if len(args) > 0 {
				if err := json.Unmarshal(args, &params); err != nil {
					return nil, fmt.Errorf("parsing arguments: %w", err)
				}
			}
			if params.Model == "" {
				return okResult(map[string]any{"model": sess.Model()}), nil
			}
			sess.SetModel(params.Model)
			return okResult(map[string]any{"model": params.Model}), nil
		},
	}
}
