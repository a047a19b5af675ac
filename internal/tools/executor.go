// ABOUTME: Tool registry and executor for model-requested function calls
// ABOUTME: Handler failures become error-status results, never worker errors

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/sherkenhoff/openai-telegram-assistant/internal/chat"
	"github.com/sherkenhoff/openai-telegram-assistant/internal/session"
)

// Handler executes one tool call. The returned payload is handed back to the
// model verbatim as the tool result.
type Handler func(ctx context.Context, sess *session.Session, args json.RawMessage) (json.RawMessage, error)

// Tool couples a function definition with its handler. AdminOnly tools are
// only offered to (and runnable by) administrator sessions. ClearsHistory
// marks tools whose success invalidates the conversation transcript.
type Tool struct {
	Definition    chat.ToolDefinition
	Handler       Handler
	AdminOnly     bool
	ClearsHistory bool
}

// Outcome is the result of one executed tool call.
type Outcome struct {
	Result         json.RawMessage
	HistoryCleared bool
}

// Executor holds the registered tools and runs model-requested calls.
type Executor struct {
	tools  map[string]*Tool
	logger *slog.Logger
}

func NewExecutor(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		tools:  make(map[string]*Tool),
		logger: logger.With("component", "tools"),
	}
}

// Register adds a tool. Registering the same name twice is a programming
// error and panics at startup.
func (e *Executor) Register(t *Tool) {
	name := t.Definition.Name
	if _, exists := e.tools[name]; exists {
		panic(fmt.Sprintf("tool %q registered twice", name))
	}
	e.tools[name] = t
}

// Definitions returns the tool definitions visible to a session. Admin
// sessions see everything; others only the base tools.
func (e *Executor) Definitions(admin bool) []chat.ToolDefinition {
	var defs []chat.ToolDefinition
	for _, t := range e.tools {
		if t.AdminOnly && !admin {
			continue
		}
		defs = append(defs, t.Definition)
	}
	return defs
}

// Execute runs one tool call for the session. Unknown tools, permission
// violations and handler errors all produce an error-status result so the
// model can recover; they never abort the turn.
func (e *Executor) Execute(ctx context.Context, sess *session.Session, call chat.ToolCall) Outcome {
	logger := e.logger.With("tool", call.Name, "chat_id", sess.ChatID)

	t, ok := e.tools[call.Name]
	if !ok {
		logger.Warn("unknown tool requested")
		return Outcome{Result: errorResult(fmt.Sprintf("unknown tool %q", call.Name))}
	}
	if t.AdminOnly && !sess.Admin() {
		logger.Warn("tool denied for non-admin session")
		return Outcome{Result: errorResult("this tool requires administrator access")}
	}

	result, err := t.Handler(ctx, sess, call.Arguments)
	if err != nil {
		logger.Error("tool failed", "error", err)
		return Outcome{Result: errorResult(err.Error())}
	}

	logger.Info("tool executed")
	return Outcome{Result: result, HistoryCleared: t.ClearsHistory}
}

func errorResult(msg string) json.RawMessage {
	out, _ := json.Marshal(map[string]string{"status": "ERROR: " + msg})
	return out
}

func okResult(fields map[string]any) json.RawMessage {
	if fields == nil {
		fields = map[string]any{}
	}
	if _, ok := fields["status"]; !ok {
		fields["status"] = "OK"
	}
	out, _ := json.Marshal(fields)
	return out
}
