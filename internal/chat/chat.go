// ABOUTME: Shared contracts for the conversation core: message entries, completion
// ABOUTME: requests/results, tool definitions and the collaborator interfaces.

package chat

import (
	"context"
	"encoding/json"
	"time"
)

// Role tags a history entry with its author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single entry in a conversation history. History is append-only
// within a session; ordering is the only guarantee the completion service
// consumes.
type Message struct {
	Role    Role
	Content string

	// ToolCalls is set on assistant entries that requested tool execution.
	ToolCalls []ToolCall

	// ToolCallID and ToolName correlate a tool-role entry to the call it
	// answers.
	ToolCallID string
	ToolName   string
}

// ToolCall is one tool invocation requested by a completion result.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolDefinition describes a tool to the completion service. Parameters is a
// JSON schema fragment; nil means the tool takes no arguments.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// CompletionRequest carries everything one completion call needs.
type CompletionRequest struct {
	Model    string
	Messages []Message
	Tools    []ToolDefinition
}

// Completion is the result of one request/response exchange with the
// language-model service.
type Completion struct {
	ID               string
	Created          time.Time
	Model            string
	Content          string
	ToolCalls        []ToolCall
	PromptTokens     int
	CompletionTokens int
	FinishReason     string
}

// Completer is the language-model completion collaborator.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// Delivery is the outbound message collaborator. Delivery failures are
// non-fatal to the caller; they are reported, never propagated as turn
// failures.
type Delivery interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendPhoto(ctx context.Context, chatID int64, path string) error
	SendVoice(ctx context.Context, chatID int64, name string, audio []byte) error
}

// GeneratedImage is the result of an image-generation call.
type GeneratedImage struct {
	Data          []byte
	RevisedPrompt string
}

// ImageGenerator is the image-generation collaborator.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt, quality string) (*GeneratedImage, error)
}

// SpeechSynthesizer is the text-to-speech collaborator.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// Transcriber is the speech-to-text collaborator.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}
