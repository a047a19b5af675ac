// ABOUTME: OpenAI-backed implementations of the conversation collaborators
// ABOUTME: Maps between the internal chat types and the go-openai request shapes

package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/sherkenhoff/openai-telegram-assistant/internal/chat"
)

// Options configures the model names used for the auxiliary services. The
// completion model is chosen per request by the caller.
type Options struct {
	APIKey             string
	ImageModel         string
	ImageSize          string
	SpeechModel        string
	TranscriptionModel string
}

// Client implements chat.Completer, chat.ImageGenerator,
// chat.SpeechSynthesizer and chat.Transcriber against the OpenAI API.
type Client struct {
	api  *goopenai.Client
	opts Options
}

func NewClient(opts Options) *Client {
	return &Client{
		api:  goopenai.NewClient(opts.APIKey),
		opts: opts,
	}
}

// Complete runs one chat completion exchange.
func (c *Client) Complete(ctx context.Context, req chat.CompletionRequest) (*chat.Completion, error) {
	apiReq := goopenai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: toAPIMessages(req.Messages),
		Tools:    toAPITools(req.Tools),
	}

	resp, err := c.api.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion: empty choices")
	}

	choice := resp.Choices[0]
	return &chat.Completion{
		ID:               resp.ID,
		Created:          time.Unix(resp.Created, 0),
		Model:            resp.Model,
		Content:          choice.Message.Content,
		ToolCalls:        fromAPIToolCalls(choice.Message.ToolCalls),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		FinishReason:     string(choice.FinishReason),
	}, nil
}

func toAPIMessages(msgs []chat.Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		apiMsg := goopenai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		}
		for _, call := range m.ToolCalls {
			apiMsg.ToolCalls = append(apiMsg.ToolCalls, goopenai.ToolCall{
				ID:   call.ID,
				Type: goopenai.ToolTypeFunction,
				Function: goopenai.FunctionCall{
					Name:      call.Name,
					Arguments: string(call.Arguments),
				},
			})
		}
		if m.Role == chat.RoleTool {
			apiMsg.ToolCallID = m.ToolCallID
			apiMsg.Name = m.ToolName
		}
		out = append(out, apiMsg)
	}
	return out
}

func toAPITools(defs []chat.ToolDefinition) []goopenai.Tool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]goopenai.Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	return out
}

func fromAPIToolCalls(calls []goopenai.ToolCall) []chat.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]chat.ToolCall, 0, len(calls))
	for _, call := range calls {
		out = append(out, chat.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: json.RawMessage(call.Function.Arguments),
		})
	}
	return out
}

// GenerateImage renders one image and returns the decoded bytes.
func (c *Client) GenerateImage(ctx context.Context, prompt, quality string) (*chat.GeneratedImage, error) {
	resp, err := c.api.CreateImage(ctx, goopenai.ImageRequest{
		Model:          c.opts.ImageModel,
		Prompt:         prompt,
		Size:           c.opts.ImageSize,
		Quality:        quality,
		N:              1,
		ResponseFormat: goopenai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, fmt.Errorf("image generation: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("image generation: empty response")
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decoding image data: %w", err)
	}
	return &chat.GeneratedImage{
		Data:          data,
		RevisedPrompt: resp.Data[0].RevisedPrompt,
	}, nil
}

// Synthesize converts text to spoken audio.
func (c *Client) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	resp, err := c.api.CreateSpeech(ctx, goopenai.CreateSpeechRequest{
		Model: goopenai.SpeechModel(c.opts.SpeechModel),
		Input: text,
		Voice: goopenai.SpeechVoice(voice),
	})
	if err != nil {
		return nil, fmt.Errorf("speech synthesis: %w", err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("reading speech audio: %w", err)
	}
	return audio, nil
}

// Transcribe converts the audio file at path to text.
func (c *Client) Transcribe(ctx context.Context, path string) (string, error) {
	resp, err := c.api.CreateTranscription(ctx, goopenai.AudioRequest{
		Model:    c.opts.TranscriptionModel,
		FilePath: path,
	})
	if err != nil {
		return "", fmt.Errorf("transcription: %w", err)
	}
	return resp.Text, nil
}
