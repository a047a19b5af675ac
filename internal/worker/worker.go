// ABOUTME: Per-conversation worker loop: one prompt at a time, in order
// ABOUTME: Runs the two-phase completion turn with tool execution in between

package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sherkenhoff/openai-telegram-assistant/internal/chat"
	"github.com/sherkenhoff/openai-telegram-assistant/internal/session"
	"github.com/sherkenhoff/openai-telegram-assistant/internal/store"
	"github.com/sherkenhoff/openai-telegram-assistant/internal/tools"
)

const (
	failureNotice      = "Sorry, I could not process that message. Please try again."
	historyClearNotice = "Message history cleared."
)

// Executor runs model-requested tool calls.
type Executor interface {
	Execute(ctx context.Context, sess *session.Session, call chat.ToolCall) tools.Outcome
	Definitions(admin bool) []chat.ToolDefinition
}

// Recorder persists completion audit rows and usage counters.
type Recorder interface {
	SaveCompletion(ctx context.Context, c store.Completion) (int64, error)
	AddUsage(ctx context.Context, chatID int64, promptTokens, completionTokens, images int64) error
}

// Worker drives one conversation. Exactly one Run goroutine exists per live
// session, so prompts are processed strictly in arrival order.
type Worker struct {
	completer   chat.Completer
	exec        Executor
	delivery    chat.Delivery
	recorder    Recorder
	callTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

func New(completer chat.Completer, exec Executor, delivery chat.Delivery, recorder Recorder, callTimeout time.Duration, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		completer:   completer,
		exec:        exec,
		delivery:    delivery,
		recorder:    recorder,
		callTimeout: callTimeout,
		logger:      logger.With("component", "worker"),
		now:         time.Now,
	}
}

// Run consumes the session's queue until ctx is cancelled. It matches the
// session.StartFunc signature.
func (w *Worker) Run(ctx context.Context, sess *session.Session) {
	logger := w.logger.With("chat_id", sess.ChatID)
	logger.Info("worker started")
	defer logger.Info("worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case prompt := <-sess.Queue:
			w.processTurn(ctx, sess, prompt, logger)
		}
	}
}

// processTurn runs one full exchange: user prompt in, assistant reply out,
// with at most one round of tool calls in between. A panicking tool or codec
// must not take the whole conversation down.
func (w *Worker) processTurn(ctx context.Context, sess *session.Session, prompt string, logger *slog.Logger) {
	logger = logger.With("turn_id", uuid.NewString())
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic during turn", "panic", r)
			w.notifyFailure(ctx, sess, logger)
		}
	}()

	sess.Append(
		chat.Message{Role: chat.RoleSystem, Content: "Current date is: " + w.now().UTC().Format(time.RFC3339)},
		chat.Message{Role: chat.RoleUser, Content: prompt},
	)

	// First call carries the tool definitions so the model can act
	completion, err := w.complete(ctx, sess, w.exec.Definitions(sess.Admin()))
	if err != nil {
		logger.Error("completion failed", "error", err)
		w.notifyFailure(ctx, sess, logger)
		return
	}
	w.record(ctx, sess, completion, logger)

	if len(completion.ToolCalls) == 0 {
		w.emit(ctx, sess, completion.Content, logger)
		return
	}

	sess.Append(chat.Message{
		Role:      chat.RoleAssistant,
		Content:   completion.Content,
		ToolCalls: completion.ToolCalls,
	})

	for _, call := range completion.ToolCalls {
		outcome := w.exec.Execute(ctx, sess, call)
		if outcome.HistoryCleared {
			// The transcript is gone; a follow-up completion over it would
			// resurrect what the user asked to forget
			if err := w.delivery.SendText(ctx, sess.ChatID, historyClearNotice); err != nil {
				logger.Error("sending reply failed", "error", err)
			}
			return
		}
		sess.Append(chat.Message{
			Role:       chat.RoleTool,
			Content:    string(outcome.Result),
			ToolCallID: call.ID,
			ToolName:   call.Name,
		})
	}

	// Follow-up call carries no tools: the model turns results into prose
	completion, err = w.complete(ctx, sess, nil)
	if err != nil {
		logger.Error("follow-up completion failed", "error", err)
		w.notifyFailure(ctx, sess, logger)
		return
	}
	w.record(ctx, sess, completion, logger)
	w.emit(ctx, sess, completion.Content, logger)
}

func (w *Worker) complete(ctx context.Context, sess *session.Session, defs []chat.ToolDefinition) (*chat.Completion, error) {
	cctx, cancel := context.WithTimeout(ctx, w.callTimeout)
	defer cancel()
	return w.completer.Complete(cctx, chat.CompletionRequest{
		Model:    sess.Model(),
		Messages: sess.History(),
		Tools:    defs,
	})
}

// record persists the audit row and usage counters. Bookkeeping failures are
// logged but never abort the turn.
func (w *Worker) record(ctx context.Context, sess *session.Session, c *chat.Completion, logger *slog.Logger) {
	_, err := w.recorder.SaveCompletion(ctx, store.Completion{
		ChatID:           sess.ChatID,
		CompletionID:     c.ID,
		Created:          c.Created,
		Model:            c.Model,
		Response:         c.Content,
		PromptTokens:     c.PromptTokens,
		CompletionTokens: c.CompletionTokens,
		FinishReason:     c.FinishReason,
	})
	if err != nil {
		logger.Error("saving completion failed", "error", err)
	}
	if err := w.recorder.AddUsage(ctx, sess.ChatID, int64(c.PromptTokens), int64(c.CompletionTokens), 0); err != nil {
		logger.Error("recording usage failed", "error", err)
	}
}

func (w *Worker) emit(ctx context.Context, sess *session.Session, content string, logger *slog.Logger) {
	sess.Append(chat.Message{Role: chat.RoleAssistant, Content: content})
	if err := w.delivery.SendText(ctx, sess.ChatID, content); err != nil {
		logger.Error("sending reply failed", "error", err)
	}
}

// notifyFailure tells the user the turn failed. The transcript keeps the
// prompt so a retry has full context.
func (w *Worker) notifyFailure(ctx context.Context, sess *session.Session, logger *slog.Logger) {
	if err := w.delivery.SendText(ctx, sess.ChatID, failureNotice); err != nil {
		logger.Error("sending failure notice failed", "error", err)
	}
}
