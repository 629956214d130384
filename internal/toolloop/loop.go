// Package toolloop drives a bounded tool-use conversation with the model.
//
// Each Run walks awaiting_model -> executing_tool -> awaiting_model until the
// model answers without tools. When the iteration or wall-clock budget runs
// out the loop makes one last call with no tools, asking for a summary of
// the work so far, and reports BudgetExceeded instead of hanging. Tool
// failures are returned to the model as is_error results; only provider
// failures abort the loop.
package toolloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/landscaper/internal/config"
	"github.com/sells-group/landscaper/internal/model"
	"github.com/sells-group/landscaper/pkg/anthropic"
)

// State is a step of the loop state machine.
type State string

const (
	StateIdle           State = "idle"
	StateAwaitingModel  State = "awaiting_model_turn"
	StateExecutingTool  State = "executing_tool"
	StateSummarizing    State = "summarizing"
	StateDone           State = "done"
	StateFailed         State = "failed"
	StateBudgetExceeded State = "budget_exceeded"
)

const summaryPrompt = "You have reached the limit of tool calls for this request. " +
	"Without calling any tools, summarize what you completed, what is still open, " +
	"and what the user should do next."

// MaxTokensWarning is attached to results whose final answer was cut off.
const MaxTokensWarning = "The response hit the output token limit and may be incomplete."

// Budget bounds one Run.
type Budget struct {
	MaxIterations      int
	MaxDuration        time.Duration
	MaxResultChars     int
	MaxHistoryMessages int
	MaxTools           int
}

// BudgetFromConfig converts the tool loop configuration.
func BudgetFromConfig(cfg config.ToolLoopConfig) Budget {
	return Budget{
		MaxIterations:      cfg.MaxIterations,
		MaxDuration:        time.Duration(cfg.MaxSeconds) * time.Second,
		MaxResultChars:     cfg.MaxResultChars,
		MaxHistoryMessages: cfg.MaxHistoryMessages,
		MaxTools:           cfg.MaxTools,
	}
}

// PendingAction is a confirm-gated tool call waiting for the user.
type PendingAction struct {
	ID        string          `json:"id"`
	Tool      string          `json:"tool"`
	Input     json.RawMessage `json:"input"`
	CreatedAt time.Time       `json:"created_at"`
}

// Conversation is the state carried between turns.
type Conversation struct {
	System   string
	Messages []anthropic.Message
	// Summary holds a digest of turns dropped from Messages.
	Summary string
	Pending []PendingAction
	// Approved names confirm-gated tools the user allowed to run without
	// asking again.
	Approved map[string]bool
}

// ToolCall records one executed or queued tool call.
type ToolCall struct {
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	Output    string          `json:"output"`
	IsError   bool            `json:"is_error"`
	Truncated bool            `json:"truncated,omitempty"`
	PendingID string          `json:"pending_id,omitempty"`
}

// Result is the outcome of one Run.
type Result struct {
	State      State                      `json:"state"`
	Text       string                     `json:"text"`
	Iterations int                        `json:"iterations"`
	Elapsed    time.Duration              `json:"elapsed"`
	ToolCalls  []ToolCall                 `json:"tool_calls"`
	Pending    []PendingAction            `json:"pending,omitempty"`
	Warnings   []string                   `json:"warnings,omitempty"`
	Budget     *model.BudgetExceededError `json:"-"`
	Usage      anthropic.TokenUsage       `json:"usage"`
}

// Loop runs conversations against one tool registry.
type Loop struct {
	client         anthropic.Client
	registry       *Registry
	budget         Budget
	model          string
	maxTokens      int64
	requestTimeout time.Duration
	now            func() time.Time
	onState        func(State)
}

// Option configures a Loop.
type Option func(*Loop)

// WithModel sets the model and output token cap of each request.
func WithModel(name string, maxTokens int64) Option {
	return func(l *Loop) { l.model, l.maxTokens = name, maxTokens }
}

// WithRequestTimeout sets the per-call provider timeout. It should exceed
// Budget.MaxDuration so that the budget ends long sessions.
func WithRequestTimeout(d time.Duration) Option {
	return func(l *Loop) { l.requestTimeout = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// WithStateHook observes every state transition.
func WithStateHook(fn func(State)) Option {
	return func(l *Loop) { l.onState = fn }
}

// New creates a Loop.
func New(client anthropic.Client, registry *Registry, budget Budget, opts ...Option) *Loop {
	l := &Loop{client: client, registry: registry, budget: budget, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	if l.budget.MaxIterations <= 0 {
		l.budget.MaxIterations = 10
	}
	if l.budget.MaxDuration <= 0 {
		l.budget.MaxDuration = 2 * time.Minute
	}
	return l
}

func (l *Loop) transition(res *Result, s State) {
	res.State = s
	if l.onState != nil {
		l.onState(s)
	}
}

// Run adds userText to conv and drives the model until it answers, the
// budget runs out, or a fatal error occurs. conv is updated in place.
// Provider failures return *model.ToolLoopError; cancellation returns the
// context error. Both leave Result.State as failed.
//
// Cancelling ctx never interrupts a model call or a tool call in flight.
// The loop observes it between steps, so the finished turn stays in conv.
func (l *Loop) Run(ctx context.Context, conv *Conversation, userText string) (*Result, error) {
	start := l.now()
	res := &Result{}
	l.transition(res, StateIdle)

	conv.Messages = append(conv.Messages, anthropic.Message{Role: "user", Content: userText})
	conv.Messages, conv.Summary = compactHistory(conv.Messages, l.budget.MaxHistoryMessages, conv.Summary)

	tools := l.registry.Select(userText, l.budget.MaxTools)
	defs := definitions(tools)
	offered := make(map[string]bool, len(tools))
	for _, t := range tools {
		offered[t.Name] = true
	}

	log := zap.L().With(zap.Int("tools_offered", len(tools)))
	defer func() {
		res.Elapsed = l.now().Sub(start)
		log.Info("toolloop: run finished",
			zap.String("state", string(res.State)),
			zap.Int("iterations", res.Iterations),
			zap.Duration("elapsed", res.Elapsed),
		)
	}()

	for {
		if err := ctx.Err(); err != nil {
			l.transition(res, StateFailed)
			return res, err
		}
		if reason := l.exhausted(res.Iterations, start); reason != "" {
			return l.summarize(ctx, conv, res, start, reason, nil)
		}

		l.transition(res, StateAwaitingModel)
		resp, err := l.call(ctx, conv, defs)
		if err != nil {
			l.transition(res, StateFailed)
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			return res, &model.ToolLoopError{Iteration: res.Iterations, Err: err}
		}
		res.Usage.Add(resp.Usage)
		conv.Messages = append(conv.Messages, anthropic.Message{Role: "assistant", Blocks: resp.Content})
		if resp.StopReason == anthropic.StopMaxTokens {
			res.Warnings = append(res.Warnings, MaxTokensWarning)
		}

		calls := resp.ToolCalls()
		if len(calls) == 0 {
			res.Text = resp.Text()
			l.transition(res, StateDone)
			return res, nil
		}
		if err := ctx.Err(); err != nil {
			l.skip(conv, calls, "not executed: request cancelled")
			l.transition(res, StateFailed)
			return res, err
		}

		// The clock may have run out while the model was thinking.
		if reason := l.exhausted(res.Iterations, start); reason != "" {
			return l.summarize(ctx, conv, res, start, reason, calls)
		}

		l.transition(res, StateExecutingTool)
		res.Iterations++
		results := make([]anthropic.ContentBlock, 0, len(calls))
		for i, call := range calls {
			if i > 0 && ctx.Err() != nil {
				for _, rest := range calls[i:] {
					results = append(results, anthropic.ToolResultBlock(rest.ID, "not executed: request cancelled", true))
				}
				break
			}
			tc := l.execute(context.WithoutCancel(ctx), conv, call, offered)
			res.ToolCalls = append(res.ToolCalls, tc)
			results = append(results, anthropic.ToolResultBlock(call.ID, tc.Output, tc.IsError))
			log.Debug("toolloop: tool executed",
				zap.String("tool", tc.Name),
				zap.Bool("is_error", tc.IsError),
				zap.Bool("pending", tc.PendingID != ""),
			)
		}
		conv.Messages = append(conv.Messages, anthropic.Message{Role: "user", Blocks: results})
		res.Pending = append([]PendingAction(nil), conv.Pending...)
	}
}

func (l *Loop) exhausted(iterations int, start time.Time) string {
	if iterations >= l.budget.MaxIterations {
		return fmt.Sprintf("reached %d tool iterations", l.budget.MaxIterations)
	}
	if elapsed := l.now().Sub(start); elapsed >= l.budget.MaxDuration {
		return fmt.Sprintf("ran for %s", elapsed.Round(time.Second))
	}
	return ""
}

func (l *Loop) call(ctx context.Context, conv *Conversation, defs []anthropic.ToolDefinition) (*anthropic.MessageResponse, error) {
	req := anthropic.MessageRequest{
		Model:     l.model,
		MaxTokens: l.maxTokens,
		Messages:  conv.Messages,
		Tools:     defs,
		Timeout:   l.requestTimeout,
	}
	system := conv.System
	if conv.Summary != "" {
		system += "\n\nEarlier conversation, summarized:\n" + conv.Summary
	}
	if system != "" {
		req.System = anthropic.BuildCachedSystemBlocks(system)
	}
	// The turn runs to completion even if ctx is cancelled; requestTimeout
	// still bounds it.
	callCtx := context.WithoutCancel(ctx)
	if l.requestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, l.requestTimeout)
		defer cancel()
	}
	resp, err := l.client.CreateMessage(callCtx, req)
	return resp, eris.Wrap(err, "toolloop: model call")
}

// skip answers tool calls that will not run so the transcript stays well
// formed for the next turn.
func (l *Loop) skip(conv *Conversation, calls []anthropic.ContentBlock, reason string) {
	blocks := make([]anthropic.ContentBlock, 0, len(calls))
	for _, call := range calls {
		blocks = append(blocks, anthropic.ToolResultBlock(call.ID, reason, true))
	}
	conv.Messages = append(conv.Messages, anthropic.Message{Role: "user", Blocks: blocks})
}

// summarize makes the final tool-free call. unanswered are tool calls from
// the last model turn that will not run; each gets an error result so the
// transcript stays well formed.
func (l *Loop) summarize(ctx context.Context, conv *Conversation, res *Result, start time.Time, reason string, unanswered []anthropic.ContentBlock) (*Result, error) {
	l.transition(res, StateSummarizing)
	res.Budget = &model.BudgetExceededError{Iterations: res.Iterations, Elapsed: l.now().Sub(start), Reason: reason}
	zap.L().Warn("toolloop: budget exhausted, summarizing", zap.String("reason", reason))

	blocks := make([]anthropic.ContentBlock, 0, len(unanswered)+1)
	for _, call := range unanswered {
		blocks = append(blocks, anthropic.ToolResultBlock(call.ID, "not executed: tool budget exhausted", true))
	}
	blocks = append(blocks, anthropic.TextBlock(summaryPrompt))
	conv.Messages = append(conv.Messages, anthropic.Message{Role: "user", Blocks: blocks})

	resp, err := l.call(ctx, conv, nil)
	if err != nil {
		l.transition(res, StateFailed)
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, &model.ToolLoopError{Iteration: res.Iterations, Err: err}
	}
	res.Usage.Add(resp.Usage)
	conv.Messages = append(conv.Messages, anthropic.Message{Role: "assistant", Blocks: resp.Content})
	if resp.StopReason == anthropic.StopMaxTokens {
		res.Warnings = append(res.Warnings, MaxTokensWarning)
	}
	res.Text = resp.Text()
	res.Warnings = append(res.Warnings, "Ran out of budget ("+reason+"); the result may be incomplete.")
	res.Pending = append([]PendingAction(nil), conv.Pending...)
	l.transition(res, StateBudgetExceeded)
	return res, nil
}

// execute runs one tool call. It never returns an error: failures become
// is_error results for the model to react to.
func (l *Loop) execute(ctx context.Context, conv *Conversation, call anthropic.ContentBlock, offered map[string]bool) ToolCall {
	tc := ToolCall{Name: call.Name, Input: call.Input}
	tool, ok := l.registry.Get(call.Name)
	if !ok || !offered[call.Name] {
		tc.Output, tc.IsError = fmt.Sprintf("unknown tool %q", call.Name), true
		return tc
	}

	if tool.Gate == GateConfirm && !conv.Approved[tool.Name] {
		p := PendingAction{ID: uuid.NewString(), Tool: tool.Name, Input: call.Input, CreatedAt: l.now()}
		conv.Pending = append(conv.Pending, p)
		tc.PendingID = p.ID
		tc.Output = fmt.Sprintf("Queued for user confirmation as pending action %s. It has not been applied yet.", p.ID)
		return tc
	}

	out, err := runHandler(ctx, tool, call.Input)
	if err != nil {
		tc.Output, tc.IsError = "error: "+err.Error(), true
		return tc
	}
	tc.Output, tc.Truncated = Truncate(out, l.budget.MaxResultChars)
	return tc
}

func runHandler(ctx context.Context, tool Tool, input json.RawMessage) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("tool %s panicked: %v", tool.Name, r)
		}
	}()
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	return tool.Handler(ctx, input)
}

// ErrNoPendingAction is returned when a confirmation names no queued action.
var ErrNoPendingAction = errors.New("no such pending action")

// ExecutePending runs a confirm-gated action after the user approved it and
// removes it from conv. The outcome is appended to the transcript so the
// model sees it on the next turn.
func (l *Loop) ExecutePending(ctx context.Context, conv *Conversation, id string) (ToolCall, error) {
	idx := -1
	for i, p := range conv.Pending {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ToolCall{}, eris.Wrapf(ErrNoPendingAction, "toolloop: pending %s", id)
	}
	p := conv.Pending[idx]
	conv.Pending = append(conv.Pending[:idx:idx], conv.Pending[idx+1:]...)

	tc := ToolCall{Name: p.Tool, Input: p.Input, PendingID: p.ID}
	tool, ok := l.registry.Get(p.Tool)
	if !ok {
		return tc, eris.Errorf("toolloop: unknown tool %q", p.Tool)
	}
	out, err := runHandler(ctx, tool, p.Input)
	if err != nil {
		tc.Output, tc.IsError = "error: "+err.Error(), true
	} else {
		tc.Output, tc.Truncated = Truncate(out, l.budget.MaxResultChars)
	}
	note := fmt.Sprintf("[user confirmed pending action %s (%s)] %s", p.ID, p.Tool, tc.Output)
	conv.Messages = append(conv.Messages, anthropic.Message{Role: "user", Content: note})
	// Keep user turns alternating with a short acknowledgement.
	conv.Messages = append(conv.Messages, anthropic.Message{Role: "assistant", Content: "Noted."})
	if tc.IsError {
		return tc, eris.New(strings.TrimPrefix(tc.Output, "error: "))
	}
	return tc, nil
}

// Reject drops a pending action without running it.
func (l *Loop) Reject(conv *Conversation, id string) error {
	for i, p := range conv.Pending {
		if p.ID == id {
			conv.Pending = append(conv.Pending[:i:i], conv.Pending[i+1:]...)
			conv.Messages = append(conv.Messages,
				anthropic.Message{Role: "user", Content: fmt.Sprintf("[user rejected pending action %s (%s)]", p.ID, p.Tool)},
				anthropic.Message{Role: "assistant", Content: "Understood, I will not apply it."},
			)
			return nil
		}
	}
	return eris.Wrapf(ErrNoPendingAction, "toolloop: pending %s", id)
}
