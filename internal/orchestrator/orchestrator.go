// ABOUTME: The conversation turn loop: completion calls, sequential tool
// ABOUTME: dispatch, transcript bookkeeping, and terminal outcome shaping.

package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sentinelops/incident-gateway/internal/completion"
	"github.com/sentinelops/incident-gateway/internal/gateway"
	"github.com/sentinelops/incident-gateway/internal/store"
	"github.com/sentinelops/incident-gateway/internal/transcript"
)

// DefaultMaxIterations caps the tool loop. The completion service's
// tool-requesting behavior is not guaranteed to converge; this is a circuit
// breaker, not a tuning knob, and must stay finite.
const DefaultMaxIterations = 10

// IterationLimitNotice is the deterministic text returned when the cap is
// reached and the last completion carried no usable text.
const IterationLimitNotice = "tool iteration limit reached before a final answer was produced"

// ToolSession is what the loop needs from a gateway session.
type ToolSession interface {
	ListTools(ctx context.Context) ([]transcript.ToolDescriptor, error)
	Invoke(ctx context.Context, name string, args map[string]any) (*gateway.ToolOutput, error)
	Close() error
}

// SessionFactory creates the one tool session a Run owns. Acquisition
// failures surface on the session's first use.
type SessionFactory func() ToolSession

// Outcome classifies how a run ended.
type Outcome string

// Terminal outcomes.
const (
	OutcomeCompleted      Outcome = "completed"       // model produced a final text turn
	OutcomeIterationLimit Outcome = "iteration_limit" // cap reached, best-effort text returned
	OutcomeFailed         Outcome = "failed"          // transport or protocol failure
)

// Result is the terminal state of one conversation. Text is always set.
type Result struct {
	Text       string
	Outcome    Outcome
	Iterations int
	ToolsUsed  []string

	// StorageFailures counts persistence errors that were logged and
	// swallowed during the run; StorageErr holds the last one.
	StorageFailures int
	StorageErr      error
}

// RunRequest describes one conversation.
type RunRequest struct {
	// SessionID keys persisted turns. Empty disables persistence for the run.
	SessionID  string
	User       string
	IncidentID string

	// Messages is the non-empty initial transcript, oldest first.
	Messages []transcript.Turn

	SystemPrompt string

	// MaxIterations overrides the orchestrator default when >= 1.
	MaxIterations int
}

// Orchestrator drives conversations. Safe for concurrent use: each Run owns
// its own transcript and gateway session, and the only shared collaborator is
// the session store.
type Orchestrator struct {
	completer  completion.Completer
	newSession SessionFactory
	sessions   store.SessionStore
	logger     *slog.Logger

	maxIterations int
	maxTokens     int
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithSessionStore enables turn persistence.
func WithSessionStore(s store.SessionStore) Option {
	return func(o *Orchestrator) { o.sessions = s }
}

// WithMaxIterations sets the default iteration cap. Values < 1 are ignored.
func WithMaxIterations(n int) Option {
	return func(o *Orchestrator) {
		if n >= 1 {
			o.maxIterations = n
		}
	}
}

// WithMaxTokens bounds each completion call.
func WithMaxTokens(n int) Option {
	return func(o *Orchestrator) { o.maxTokens = n }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an Orchestrator.
func New(completer completion.Completer, newSession SessionFactory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		completer:     completer,
		newSession:    newSession,
		logger:        slog.Default().With("component", "orchestrator"),
		maxIterations: DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one conversation to its terminal outcome. The returned Result
// is always non-nil with Text set; err is non-nil exactly when the outcome is
// OutcomeFailed.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*Result, error) {
	res := &Result{}

	if len(req.Messages) == 0 {
		return fail(res, fmt.Errorf("run: initial messages must be non-empty"))
	}
	maxIterations := o.maxIterations
	if req.MaxIterations >= 1 {
		maxIterations = req.MaxIterations
	}

	session := o.newSession()
	defer func() {
		if err := session.Close(); err != nil {
			o.logger.Warn("closing tool session", "error", err)
		}
	}()

	// Capability discovery happens once; the catalog is immutable for the
	// conversation.
	tools, err := session.ListTools(ctx)
	if err != nil {
		return fail(res, fmt.Errorf("tool discovery: %w", err))
	}

	tr := transcript.New(req.Messages...)

	// Persist the prompt that started this run. Earlier turns in
	// req.Messages are history the caller already stored.
	if last, ok := tr.Last(); ok && last.Role == transcript.RoleUser {
		o.persist(ctx, req, res, store.RoleUser, last.Text(), nil)
	}

	for {
		comp, err := o.completer.Complete(ctx, &completion.Request{
			System:    req.SystemPrompt,
			Turns:     tr.Turns(),
			Tools:     tools,
			MaxTokens: o.maxTokens,
		})
		if err != nil {
			return fail(res, fmt.Errorf("completion: %w", err))
		}

		assistant := comp.Turn()
		uses := assistant.ToolUses()

		if len(uses) == 0 {
			res.Text = assistant.Text()
			res.Outcome = OutcomeCompleted
			o.persist(ctx, req, res, store.RoleAssistant, res.Text, nil)
			return res, nil
		}

		tr.Append(assistant)

		names := make([]string, 0, len(uses))
		for _, use := range uses {
			names = append(names, use.ToolName)
		}
		res.ToolsUsed = append(res.ToolsUsed, names...)
		o.persist(ctx, req, res, store.RoleAssistant, assistant.Text(), names)

		// Sequential on purpose: no concurrency even when one turn requests
		// several tools.
		results := make([]transcript.Block, 0, len(uses))
		for _, use := range uses {
			o.logger.Info("invoking tool", "tool", use.ToolName, "iteration", res.Iterations+1)
			out, err := session.Invoke(ctx, use.ToolName, use.Arguments)
			if err != nil {
				// Host failure, not tool failure: the conversation ends.
				return fail(res, fmt.Errorf("invoking %s: %w", use.ToolName, err))
			}
			if out.IsError {
				o.logger.Warn("tool reported failure", "tool", use.ToolName)
			}
			results = append(results, transcript.ToolResultBlock(use.CallID, out.Text, out.IsError))
		}

		tr.Append(transcript.ToolResults(results))
		o.persist(ctx, req, res, store.RoleToolResult, joinResults(results), names)

		res.Iterations++
		if res.Iterations >= maxIterations {
			res.Outcome = OutcomeIterationLimit
			res.Text = assistant.Text()
			if strings.TrimSpace(res.Text) == "" {
				// The assistant turn is already in history; only the
				// synthesized notice needs a record of its own.
				res.Text = IterationLimitNotice
				o.persist(ctx, req, res, store.RoleAssistant, res.Text, nil)
			}
			o.logger.Warn("iteration limit reached", "iterations", res.Iterations)
			return res, nil
		}
	}
}

// persist appends one turn to the session store. Failures are logged,
// counted, and otherwise swallowed; history must never break a conversation.
func (o *Orchestrator) persist(ctx context.Context, req RunRequest, res *Result, role, content string, tools []string) {
	if o.sessions == nil || req.SessionID == "" {
		return
	}
	_, err := o.sessions.Append(ctx, store.ChatRecord{
		SessionID:  req.SessionID,
		Role:       role,
		Content:    content,
		User:       req.User,
		IncidentID: req.IncidentID,
		ToolsUsed:  tools,
	})
	if err != nil {
		res.StorageFailures++
		res.StorageErr = err
		o.logger.Warn("persisting turn failed", "session", req.SessionID, "role", role, "error", err)
	}
}

// joinResults flattens tool result blocks for history storage.
func joinResults(results []transcript.Block) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, r.Result)
	}
	return strings.Join(parts, "\n")
}

// fail marks the result failed with a clearly marked error string.
func fail(res *Result, err error) (*Result, error) {
	res.Outcome = OutcomeFailed
	res.Text = "[analysis error] " + err.Error()
	return res, err
}
