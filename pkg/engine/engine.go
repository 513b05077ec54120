// Package engine executes recipes: it schedules steps in order, checkpoints
// session state after every step, enforces recursion and rate limits, runs
// foreach loops sequentially or with bounded parallelism, pauses at approval
// gates, and honors two-level cancellation. Sessions survive arbitrary
// interruption and resume from the last checkpoint.
package engine

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/tombee/souschef/internal/log"
	"github.com/tombee/souschef/pkg/errors"
	"github.com/tombee/souschef/pkg/recipe"
	"github.com/tombee/souschef/pkg/recipe/expression"
	"github.com/tombee/souschef/pkg/session"
)

// SpawnRequest carries everything an external agent spawner needs to run one
// agent step.
type SpawnRequest struct {
	Agent         string
	Instruction   string
	ParentSession string
	AgentConfig   map[string]any
	Orchestrator  map[string]any
}

// Spawner dispatches a prompt to an external LLM agent and returns its
// opaque result record. A record that is a map with an "output" key is
// unwrapped to that key's value; anything else is used as-is.
type Spawner interface {
	Spawn(ctx context.Context, req SpawnRequest) (any, error)
}

// MentionResolver resolves "@namespace:path" recipe references to filesystem
// paths.
type MentionResolver interface {
	Resolve(mention string) (string, error)
}

// CancellationSignal is the process-wide cancellation flag, typically wired
// to SIGINT by the host.
type CancellationSignal interface {
	IsSet() bool
	IsImmediate() bool
}

// Display receives human-readable progress lines. Level is one of info,
// warning, error.
type Display interface {
	ShowMessage(message, level, source string)
}

type noopDisplay struct{}

func (noopDisplay) ShowMessage(string, string, string) {}

// Executor runs recipes against a session store and an agent spawner.
type Executor struct {
	store       *session.Store
	spawner     Spawner
	resolver    MentionResolver
	signal      CancellationSignal
	display     Display
	logger      *slog.Logger
	evaluator   *expression.Evaluator
	metrics     *Metrics
	projectPath string
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithMentionResolver installs the @-mention resolver for sub-recipe paths.
func WithMentionResolver(r MentionResolver) ExecutorOption {
	return func(e *Executor) { e.resolver = r }
}

// WithCancellationSignal installs the process-wide cancellation flag.
func WithCancellationSignal(s CancellationSignal) ExecutorOption {
	return func(e *Executor) { e.signal = s }
}

// WithDisplay installs the progress message sink.
func WithDisplay(d Display) ExecutorOption {
	return func(e *Executor) { e.display = d }
}

// WithExecutorLogger sets the structured logger.
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// WithMetrics installs prometheus instrumentation.
func WithMetrics(m *Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// New creates an executor. projectPath scopes session storage; spawner is
// required for agent steps.
func New(store *session.Store, spawner Spawner, projectPath string, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:       store,
		spawner:     spawner,
		display:     noopDisplay{},
		logger:      slog.Default(),
		evaluator:   expression.New(),
		projectPath: projectPath,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the outcome of a completed execution.
type Result struct {
	SessionID string
	Context   map[string]any
	Summary   map[string]any
}

// runState carries everything one recipe invocation needs. Sub-recipe
// invocations derive a child runState sharing sessionID, limiter, and the
// recursion counter, with persist off.
type runState struct {
	recipe    *recipe.Recipe
	recipeDir string
	sessionID string
	state     *session.State
	context   map[string]any
	recursion *RecursionState
	limiter   *RateLimiter
	persist   bool
}

// Execute runs a recipe from the start under a fresh session.
func (e *Executor) Execute(ctx context.Context, recipePath string, userContext map[string]any) (*Result, error) {
	r, err := recipe.Load(recipePath)
	if err != nil {
		return nil, err
	}
	if problems := r.Validate(); len(problems) > 0 {
		return nil, &errors.ValidationError{
			Field:      "recipe",
			Message:    strings.Join(problems, "; "),
			Suggestion: "fix the recipe file and re-run validate",
		}
	}

	sessionID, err := e.store.Create(r, e.projectPath, recipePath)
	if err != nil {
		return nil, err
	}
	e.metrics.SessionCreated()

	state, err := e.store.Load(sessionID, e.projectPath)
	if err != nil {
		return nil, err
	}

	execContext := make(map[string]any)
	for k, v := range r.Context {
		execContext[k] = v
	}
	for k, v := range userContext {
		execContext[k] = v
	}

	rs := &runState{
		recipe:    r,
		recipeDir: filepath.Dir(recipePath),
		sessionID: sessionID,
		state:     state,
		context:   execContext,
		recursion: NewRecursionState(effectiveRecursion(r), r.Name),
		limiter:   NewRateLimiter(r.RateLimiting, e.metrics),
		persist:   true,
	}
	return e.run(ctx, rs)
}

// Resume continues a previously persisted session from its last checkpoint,
// using the recipe snapshot stored with the session.
func (e *Executor) Resume(ctx context.Context, sessionID string) (*Result, error) {
	state, err := e.store.Load(sessionID, e.projectPath)
	if err != nil {
		return nil, err
	}

	recipePath := e.store.RecipePath(sessionID, e.projectPath)
	r, err := recipe.Load(recipePath)
	if err != nil {
		return nil, errors.Wrapf(err, "loading recipe snapshot for session %s", sessionID)
	}

	// A cancelled session resumes only after its flag is cleared.
	if state.CancellationStatus == session.CancellationCancelled {
		cleared, err := e.store.ClearCancellation(sessionID, e.projectPath)
		if err != nil {
			return nil, err
		}
		if cleared {
			e.logger.Info("cleared cancellation for resume",
				log.String(log.SessionIDKey, sessionID))
			state, err = e.store.Load(sessionID, e.projectPath)
			if err != nil {
				return nil, err
			}
		}
	}

	execContext := state.Context
	if execContext == nil {
		execContext = make(map[string]any)
	}

	rs := &runState{
		recipe:    r,
		recipeDir: filepath.Dir(recipePath),
		sessionID: sessionID,
		state:     state,
		context:   execContext,
		recursion: NewRecursionState(effectiveRecursion(r), r.Name),
		limiter:   NewRateLimiter(r.RateLimiting, e.metrics),
		persist:   true,
	}
	return e.run(ctx, rs)
}

func (e *Executor) run(ctx context.Context, rs *runState) (*Result, error) {
	e.injectMetadata(rs)

	var err error
	if rs.recipe.IsStaged() {
		err = e.executeStaged(ctx, rs)
	} else {
		err = e.executeFlat(ctx, rs)
	}
	if err != nil {
		return nil, err
	}

	result := &Result{
		SessionID: rs.sessionID,
		Context:   rs.context,
		Summary:   e.Summarize(rs),
	}
	if rs.persist {
		e.store.CleanupOldSessions(e.projectPath)
	}
	return result, nil
}

// injectMetadata writes the reserved recipe and session records into the
// context. The step record is refreshed per step by the executors.
func (e *Executor) injectMetadata(rs *runState) {
	rs.context["recipe"] = map[string]any{
		"name":        rs.recipe.Name,
		"version":     rs.recipe.Version,
		"description": rs.recipe.Description,
	}
	rs.context["session"] = map[string]any{
		"id":           rs.sessionID,
		"started":      rs.state.Started,
		"project_path": rs.state.ProjectPath,
	}
}

func (e *Executor) setStepMetadata(rs *runState, stepID string, index int, stage string) {
	meta := map[string]any{
		"id":    stepID,
		"index": index,
	}
	if stage != "" {
		meta["stage"] = stage
	}
	rs.context["step"] = meta
}

// markSkipped appends a step id to the context's skipped list.
func markSkipped(ctx map[string]any, stepID string) {
	skipped, _ := ctx["_skipped_steps"].([]any)
	ctx["_skipped_steps"] = append(skipped, stepID)
}

func effectiveRecursion(r *recipe.Recipe) recipe.RecursionConfig {
	if r.Recursion != nil {
		return *r.Recursion
	}
	return recipe.DefaultRecursionConfig()
}

// checkpoint persists the current execution progress. Only progress fields
// are written; cancellation and approval fields recorded on disk while the
// step ran are preserved by the store's merge. Sub-recipe invocations share
// the parent's session and do not checkpoint their own progress.
func (e *Executor) checkpoint(rs *runState) error {
	if !rs.persist {
		return nil
	}
	rs.state.Context = rs.context
	merged, err := e.store.SaveProgress(rs.sessionID, e.projectPath, rs.state)
	if err != nil {
		return err
	}
	rs.state = merged
	return nil
}

// pollCancellation checks the process-wide signal and the per-session flag.
// A set process signal is folded into the session store first so the state
// is durable, then the normal per-session check runs.
func (e *Executor) pollCancellation(rs *runState, currentStep string) error {
	if e.signal != nil && e.signal.IsSet() {
		_, _, err := e.store.RequestCancellation(rs.sessionID, e.projectPath, e.signal.IsImmediate())
		if err != nil {
			return err
		}
	}

	requested, err := e.store.IsCancellationRequested(rs.sessionID, e.projectPath)
	if err != nil {
		return err
	}
	if !requested {
		return nil
	}

	immediate, err := e.store.IsImmediateCancellation(rs.sessionID, e.projectPath)
	if err != nil {
		return err
	}
	return &CancellationError{
		SessionID:   rs.sessionID,
		Immediate:   immediate,
		CurrentStep: currentStep,
	}
}

// handleCancellation finalizes a cancellation: mark the session, persist the
// context, and report to the display.
func (e *Executor) handleCancellation(rs *runState, cancelErr *CancellationError) error {
	if rs.persist {
		if err := e.checkpoint(rs); err != nil {
			e.logger.Error("saving state during cancellation", log.Error(err))
		}
		if err := e.store.MarkCancelled(rs.sessionID, e.projectPath, cancelErr.CurrentStep); err != nil {
			e.logger.Error("marking session cancelled", log.Error(err))
		}
	}
	e.display.ShowMessage(
		"⚠️ Recipe cancelled at step '"+cancelErr.CurrentStep+"', session saved for resume",
		"warning", "souschef")
	return cancelErr
}
