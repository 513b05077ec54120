package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/tombee/souschef/internal/log"
	"github.com/tombee/souschef/pkg/errors"
	"github.com/tombee/souschef/pkg/recipe"
)

// parseJSONInstruction is appended to agent prompts when parse_json is set
// so the agent knows structured output is expected.
const parseJSONInstruction = "\n\nIMPORTANT: Respond with valid JSON only. " +
	"Do not include any text before or after the JSON."

// executeStep runs one step end to end: condition gate, foreach delegation,
// kind dispatch with retry, post-processing, and output assignment into the
// context. Returns whether the step was skipped.
func (e *Executor) executeStep(ctx context.Context, rs *runState, step *recipe.Step) (skipped bool, err error) {
	if step.Condition != "" {
		ok, err := e.evaluator.Evaluate(step.Condition, rs.context)
		if err != nil {
			return false, errors.Wrapf(err, "evaluating condition for step %s", step.ID)
		}
		if !ok {
			e.logger.Debug("step skipped by condition",
				log.String(log.StepIDKey, step.ID))
			markSkipped(rs.context, step.ID)
			e.metrics.StepCompleted(string(step.Type), "skipped")
			return true, nil
		}
	}

	if step.Foreach != "" {
		return e.executeForeach(ctx, rs, step)
	}

	value, err := e.dispatchWithRetry(ctx, rs, step, rs.context)
	if err != nil {
		return false, err
	}
	e.assignOutput(rs.context, step, value)
	e.metrics.StepCompleted(string(step.Type), "completed")
	return false, nil
}

// dispatchWithRetry dispatches a step by kind, wrapping agent steps in the
// retry policy and applying on_error at the final attempt.
func (e *Executor) dispatchWithRetry(ctx context.Context, rs *runState, step *recipe.Step, stepContext map[string]any) (any, error) {
	retry := recipe.DefaultRetryConfig()
	if step.Type == recipe.StepAgent && step.Retry != nil {
		retry = *step.Retry
	}

	var lastErr error
	delay := time.Duration(retry.InitialDelay * float64(time.Second))
	maxDelay := time.Duration(retry.MaxDelay * float64(time.Second))

	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			e.metrics.Retry()
			e.logger.Warn("retrying step",
				log.String(log.StepIDKey, step.ID),
				log.Int("attempt", attempt),
				log.Error(lastErr))

			sleep := delay
			if sleep > maxDelay {
				sleep = maxDelay
			}
			if err := sleepCtx(ctx, sleep); err != nil {
				return nil, err
			}
			if retry.Backoff == "exponential" {
				delay *= 2
			} else {
				delay += time.Duration(retry.InitialDelay * float64(time.Second))
			}

			// A cancel issued while sleeping stops the retry loop.
			if err := e.pollCancellation(rs, step.ID); err != nil {
				return nil, err
			}
		}

		value, err := e.dispatch(ctx, rs, step, stepContext)
		if err == nil {
			return value, nil
		}
		lastErr = err

		// Control-flow signals pass through untouched.
		var cancelErr *CancellationError
		var pauseErr *ApprovalGatePausedError
		var skipErr *SkipRemainingError
		var recErr *RecursionError
		if errors.As(err, &cancelErr) || errors.As(err, &pauseErr) ||
			errors.As(err, &skipErr) || errors.As(err, &recErr) {
			return nil, err
		}
	}

	e.metrics.StepCompleted(string(step.Type), "failed")
	switch step.OnError {
	case recipe.OnErrorContinue:
		e.logger.Warn("step failed, continuing",
			log.String(log.StepIDKey, step.ID),
			log.Error(lastErr))
		return nil, nil
	case recipe.OnErrorSkipRemaining:
		return nil, &SkipRemainingError{StepID: step.ID, Cause: lastErr}
	default:
		return nil, errors.Wrapf(lastErr, "step %s failed", step.ID)
	}
}

// dispatch executes a step of any kind once and post-processes the result.
func (e *Executor) dispatch(ctx context.Context, rs *runState, step *recipe.Step, stepContext map[string]any) (any, error) {
	start := time.Now()

	var raw any
	var err error
	switch step.Type {
	case recipe.StepAgent:
		raw, err = e.runAgentStep(ctx, rs, step, stepContext)
	case recipe.StepBash:
		raw, err = e.runBashStep(ctx, step, stepContext)
	case recipe.StepRecipe:
		raw, err = e.runSubRecipeStep(ctx, rs, step, stepContext)
	default:
		return nil, &errors.ValidationError{
			Field:   fmt.Sprintf("steps.%s.type", step.ID),
			Message: fmt.Sprintf("unknown step type %q", step.Type),
		}
	}
	if err != nil {
		return nil, err
	}

	e.logger.Debug("step executed",
		log.String(log.StepIDKey, step.ID),
		log.String("kind", string(step.Type)),
		log.Duration(log.DurationKey, time.Since(start).Milliseconds()))

	return e.postProcess(step, raw), nil
}

// runAgentStep resolves the prompt and spawns the agent through the
// coordinator, under the rate limiter when one is configured. Each agent
// spawn counts against the shared recursion step budget.
func (e *Executor) runAgentStep(ctx context.Context, rs *runState, step *recipe.Step, stepContext map[string]any) (any, error) {
	if e.spawner == nil {
		return nil, &errors.SpawnError{
			Agent:   step.Agent,
			StepID:  step.ID,
			Message: "no agent spawner configured",
		}
	}
	if err := rs.recursion.IncrementSteps(); err != nil {
		return nil, err
	}

	instruction, err := recipe.Substitute(step.Prompt, stepContext)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving prompt for step %s", step.ID)
	}
	if step.Mode != "" {
		instruction = "MODE: " + step.Mode + "\n\n" + instruction
	}
	if step.ParseJSON {
		instruction += parseJSONInstruction
	}

	if err := rs.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	var orchestrator map[string]any
	if rs.recipe.Orchestrator != nil {
		orchestrator = rs.recipe.Orchestrator.Config
	}

	e.logger.Info("spawning agent",
		log.String(log.StepIDKey, step.ID),
		log.String(log.AgentKey, step.Agent))

	result, spawnErr := e.spawner.Spawn(ctx, SpawnRequest{
		Agent:         step.Agent,
		Instruction:   instruction,
		ParentSession: rs.sessionID,
		AgentConfig:   step.AgentConfig,
		Orchestrator:  orchestrator,
	})
	rs.limiter.Release(spawnErr)

	if spawnErr != nil {
		return nil, &errors.SpawnError{
			Agent:   step.Agent,
			StepID:  step.ID,
			Message: spawnErr.Error(),
			Cause:   spawnErr,
		}
	}
	return result, nil
}

// postProcess unwraps spawner output records and applies JSON extraction.
// Bash output falls back to aggressive extraction because command output is
// routinely structured.
func (e *Executor) postProcess(step *recipe.Step, raw any) any {
	value := unwrapOutput(raw)

	text, isString := value.(string)
	if !isString {
		return value
	}
	aggressive := step.ParseJSON || step.Type == recipe.StepBash
	return ExtractJSON(text, aggressive)
}

// unwrapOutput extracts the "output" field from spawner result records.
func unwrapOutput(raw any) any {
	if m, ok := raw.(map[string]any); ok {
		if out, ok := m["output"]; ok {
			return out
		}
	}
	return raw
}

// assignOutput stores a processed step value into the context under the
// step's declared output name.
func (e *Executor) assignOutput(ctx map[string]any, step *recipe.Step, value any) {
	if step.Output != "" {
		ctx[step.Output] = value
	}
}
