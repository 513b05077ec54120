package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/tombee/souschef/internal/log"
	"github.com/tombee/souschef/pkg/errors"
	"github.com/tombee/souschef/pkg/recipe"
)

// executeForeach iterates a step over a collection, sequentially or with
// bounded parallelism. Returns whether the step was skipped (empty list).
func (e *Executor) executeForeach(ctx context.Context, rs *runState, step *recipe.Step) (bool, error) {
	value, err := recipe.ResolveRef(step.Foreach, rs.context)
	if err != nil {
		return false, err
	}

	items, ok := value.([]any)
	if !ok {
		return false, &errors.ValidationError{
			Field:   fmt.Sprintf("steps.%s.foreach", step.ID),
			Message: fmt.Sprintf("foreach must resolve to a list, got %T", value),
		}
	}

	if len(items) == 0 {
		e.logger.Debug("foreach list empty, skipping step",
			log.String(log.StepIDKey, step.ID))
		markSkipped(rs.context, step.ID)
		// An empty collect list keeps downstream length checks working.
		if step.Collect != "" {
			rs.context[step.Collect] = []any{}
		}
		e.metrics.StepCompleted(string(step.Type), "skipped")
		return true, nil
	}

	if len(items) > step.MaxIterations {
		return false, &errors.ValidationError{
			Field:   fmt.Sprintf("steps.%s.foreach", step.ID),
			Message: fmt.Sprintf("foreach list has %d items, exceeding max_iterations %d", len(items), step.MaxIterations),
		}
	}

	loopVar := step.LoopVar
	if loopVar == "" {
		loopVar = "item"
	}

	var results []any
	if step.Parallel.Enabled {
		results, err = e.runParallelLoop(ctx, rs, step, items, loopVar)
	} else {
		results, err = e.runSequentialLoop(ctx, rs, step, items, loopVar)
	}
	if err != nil {
		return false, err
	}

	if step.Collect != "" {
		rs.context[step.Collect] = results
	} else if step.Output != "" && len(results) > 0 {
		rs.context[step.Output] = results[len(results)-1]
	}
	e.metrics.StepCompleted(string(step.Type), "completed")
	return false, nil
}

// runSequentialLoop dispatches one item at a time against the live context.
// The loop variable exists only for the duration of its iteration; cleanup
// happens on every exit path, including errors and cancellation.
func (e *Executor) runSequentialLoop(ctx context.Context, rs *runState, step *recipe.Step, items []any, loopVar string) (results []any, err error) {
	defer delete(rs.context, loopVar)

	for i, item := range items {
		if err := e.pollCancellation(rs, step.ID); err != nil {
			return nil, err
		}

		rs.context[loopVar] = item
		value, err := e.dispatchWithRetry(ctx, rs, step, rs.context)
		if err != nil {
			var cancelErr *CancellationError
			var skipErr *SkipRemainingError
			if errors.As(err, &cancelErr) || errors.As(err, &skipErr) {
				return nil, err
			}
			return nil, errors.Wrapf(err, "step '%s' iteration %d failed", step.ID, i)
		}
		results = append(results, value)
	}
	return results, nil
}

// runParallelLoop fans items out over an errgroup. Each iteration gets a
// shallow context copy with the loop variable overlaid; iteration writes are
// not merged back, only the collected return values are. Results keep input
// order regardless of completion order; the first error wins.
func (e *Executor) runParallelLoop(ctx context.Context, rs *runState, step *recipe.Step, items []any, loopVar string) ([]any, error) {
	if err := e.pollCancellation(rs, step.ID); err != nil {
		return nil, err
	}

	// Agent fan-out reserves its whole step budget atomically so a loop
	// either fits or fails before the first spawn.
	iterState := rs
	if step.Type == recipe.StepAgent {
		if err := rs.recursion.ReserveSteps(len(items)); err != nil {
			return nil, err
		}
		reserved := *rs
		reserved.recursion = rs.recursion.WithPreReserved()
		iterState = &reserved
	}

	limit := -1
	if step.Parallel.Limit > 0 {
		limit = step.Parallel.Limit
	}

	e.logger.Info("parallel foreach starting",
		log.String(log.StepIDKey, step.ID),
		log.Int("items", len(items)),
		log.Int("limit", step.Parallel.Limit))

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	results := make([]any, len(items))
	for i, item := range items {
		g.Go(func() error {
			iterContext := make(map[string]any, len(rs.context)+1)
			for k, v := range rs.context {
				iterContext[k] = v
			}
			iterContext[loopVar] = item

			value, err := e.dispatchWithRetry(groupCtx, iterState, step, iterContext)
			if err != nil {
				return errors.Wrapf(err, "step '%s' iteration %d failed", step.ID, i)
			}
			results[i] = value
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
