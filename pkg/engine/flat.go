package engine

import (
	"context"
	"fmt"

	"github.com/tombee/souschef/internal/log"
	"github.com/tombee/souschef/pkg/errors"
)

// executeFlat runs a flat recipe's step list from the current checkpoint.
// After every completed step the state is persisted, so a crash at any point
// resumes at the step that was in flight.
func (e *Executor) executeFlat(ctx context.Context, rs *runState) error {
	steps := rs.recipe.Steps
	total := len(steps)

	if rs.persist && rs.state.CurrentStepIndex == 0 {
		e.display.ShowMessage(
			fmt.Sprintf("📋 Starting recipe '%s' (%d steps)", rs.recipe.Name, total),
			"info", "souschef")
	}

	for i := rs.state.CurrentStepIndex; i < total; i++ {
		step := &steps[i]

		if err := e.pollCancellation(rs, step.ID); err != nil {
			var cancelErr *CancellationError
			if errors.As(err, &cancelErr) {
				return e.handleCancellation(rs, cancelErr)
			}
			return err
		}

		e.setStepMetadata(rs, step.ID, i, "")
		e.display.ShowMessage(
			fmt.Sprintf("[%d/%d] %s (%s)", i+1, total, step.ID, step.Type),
			"info", "souschef")

		_, err := e.executeStep(ctx, rs, step)
		if err != nil {
			var skipErr *SkipRemainingError
			if errors.As(err, &skipErr) {
				e.logger.Info("skipping remaining steps",
					log.String(log.SessionIDKey, rs.sessionID),
					log.String(log.StepIDKey, skipErr.StepID))
				break
			}
			var cancelErr *CancellationError
			if errors.As(err, &cancelErr) {
				return e.handleCancellation(rs, cancelErr)
			}
			// Persist the last successful checkpoint before surfacing.
			if saveErr := e.checkpoint(rs); saveErr != nil {
				e.logger.Error("saving state after step failure", log.Error(saveErr))
			}
			return err
		}

		rs.state.CompletedSteps = append(rs.state.CompletedSteps, step.ID)
		rs.state.CurrentStepIndex = i + 1
		if err := e.checkpoint(rs); err != nil {
			return errors.Wrapf(err, "checkpointing after step %s", step.ID)
		}
	}

	if rs.persist {
		e.display.ShowMessage(
			fmt.Sprintf("✅ Recipe '%s' completed", rs.recipe.Name),
			"info", "souschef")
	}
	return nil
}
