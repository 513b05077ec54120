package engine

import (
	"context"
	"fmt"

	"github.com/tombee/souschef/internal/log"
	"github.com/tombee/souschef/pkg/errors"
	"github.com/tombee/souschef/pkg/recipe"
	"github.com/tombee/souschef/pkg/session"
)

// executeStaged runs a staged recipe from the current checkpoint, pausing
// after every gated stage, the final one included.
func (e *Executor) executeStaged(ctx context.Context, rs *runState) error {
	if rs.persist {
		if err := e.resolveApprovalState(rs); err != nil {
			return err
		}
	}

	stages := rs.recipe.Stages
	totalStages := len(stages)

	for si := rs.state.CurrentStageIndex; si < totalStages; si++ {
		stage := &stages[si]

		if err := e.pollCancellation(rs, stage.Name); err != nil {
			var cancelErr *CancellationError
			if errors.As(err, &cancelErr) {
				return e.handleCancellation(rs, cancelErr)
			}
			return err
		}

		rs.context["stage"] = map[string]any{
			"name":  stage.Name,
			"index": si,
		}
		e.display.ShowMessage(
			fmt.Sprintf("📦 Stage %d/%d: %s", si+1, totalStages, stage.Name),
			"info", "souschef")

		if err := e.executeStageSteps(ctx, rs, stage, si); err != nil {
			return err
		}

		rs.state.CompletedStages = append(rs.state.CompletedStages, stage.Name)
		rs.state.CurrentStageIndex = si + 1
		rs.state.CurrentStepInStage = 0

		if stage.Approval != nil && stage.Approval.Required {
			return e.pauseForApproval(rs, stage)
		}

		if err := e.checkpoint(rs); err != nil {
			return errors.Wrapf(err, "checkpointing after stage %s", stage.Name)
		}
	}

	if rs.persist {
		e.display.ShowMessage(
			fmt.Sprintf("✅ Recipe '%s' completed", rs.recipe.Name),
			"info", "souschef")
	}
	return nil
}

// executeStageSteps runs a stage's steps with flat-mode semantics scoped to
// the stage.
func (e *Executor) executeStageSteps(ctx context.Context, rs *runState, stage *recipe.Stage, stageIndex int) error {
	total := len(stage.Steps)

	for j := rs.state.CurrentStepInStage; j < total; j++ {
		step := &stage.Steps[j]

		if err := e.pollCancellation(rs, step.ID); err != nil {
			var cancelErr *CancellationError
			if errors.As(err, &cancelErr) {
				return e.handleCancellation(rs, cancelErr)
			}
			return err
		}

		e.setStepMetadata(rs, step.ID, j, stage.Name)
		e.display.ShowMessage(
			fmt.Sprintf("[%d/%d] %s (%s)", j+1, total, step.ID, step.Type),
			"info", "souschef")

		_, err := e.executeStep(ctx, rs, step)
		if err != nil {
			var skipErr *SkipRemainingError
			if errors.As(err, &skipErr) {
				e.logger.Info("skipping remaining steps in stage",
					log.String(log.SessionIDKey, rs.sessionID),
					log.String(log.StageKey, stage.Name),
					log.String(log.StepIDKey, skipErr.StepID))
				rs.state.CurrentStepInStage = total
				return e.checkpoint(rs)
			}
			var cancelErr *CancellationError
			if errors.As(err, &cancelErr) {
				return e.handleCancellation(rs, cancelErr)
			}
			if saveErr := e.checkpoint(rs); saveErr != nil {
				e.logger.Error("saving state after step failure", log.Error(saveErr))
			}
			return err
		}

		rs.state.CompletedSteps = append(rs.state.CompletedSteps, step.ID)
		rs.state.CurrentStepInStage = j + 1
		if err := e.checkpoint(rs); err != nil {
			return errors.Wrapf(err, "checkpointing after step %s", step.ID)
		}
	}
	return nil
}

// pauseForApproval persists the advanced state first, then sets the pending
// marker, then pauses. The ordering matters: a crash between the two writes
// leaves the state advanced with no marker, and resume re-creates the
// request rather than re-running the stage.
func (e *Executor) pauseForApproval(rs *runState, stage *recipe.Stage) error {
	if err := e.checkpoint(rs); err != nil {
		return errors.Wrapf(err, "checkpointing before approval gate at stage %s", stage.Name)
	}

	pending := &session.PendingApproval{
		StageName: stage.Name,
		Prompt:    stage.Approval.Prompt,
		Timeout:   stage.Approval.Timeout,
		Default:   stage.Approval.Default,
	}
	if err := e.store.SetPendingApproval(rs.sessionID, e.projectPath, pending); err != nil {
		return errors.Wrapf(err, "recording approval request for stage %s", stage.Name)
	}

	e.display.ShowMessage(
		fmt.Sprintf("⏸️ Stage '%s' complete, approval required: %s", stage.Name, stage.Approval.Prompt),
		"info", "souschef")

	return &ApprovalGatePausedError{
		SessionID: rs.sessionID,
		StageName: stage.Name,
		Prompt:    stage.Approval.Prompt,
	}
}

// resolveApprovalState handles resumption into a session that was paused at
// an approval gate. Timeout expiry is checked before anything else; then the
// recorded decision for the gated stage drives whether execution continues,
// pauses again, or fails.
func (e *Executor) resolveApprovalState(rs *runState) error {
	if rs.state.PendingApproval != nil {
		pending := rs.state.PendingApproval

		status, err := e.store.CheckApprovalTimeout(rs.sessionID, e.projectPath)
		if err != nil {
			return err
		}
		switch status {
		case session.ApprovalTimeout:
			return &ApprovalDeniedError{
				SessionID: rs.sessionID,
				StageName: pending.StageName,
				TimedOut:  true,
			}
		case session.ApprovalApproved:
			// Auto-approved by timeout default. The store recorded the
			// decision and cleared the marker; reload so later
			// checkpoints do not clobber it.
			fresh, err := e.store.Load(rs.sessionID, e.projectPath)
			if err != nil {
				return err
			}
			fresh.Context = rs.state.Context
			rs.state = fresh
			e.logger.Info("stage auto-approved by timeout default",
				log.String(log.SessionIDKey, rs.sessionID),
				log.String(log.StageKey, pending.StageName))
			return nil
		default:
			return &ApprovalGatePausedError{
				SessionID: rs.sessionID,
				StageName: pending.StageName,
				Prompt:    pending.Prompt,
			}
		}
	}

	// No pending marker. If the previous stage was gated, a recorded
	// decision must exist and must allow continuation.
	if rs.state.CurrentStageIndex == 0 || rs.state.CurrentStageIndex > len(rs.recipe.Stages) {
		return nil
	}
	prev := &rs.recipe.Stages[rs.state.CurrentStageIndex-1]
	if prev.Approval == nil || !prev.Approval.Required {
		return nil
	}
	if !contains(rs.state.CompletedStages, prev.Name) {
		return nil
	}

	approval, ok := rs.state.StageApprovals[prev.Name]
	if !ok {
		// Crash landed between the state save and the pending write.
		// Re-create the request and pause again.
		return e.pauseForApproval(rs, prev)
	}
	switch approval.Status {
	case session.ApprovalApproved:
		return nil
	case session.ApprovalTimeout:
		return &ApprovalDeniedError{
			SessionID: rs.sessionID,
			StageName: prev.Name,
			TimedOut:  true,
		}
	default:
		return &ApprovalDeniedError{
			SessionID: rs.sessionID,
			StageName: prev.Name,
			Reason:    approval.Reason,
		}
	}
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
