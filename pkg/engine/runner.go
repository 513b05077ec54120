package engine

import (
	"context"
	"fmt"

	"github.com/tombee/souschef/pkg/errors"
	"github.com/tombee/souschef/pkg/recipe"
	"github.com/tombee/souschef/pkg/session"
)

// Outcome is the payload an outer operation returns to its caller.
type Outcome struct {
	Status    string         `json:"status"` // success, paused, cancelled
	SessionID string         `json:"session_id,omitempty"`
	StageName string         `json:"stage_name,omitempty"`
	Prompt    string         `json:"prompt,omitempty"`
	Message   string         `json:"message,omitempty"`
	Summary   map[string]any `json:"summary,omitempty"`
}

// Runner maps the outer tool operations onto the executor and session store.
type Runner struct {
	executor    *Executor
	store       *session.Store
	projectPath string
}

// NewRunner creates the operations facade.
func NewRunner(executor *Executor, store *session.Store, projectPath string) *Runner {
	return &Runner{
		executor:    executor,
		store:       store,
		projectPath: projectPath,
	}
}

// Execute runs a recipe from the start.
func (r *Runner) Execute(ctx context.Context, recipePath string, userContext map[string]any) (*Outcome, error) {
	result, err := r.executor.Execute(ctx, recipePath, userContext)
	return r.outcomeFrom(result, err)
}

// Resume continues a persisted session.
func (r *Runner) Resume(ctx context.Context, sessionID string) (*Outcome, error) {
	result, err := r.executor.Resume(ctx, sessionID)
	return r.outcomeFrom(result, err)
}

// outcomeFrom folds pause and cancellation signals into outcome payloads;
// real failures stay errors.
func (r *Runner) outcomeFrom(result *Result, err error) (*Outcome, error) {
	if err != nil {
		var pauseErr *ApprovalGatePausedError
		if errors.As(err, &pauseErr) {
			return &Outcome{
				Status:    "paused",
				SessionID: pauseErr.SessionID,
				StageName: pauseErr.StageName,
				Prompt:    pauseErr.Prompt,
				Message: fmt.Sprintf("paused for approval at stage '%s', approve or deny then resume",
					pauseErr.StageName),
			}, nil
		}
		var cancelErr *CancellationError
		if errors.As(err, &cancelErr) {
			return &Outcome{
				Status:    "cancelled",
				SessionID: cancelErr.SessionID,
				Message: fmt.Sprintf("cancelled at step '%s', session saved for resume",
					cancelErr.CurrentStep),
			}, nil
		}
		return nil, err
	}
	return &Outcome{
		Status:    "success",
		SessionID: result.SessionID,
		Summary:   result.Summary,
	}, nil
}

// List enumerates sessions for the project.
func (r *Runner) List() ([]session.Summary, error) {
	return r.store.List(r.projectPath)
}

// Validate loads a recipe and returns its structural problems, empty when
// the recipe is valid.
func (r *Runner) Validate(recipePath string) (*recipe.Recipe, []string, error) {
	rec, err := recipe.Load(recipePath)
	if err != nil {
		return nil, nil, err
	}
	return rec, rec.Validate(), nil
}

// Approvals lists open approval gates across the project's sessions.
func (r *Runner) Approvals() ([]session.PendingApprovalInfo, error) {
	return r.store.ListPendingApprovals(r.projectPath)
}

// Approve records an approval decision for a paused stage.
func (r *Runner) Approve(sessionID, stageName string) (*Outcome, error) {
	if err := r.requirePending(sessionID, stageName); err != nil {
		return nil, err
	}
	if err := r.store.SetStageApproval(sessionID, r.projectPath, stageName, session.ApprovalApproved, ""); err != nil {
		return nil, err
	}
	return &Outcome{
		Status:    "success",
		SessionID: sessionID,
		StageName: stageName,
		Message:   fmt.Sprintf("stage '%s' approved, resume the session to continue", stageName),
	}, nil
}

// Deny records a denial for a paused stage.
func (r *Runner) Deny(sessionID, stageName, reason string) (*Outcome, error) {
	if err := r.requirePending(sessionID, stageName); err != nil {
		return nil, err
	}
	if err := r.store.SetStageApproval(sessionID, r.projectPath, stageName, session.ApprovalDenied, reason); err != nil {
		return nil, err
	}
	return &Outcome{
		Status:    "success",
		SessionID: sessionID,
		StageName: stageName,
		Message:   fmt.Sprintf("stage '%s' denied", stageName),
	}, nil
}

// Cancel requests cancellation of a running or resumable session.
func (r *Runner) Cancel(sessionID string, immediate bool) (*Outcome, error) {
	changed, message, err := r.store.RequestCancellation(sessionID, r.projectPath, immediate)
	if err != nil {
		return nil, err
	}
	status := "success"
	if !changed {
		status = "unchanged"
	}
	return &Outcome{
		Status:    status,
		SessionID: sessionID,
		Message:   message,
	}, nil
}

// requirePending verifies the session is actually paused at the named stage.
func (r *Runner) requirePending(sessionID, stageName string) error {
	pending, err := r.store.PendingApproval(sessionID, r.projectPath)
	if err != nil {
		return err
	}
	if pending == nil {
		return &errors.NotFoundError{Resource: "pending approval", ID: sessionID}
	}
	if pending.StageName != stageName {
		return &errors.ValidationError{
			Field:   "stage_name",
			Message: fmt.Sprintf("session is paused at stage '%s', not '%s'", pending.StageName, stageName),
		}
	}
	return nil
}
