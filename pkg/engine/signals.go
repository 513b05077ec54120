package engine

import "fmt"

// SkipRemainingError is the sentinel raised by a step whose on_error policy
// is skip_remaining. The executor catches it to end the step loop without
// failing the recipe.
type SkipRemainingError struct {
	StepID string
	Cause  error
}

func (e *SkipRemainingError) Error() string {
	return fmt.Sprintf("step %s failed, skipping remaining steps", e.StepID)
}

func (e *SkipRemainingError) Unwrap() error {
	return e.Cause
}

// ApprovalGatePausedError signals that execution stopped at an approval gate
// and is waiting for a human decision. It is a pause, not a failure.
type ApprovalGatePausedError struct {
	SessionID string
	StageName string
	Prompt    string
}

func (e *ApprovalGatePausedError) Error() string {
	return fmt.Sprintf("paused for approval at stage '%s' (session %s)", e.StageName, e.SessionID)
}

// CancellationError signals that execution stopped because cancellation was
// requested. The session remains resumable.
type CancellationError struct {
	SessionID   string
	Immediate   bool
	CurrentStep string
}

func (e *CancellationError) Error() string {
	kind := "graceful"
	if e.Immediate {
		kind = "immediate"
	}
	return fmt.Sprintf("execution cancelled (%s) at step '%s' (session %s)", kind, e.CurrentStep, e.SessionID)
}

// RecursionError signals that a sub-recipe invocation exceeded the depth or
// cumulative step limits. Fatal to the whole recipe tree.
type RecursionError struct {
	Message string
}

func (e *RecursionError) Error() string {
	return e.Message
}

// ApprovalDeniedError signals that a stage approval was denied or timed out.
type ApprovalDeniedError struct {
	SessionID string
	StageName string
	Reason    string
	TimedOut  bool
}

func (e *ApprovalDeniedError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("approval for stage '%s' timed out and was denied", e.StageName)
	}
	if e.Reason != "" {
		return fmt.Sprintf("execution denied at stage '%s': %s", e.StageName, e.Reason)
	}
	return fmt.Sprintf("execution denied at stage '%s'", e.StageName)
}
