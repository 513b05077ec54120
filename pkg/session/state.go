// Package session provides the durable per-session store for recipe
// execution: checkpointed state, approval gates, and cancellation flags.
// The store exclusively owns on-disk state; every mutation is a
// load-modify-save so concurrent readers see a coherent snapshot.
package session

// ApprovalStatus is the decision state of a stage approval gate.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
	ApprovalTimeout  ApprovalStatus = "timeout"
)

// CancellationStatus tracks the cancellation lifecycle of a session.
// Transitions are monotonic: none -> requested -> immediate -> cancelled.
// Only an explicit clear moves a cancelled session back to none.
type CancellationStatus string

const (
	CancellationNone      CancellationStatus = "none"
	CancellationRequested CancellationStatus = "requested"
	CancellationImmediate CancellationStatus = "immediate"
	CancellationCancelled CancellationStatus = "cancelled"
)

// PendingApproval records an approval request awaiting a human decision.
type PendingApproval struct {
	StageName   string `json:"stage_name"`
	Prompt      string `json:"approval_prompt"`
	Timeout     int    `json:"timeout"` // seconds; 0 = wait forever
	Default     string `json:"default"` // "deny" or "approve" on timeout
	RequestedAt string `json:"requested_at"`
}

// StageApproval records the decision made for a stage.
type StageApproval struct {
	Status    ApprovalStatus `json:"status"`
	Reason    string         `json:"reason,omitempty"`
	DecidedAt string         `json:"decided_at,omitempty"`
}

// State is the persisted session document. Flat recipes track
// CurrentStepIndex; staged recipes set IsStaged and track stage-scoped
// progress plus approval bookkeeping.
type State struct {
	SessionID      string         `json:"session_id"`
	RecipeName     string         `json:"recipe_name"`
	RecipeVersion  string         `json:"recipe_version"`
	Started        string         `json:"started"`
	ProjectPath    string         `json:"project_path"`
	Context        map[string]any `json:"context"`
	CompletedSteps []string       `json:"completed_steps"`

	// Flat mode
	CurrentStepIndex int `json:"current_step_index"`

	// Staged mode
	IsStaged           bool     `json:"is_staged,omitempty"`
	CurrentStageIndex  int      `json:"current_stage_index,omitempty"`
	CurrentStepInStage int      `json:"current_step_in_stage,omitempty"`
	CompletedStages    []string `json:"completed_stages,omitempty"`

	PendingApproval *PendingApproval         `json:"pending_approval,omitempty"`
	StageApprovals  map[string]StageApproval `json:"stage_approvals,omitempty"`

	CancellationStatus CancellationStatus `json:"cancellation_status,omitempty"`
	CancelledAtStep    string             `json:"cancelled_at_step,omitempty"`
	CancelledAt        string             `json:"cancelled_at,omitempty"`
}

// Summary is the compact session listing returned by List.
type Summary struct {
	SessionID      string `json:"session_id"`
	RecipeName     string `json:"recipe_name"`
	RecipeVersion  string `json:"recipe_version"`
	Started        string `json:"started"`
	Status         string `json:"status"`
	CompletedSteps int    `json:"completed_steps"`
	PendingStage   string `json:"pending_stage,omitempty"`
}

// Status derives a display status from the session state.
func (s *State) Status() string {
	switch {
	case s.CancellationStatus == CancellationCancelled:
		return "cancelled"
	case s.PendingApproval != nil:
		return "paused_for_approval"
	default:
		return "in_progress"
	}
}
