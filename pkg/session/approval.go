package session

import (
	"fmt"
	"time"

	"github.com/tombee/souschef/internal/log"
	"github.com/tombee/souschef/pkg/errors"
)

// SetPendingApproval records an approval request for a stage. The engine
// saves execution progress before calling this, so a crash between the two
// writes at worst re-asks for an approval that was never surfaced.
func (s *Store) SetPendingApproval(sessionID, projectPath string, approval *PendingApproval) error {
	if approval.RequestedAt == "" {
		approval.RequestedAt = time.Now().Format(time.RFC3339)
	}
	_, err := s.update(sessionID, projectPath, func(state *State) error {
		state.PendingApproval = approval
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("approval requested",
		log.String(log.SessionIDKey, sessionID),
		log.String(log.StageKey, approval.StageName))
	return nil
}

// PendingApproval returns the current pending approval, or nil if none.
func (s *Store) PendingApproval(sessionID, projectPath string) (*PendingApproval, error) {
	state, err := s.Load(sessionID, projectPath)
	if err != nil {
		return nil, err
	}
	return state.PendingApproval, nil
}

// ClearPendingApproval removes the pending approval marker.
func (s *Store) ClearPendingApproval(sessionID, projectPath string) error {
	_, err := s.update(sessionID, projectPath, func(state *State) error {
		state.PendingApproval = nil
		return nil
	})
	return err
}

// SetStageApproval records a decision for a stage and clears the pending
// marker when it refers to the same stage.
func (s *Store) SetStageApproval(sessionID, projectPath, stageName string, status ApprovalStatus, reason string) error {
	_, err := s.update(sessionID, projectPath, func(state *State) error {
		if state.StageApprovals == nil {
			state.StageApprovals = make(map[string]StageApproval)
		}
		state.StageApprovals[stageName] = StageApproval{
			Status:    status,
			Reason:    reason,
			DecidedAt: time.Now().Format(time.RFC3339),
		}
		if state.PendingApproval != nil && state.PendingApproval.StageName == stageName {
			state.PendingApproval = nil
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("stage approval recorded",
		log.String(log.SessionIDKey, sessionID),
		log.String(log.StageKey, stageName),
		log.String("status", string(status)))
	return nil
}

// StageApproval returns the recorded decision for a stage.
func (s *Store) StageApproval(sessionID, projectPath, stageName string) (*StageApproval, error) {
	state, err := s.Load(sessionID, projectPath)
	if err != nil {
		return nil, err
	}
	approval, ok := state.StageApprovals[stageName]
	if !ok {
		return nil, &errors.NotFoundError{
			Resource: "stage approval",
			ID:       fmt.Sprintf("%s/%s", sessionID, stageName),
		}
	}
	return &approval, nil
}

// CheckApprovalTimeout inspects the pending approval and, if its timeout has
// expired, records the default decision and returns the resulting status.
// A timeout of zero never expires. Returns ApprovalPending while the gate is
// still open.
func (s *Store) CheckApprovalTimeout(sessionID, projectPath string) (ApprovalStatus, error) {
	state, err := s.Load(sessionID, projectPath)
	if err != nil {
		return "", err
	}
	pending := state.PendingApproval
	if pending == nil {
		return "", &errors.NotFoundError{Resource: "pending approval", ID: sessionID}
	}
	if pending.Timeout <= 0 {
		return ApprovalPending, nil
	}

	requested, err := time.Parse(time.RFC3339, pending.RequestedAt)
	if err != nil {
		return "", errors.Wrap(err, "parsing approval request time")
	}
	if time.Since(requested) < time.Duration(pending.Timeout)*time.Second {
		return ApprovalPending, nil
	}

	status := ApprovalTimeout
	reason := "approval timed out"
	if pending.Default == "approve" {
		status = ApprovalApproved
		reason = "auto-approved after timeout"
	}
	if err := s.SetStageApproval(sessionID, projectPath, pending.StageName, status, reason); err != nil {
		return "", err
	}
	return status, nil
}

// PendingApprovalInfo pairs a pending approval with its session for listing.
type PendingApprovalInfo struct {
	SessionID  string
	RecipeName string
	Approval   PendingApproval
}

// ListPendingApprovals scans all sessions in a project for open approval
// gates.
func (s *Store) ListPendingApprovals(projectPath string) ([]PendingApprovalInfo, error) {
	summaries, err := s.List(projectPath)
	if err != nil {
		return nil, err
	}

	var pending []PendingApprovalInfo
	for _, summary := range summaries {
		if summary.Status != "paused_for_approval" {
			continue
		}
		state, err := s.Load(summary.SessionID, projectPath)
		if err != nil || state.PendingApproval == nil {
			continue
		}
		pending = append(pending, PendingApprovalInfo{
			SessionID:  state.SessionID,
			RecipeName: state.RecipeName,
			Approval:   *state.PendingApproval,
		})
	}
	return pending, nil
}
