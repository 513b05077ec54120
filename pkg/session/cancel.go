package session

import (
	"fmt"
	"time"

	"github.com/tombee/souschef/internal/log"
)

// RequestCancellation flags a session for cancellation. A graceful request on
// an already-requested session upgrades it to immediate; requests on a
// cancelled or immediate session are no-ops. Returns whether the state
// changed and a human-readable description of what happened.
func (s *Store) RequestCancellation(sessionID, projectPath string, immediate bool) (bool, string, error) {
	var changed bool
	var message string

	_, err := s.update(sessionID, projectPath, func(state *State) error {
		switch state.CancellationStatus {
		case CancellationCancelled:
			message = fmt.Sprintf("session %s is already cancelled", sessionID)
		case CancellationImmediate:
			message = fmt.Sprintf("session %s already has immediate cancellation pending", sessionID)
		case CancellationRequested:
			if immediate {
				state.CancellationStatus = CancellationImmediate
				changed = true
				message = "cancellation upgraded to immediate"
			} else {
				// A second graceful request escalates.
				state.CancellationStatus = CancellationImmediate
				changed = true
				message = "cancellation already requested, upgrading to immediate"
			}
		default:
			if immediate {
				state.CancellationStatus = CancellationImmediate
				message = "immediate cancellation requested"
			} else {
				state.CancellationStatus = CancellationRequested
				message = "graceful cancellation requested, will stop after current step"
			}
			changed = true
		}
		return nil
	})
	if err != nil {
		return false, "", err
	}

	if changed {
		s.logger.Info("cancellation requested",
			log.String(log.SessionIDKey, sessionID),
			log.Bool("immediate", immediate))
	}
	return changed, message, nil
}

// CancellationStatus returns the session's current cancellation state.
func (s *Store) CancellationStatus(sessionID, projectPath string) (CancellationStatus, error) {
	state, err := s.Load(sessionID, projectPath)
	if err != nil {
		return "", err
	}
	if state.CancellationStatus == "" {
		return CancellationNone, nil
	}
	return state.CancellationStatus, nil
}

// IsCancellationRequested reports whether any form of cancellation is
// pending for the session.
func (s *Store) IsCancellationRequested(sessionID, projectPath string) (bool, error) {
	status, err := s.CancellationStatus(sessionID, projectPath)
	if err != nil {
		return false, err
	}
	return status == CancellationRequested || status == CancellationImmediate, nil
}

// IsImmediateCancellation reports whether the session should stop without
// finishing the current step.
func (s *Store) IsImmediateCancellation(sessionID, projectPath string) (bool, error) {
	status, err := s.CancellationStatus(sessionID, projectPath)
	if err != nil {
		return false, err
	}
	return status == CancellationImmediate, nil
}

// MarkCancelled finalizes a pending cancellation, recording where execution
// stopped.
func (s *Store) MarkCancelled(sessionID, projectPath, cancelledAtStep string) error {
	_, err := s.update(sessionID, projectPath, func(state *State) error {
		state.CancellationStatus = CancellationCancelled
		state.CancelledAtStep = cancelledAtStep
		state.CancelledAt = time.Now().Format(time.RFC3339)
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("session cancelled",
		log.String(log.SessionIDKey, sessionID),
		log.String(log.StepIDKey, cancelledAtStep))
	return nil
}

// ClearCancellation resets cancellation state so a cancelled session can be
// resumed. Only a fully cancelled session can be cleared; pending requests
// must run their course.
func (s *Store) ClearCancellation(sessionID, projectPath string) (bool, error) {
	var cleared bool
	_, err := s.update(sessionID, projectPath, func(state *State) error {
		if state.CancellationStatus != CancellationCancelled {
			return nil
		}
		state.CancellationStatus = CancellationNone
		state.CancelledAtStep = ""
		state.CancelledAt = ""
		cleared = true
		return nil
	})
	return cleared, err
}
