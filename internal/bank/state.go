package bank

import (
	"errors"
	"fmt"
)

// ErrInvalidStateTransition indicates a lifecycle move outside the
// transition table.
var ErrInvalidStateTransition = errors.New("invalid transaction state transition")

// State is the lifecycle state of a transaction.
//
// Transitions:
//
//	INITIATED → LOGGED | FAILED
//	LOGGED    → COMMITTED | ROLLED_BACK
type State string

const (
	// StateInitiated marks a transaction accepted but not yet recorded.
	StateInitiated State = "INITIATED"
	// StateLogged marks a transaction recorded in the audit log.
	StateLogged State = "LOGGED"
	// StateCommitted marks a transaction applied to the balance store.
	StateCommitted State = "COMMITTED"
	// StateRolledBack marks a transaction whose audit entry was removed
	// again after a failed commit.
	StateRolledBack State = "ROLLED_BACK"
	// StateFailed marks a transaction rejected before anything was recorded.
	StateFailed State = "FAILED"
)

// stateTransitions holds every legal lifecycle move. States without an
// entry are terminal.
var stateTransitions = map[State][]State{
	StateInitiated: {StateLogged, StateFailed},
	StateLogged:    {StateCommitted, StateRolledBack},
}

// CanTransitionTo reports whether moving to next is a legal lifecycle move.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range stateTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// Transition returns next when the move is legal, otherwise the receiver
// unchanged and an error wrapping ErrInvalidStateTransition.
func (s State) Transition(next State) (State, error) {
	if !s.CanTransitionTo(next) {
		return s, fmt.Errorf("%w: %s to %s", ErrInvalidStateTransition, s, next)
	}

	return next, nil
}

// Terminal reports whether s ends the lifecycle.
func (s State) Terminal() bool {
	switch s {
	case StateCommitted, StateRolledBack, StateFailed:
		return true
	default:
		return false
	}
}
