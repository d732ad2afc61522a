//go:build unit

package bank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_Transition(t *testing.T) {
	tests := []struct {
		name    string
		from    State
		to      State
		wantErr bool
	}{
		{name: "initiated to logged", from: StateInitiated, to: StateLogged},
		{name: "initiated to failed", from: StateInitiated, to: StateFailed},
		{name: "logged to committed", from: StateLogged, to: StateCommitted},
		{name: "logged to rolled back", from: StateLogged, to: StateRolledBack},

		{name: "initiated cannot commit", from: StateInitiated, to: StateCommitted, wantErr: true},
		{name: "initiated cannot roll back", from: StateInitiated, to: StateRolledBack, wantErr: true},
		{name: "logged cannot fail", from: StateLogged, to: StateFailed, wantErr: true},
		{name: "logged cannot restart", from: StateLogged, to: StateInitiated, wantErr: true},
		{name: "committed is terminal", from: StateCommitted, to: StateRolledBack, wantErr: true},
		{name: "rolled back is terminal", from: StateRolledBack, to: StateCommitted, wantErr: true},
		{name: "failed is terminal", from: StateFailed, to: StateLogged, wantErr: true},
		{name: "no self transition", from: StateLogged, to: StateLogged, wantErr: true},
		{name: "unknown state has no moves", from: State("UNKNOWN"), to: StateLogged, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := tt.from.Transition(tt.to)

			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidStateTransition)
				assert.Equal(t, tt.from, got, "state must not move on a rejected transition")

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.to, got)
		})
	}
}

func TestState_CanTransitionTo_MatchesTransition(t *testing.T) {
	t.Parallel()

	states := []State{StateInitiated, StateLogged, StateCommitted, StateRolledBack, StateFailed}

	for _, from := range states {
		for _, to := range states {
			_, err := from.Transition(to)
			assert.Equal(t, from.CanTransitionTo(to), err == nil,
				"CanTransitionTo and Transition disagree on %s to %s", from, to)
		}
	}
}

func TestState_Terminal(t *testing.T) {
	t.Parallel()

	assert.False(t, StateInitiated.Terminal())
	assert.False(t, StateLogged.Terminal())
	assert.True(t, StateCommitted.Terminal())
	assert.True(t, StateRolledBack.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, State("UNKNOWN").Terminal())
}
