package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApprovalTransitions(t *testing.T) {
	tests := []struct {
		name string
		from ApprovalStatus
		to   ApprovalStatus
		ok   bool
	}{
		{"pending to approved", StatusPending, StatusApproved, true},
		{"pending to denied", StatusPending, StatusDenied, true},
		{"approved to fulfilled", StatusApproved, StatusFulfilled, true},
		{"pending to fulfilled", StatusPending, StatusFulfilled, false},
		{"approved to denied", StatusApproved, StatusDenied, false},
		{"denied is terminal", StatusDenied, StatusApproved, false},
		{"fulfilled is terminal", StatusFulfilled, StatusApproved, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &ApprovalRequest{Status: tt.from}
			err := req.CanTransitionTo(tt.to)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}
		})
	}
}

func TestApprovalTerminal(t *testing.T) {
	assert.False(t, (&ApprovalRequest{Status: StatusPending}).Terminal())
	assert.False(t, (&ApprovalRequest{Status: StatusApproved}).Terminal())
	assert.True(t, (&ApprovalRequest{Status: StatusDenied}).Terminal())
	assert.True(t, (&ApprovalRequest{Status: StatusFulfilled}).Terminal())
}

func TestTurnAdvance(t *testing.T) {
	turn := &Turn{State: TurnDispatched}

	require.NoError(t, turn.Advance(TurnStreaming))
	require.NoError(t, turn.Advance(TurnAwaitingApproval))
	require.NoError(t, turn.Advance(TurnResumed))
	require.NoError(t, turn.Advance(TurnCompleted))
	assert.True(t, turn.Done())

	// Из терминального состояния выхода нет
	assert.ErrorIs(t, turn.Advance(TurnStreaming), ErrInvalidTransition)
}

func TestTurnAdvanceSkippingApproval(t *testing.T) {
	turn := &Turn{State: TurnDispatched}

	require.NoError(t, turn.Advance(TurnStreaming))
	require.NoError(t, turn.Advance(TurnCompleted))
	assert.True(t, turn.Done())
}

func TestTurnAdvanceInvalid(t *testing.T) {
	turn := &Turn{State: TurnDispatched}

	// Нельзя перепрыгнуть streaming
	assert.ErrorIs(t, turn.Advance(TurnAwaitingApproval), ErrInvalidTransition)
	assert.ErrorIs(t, turn.Advance(TurnResumed), ErrInvalidTransition)
}
