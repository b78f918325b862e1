package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallTransition_HappyPath(t *testing.T) {
	call := &Call{
		ID:         "call-1",
		CallerID:   "alice",
		ReceiverID: "bob",
		Type:       CallTypeVideo,
		Status:     CallStatusInitiating,
		CreatedAt:  time.Now(),
	}

	require.NoError(t, call.Transition(CallStatusRinging))
	require.NoError(t, call.Transition(CallStatusConnecting))
	require.NoError(t, call.Transition(CallStatusActive))
	assert.NotNil(t, call.StartedAt)
	assert.Nil(t, call.EndedAt)

	require.NoError(t, call.Transition(CallStatusEnded))
	assert.NotNil(t, call.EndedAt)
}

func TestCallTransition_TerminalIsFinal(t *testing.T) {
	for _, terminal := range []CallStatus{CallStatusEnded, CallStatusRejected, CallStatusMissed, CallStatusFailed} {
		t.Run(string(terminal), func(t *testing.T) {
			call := &Call{Status: terminal}
			for _, next := range []CallStatus{CallStatusInitiating, CallStatusRinging, CallStatusConnecting, CallStatusActive, CallStatusEnded, CallStatusFailed} {
				err := call.Transition(next)
				assert.ErrorIs(t, err, ErrInvalidCallState)
			}
			assert.Equal(t, terminal, call.Status)
		})
	}
}

func TestCallTransition_InvalidSkips(t *testing.T) {
	call := &Call{Status: CallStatusInitiating}
	assert.ErrorIs(t, call.Transition(CallStatusActive), ErrInvalidCallState)
	assert.ErrorIs(t, call.Transition(CallStatusEnded), ErrInvalidCallState)

	call.Status = CallStatusRinging
	assert.ErrorIs(t, call.Transition(CallStatusActive), ErrInvalidCallState)
	require.NoError(t, call.Transition(CallStatusRejected))
}

func TestCallTransition_RingingOutcomes(t *testing.T) {
	for _, next := range []CallStatus{CallStatusConnecting, CallStatusRejected, CallStatusMissed, CallStatusFailed} {
		call := &Call{Status: CallStatusRinging}
		assert.NoError(t, call.Transition(next), "ringing -> %s", next)
	}
}

func TestCallStatus_IsTerminal(t *testing.T) {
	assert.False(t, CallStatusInitiating.IsTerminal())
	assert.False(t, CallStatusRinging.IsTerminal())
	assert.False(t, CallStatusConnecting.IsTerminal())
	assert.False(t, CallStatusActive.IsTerminal())
	assert.True(t, CallStatusEnded.IsTerminal())
	assert.True(t, CallStatusRejected.IsTerminal())
	assert.True(t, CallStatusMissed.IsTerminal())
	assert.True(t, CallStatusFailed.IsTerminal())
}

func TestCall_OtherParty(t *testing.T) {
	call := &Call{CallerID: "alice", ReceiverID: "bob"}
	assert.Equal(t, UserID("bob"), call.OtherParty("alice"))
	assert.Equal(t, UserID("alice"), call.OtherParty("bob"))
}

func TestCall_Duration(t *testing.T) {
	call := &Call{Status: CallStatusConnecting}
	assert.Equal(t, 0, call.Duration(), "never active")

	started := time.Now().Add(-90 * time.Second)
	ended := started.Add(65 * time.Second)
	call.StartedAt = &started
	call.EndedAt = &ended
	assert.Equal(t, 65, call.Duration())
}
