package domain

import "time"

type CallID string
type UserID string

type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

type CallStatus string

const (
	CallStatusInitiating CallStatus = "initiating"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusConnecting CallStatus = "connecting"
	CallStatusActive     CallStatus = "active"
	CallStatusEnded      CallStatus = "ended"
	CallStatusRejected   CallStatus = "rejected"
	CallStatusMissed     CallStatus = "missed"
	CallStatusFailed     CallStatus = "failed"
)

// Call is a logical voice/video session between exactly two parties.
// Status moves monotonically through the transition table below and a
// terminal call is never mutated again.
type Call struct {
	ID         CallID     `json:"id"`
	CallerID   UserID     `json:"caller_id"`
	ReceiverID UserID     `json:"receiver_id"`
	Type       CallType   `json:"type"`
	Status     CallStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

var callTransitions = map[CallStatus][]CallStatus{
	CallStatusInitiating: {CallStatusRinging, CallStatusFailed},
	CallStatusRinging:    {CallStatusConnecting, CallStatusRejected, CallStatusMissed, CallStatusFailed},
	CallStatusConnecting: {CallStatusActive, CallStatusEnded, CallStatusFailed},
	CallStatusActive:     {CallStatusEnded, CallStatusFailed},
}

// IsTerminal reports whether the status is final.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusEnded, CallStatusRejected, CallStatusMissed, CallStatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether next is reachable from s in one step.
func (s CallStatus) CanTransition(next CallStatus) bool {
	for _, allowed := range callTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition moves the call to next, stamping StartedAt on the first
// transition to active and EndedAt on any terminal transition.
func (c *Call) Transition(next CallStatus) error {
	if c.Status.IsTerminal() {
		return ErrInvalidCallState
	}
	if !c.Status.CanTransition(next) {
		return ErrInvalidCallState
	}

	c.Status = next
	now := time.Now()
	if next == CallStatusActive && c.StartedAt == nil {
		c.StartedAt = &now
	}
	if next.IsTerminal() {
		c.EndedAt = &now
	}
	return nil
}

// OtherParty returns the participant opposite to the given user.
func (c *Call) OtherParty(user UserID) UserID {
	if user == c.CallerID {
		return c.ReceiverID
	}
	return c.CallerID
}

// Duration returns the seconds the call spent active, zero if it never
// reached active.
func (c *Call) Duration() int {
	if c.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if c.EndedAt != nil {
		end = *c.EndedAt
	}
	return int(end.Sub(*c.StartedAt).Seconds())
}
