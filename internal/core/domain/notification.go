package domain

import "time"

type NotificationKind string

const (
	NotificationIncoming NotificationKind = "incoming"
	NotificationMissed   NotificationKind = "missed"
	NotificationEnded    NotificationKind = "ended"
)

type NotificationAction string

const (
	ActionAnswer   NotificationAction = "answer"
	ActionDecline  NotificationAction = "decline"
	ActionCallback NotificationAction = "callback"
)

// NotificationIntent is a call event requiring the user's attention.
// Created on the matching call-state transition, destroyed on user
// interaction or auto-expiry.
type NotificationIntent struct {
	Kind                NotificationKind     `json:"kind"`
	CallID              CallID               `json:"call_id"`
	Title               string               `json:"title"`
	Body                string               `json:"body"`
	RequiresInteraction bool                 `json:"requires_interaction"`
	Actions             []NotificationAction `json:"actions,omitempty"`
	ExpiresAt           time.Time            `json:"expires_at"`
}
