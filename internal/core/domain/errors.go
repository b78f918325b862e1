package domain

import "errors"

var (
	ErrCallNotFound         = errors.New("call not found")
	ErrCallConflict         = errors.New("a call is already in progress with this party")
	ErrInvalidCallState     = errors.New("operation not valid in current call state")
	ErrMediaAccess          = errors.New("media device unavailable or permission denied")
	ErrSignaling            = errors.New("malformed or out-of-order signaling payload")
	ErrNotificationDisabled = errors.New("notifications unavailable")
	ErrEngineClosed         = errors.New("peer connection engine closed")
)
