package notify

import (
	"heartline/internal/core/domain"
)

// UserMessenger pushes payloads to one connected client. The signaling
// hub satisfies it.
type UserMessenger interface {
	SendToUser(userID domain.UserID, data interface{}) error
	IsUserConnected(userID domain.UserID) bool
}
