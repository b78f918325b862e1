package ports

import (
	"context"
	"time"

	"heartline/internal/core/domain"
)

// CallRepository persists the authoritative call record. Status
// updates are observable by both parties through Subscribe.
type CallRepository interface {
	Create(ctx context.Context, call *domain.Call) error
	GetByID(ctx context.Context, id domain.CallID) (*domain.Call, error)
	Update(ctx context.Context, call *domain.Call) error
	ListByUser(ctx context.Context, userID domain.UserID, limit, offset int) ([]*domain.Call, error)
	ListRecent(ctx context.Context, since time.Time, limit int) ([]*domain.Call, error)
	Subscribe(ctx context.Context, id domain.CallID) (<-chan domain.CallStatus, error)
}
