package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"heartline/internal/core/domain"
	"heartline/internal/core/ports"
)

// MemoryCallRepository is an in-memory implementation of CallRepository.
// Suitable for tests and single-node deployments without Redis.
type MemoryCallRepository struct {
	mu          sync.RWMutex
	calls       map[domain.CallID]*domain.Call
	subscribers map[domain.CallID][]chan domain.CallStatus
}

// NewMemoryCallRepository creates a new in-memory call repository.
func NewMemoryCallRepository() *MemoryCallRepository {
	return &MemoryCallRepository{
		calls:       make(map[domain.CallID]*domain.Call),
		subscribers: make(map[domain.CallID][]chan domain.CallStatus),
	}
}

func (r *MemoryCallRepository) Create(ctx context.Context, call *domain.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.calls[call.ID]; exists {
		return domain.ErrCallConflict
	}

	stored := *call
	r.calls[call.ID] = &stored
	return nil
}

func (r *MemoryCallRepository) GetByID(ctx context.Context, id domain.CallID) (*domain.Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	call, exists := r.calls[id]
	if !exists {
		return nil, domain.ErrCallNotFound
	}

	copied := *call
	return &copied, nil
}

func (r *MemoryCallRepository) Update(ctx context.Context, call *domain.Call) error {
	r.mu.Lock()

	prev, exists := r.calls[call.ID]
	if !exists {
		r.mu.Unlock()
		return domain.ErrCallNotFound
	}

	statusChanged := prev.Status != call.Status
	stored := *call
	r.calls[call.ID] = &stored

	var subs []chan domain.CallStatus
	if statusChanged {
		subs = append(subs, r.subscribers[call.ID]...)
	}
	r.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- call.Status:
		default:
			// Slow subscriber, drop the update rather than block.
		}
	}

	return nil
}

func (r *MemoryCallRepository) ListByUser(ctx context.Context, userID domain.UserID, limit, offset int) ([]*domain.Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var calls []*domain.Call
	for _, call := range r.calls {
		if call.CallerID == userID || call.ReceiverID == userID {
			copied := *call
			calls = append(calls, &copied)
		}
	}

	sort.Slice(calls, func(i, j int) bool {
		return calls[i].CreatedAt.After(calls[j].CreatedAt)
	})

	if offset > 0 {
		if offset >= len(calls) {
			return nil, nil
		}
		calls = calls[offset:]
	}
	if limit > 0 && len(calls) > limit {
		calls = calls[:limit]
	}

	return calls, nil
}

func (r *MemoryCallRepository) ListRecent(ctx context.Context, since time.Time, limit int) ([]*domain.Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var calls []*domain.Call
	for _, call := range r.calls {
		if !call.CreatedAt.Before(since) {
			copied := *call
			calls = append(calls, &copied)
		}
	}

	sort.Slice(calls, func(i, j int) bool {
		return calls[i].CreatedAt.After(calls[j].CreatedAt)
	})

	if limit > 0 && len(calls) > limit {
		calls = calls[:limit]
	}

	return calls, nil
}

func (r *MemoryCallRepository) Subscribe(ctx context.Context, id domain.CallID) (<-chan domain.CallStatus, error) {
	r.mu.Lock()

	if _, exists := r.calls[id]; !exists {
		r.mu.Unlock()
		return nil, domain.ErrCallNotFound
	}

	ch := make(chan domain.CallStatus, 8)
	r.subscribers[id] = append(r.subscribers[id], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		subs := r.subscribers[id]
		for i, sub := range subs {
			if sub == ch {
				r.subscribers[id] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		r.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

var _ ports.CallRepository = (*MemoryCallRepository)(nil)
