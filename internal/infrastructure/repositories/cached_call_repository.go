package repositories

import (
	"context"
	"fmt"
	"time"

	"heartline/internal/core/domain"
	"heartline/internal/core/ports"
	"heartline/pkg/cache"
)

// CachedCallRepository wraps a CallRepository with caching. Only terminal
// calls are cached by ID since they never change again; in-flight calls
// always hit the backing store. History lists get a short TTL and are
// invalidated on every write touching the user.
type CachedCallRepository struct {
	base     ports.CallRepository
	calls    *cache.Cache
	lists    *cache.CacheWithFallback
	listTTL  time.Duration
	callsTTL time.Duration
}

// NewCachedCallRepository creates a new caching decorator
func NewCachedCallRepository(base ports.CallRepository, callTTL, listTTL time.Duration) *CachedCallRepository {
	return &CachedCallRepository{
		base:     base,
		calls:    cache.NewCache(callTTL),
		lists:    cache.NewCacheWithFallback(listTTL),
		listTTL:  listTTL,
		callsTTL: callTTL,
	}
}

func (r *CachedCallRepository) Create(ctx context.Context, call *domain.Call) error {
	if err := r.base.Create(ctx, call); err != nil {
		return err
	}

	r.invalidateUserLists(call)
	return nil
}

func (r *CachedCallRepository) GetByID(ctx context.Context, id domain.CallID) (*domain.Call, error) {
	if value, ok := r.calls.Get(callCacheKey(id)); ok {
		copied := *(value.(*domain.Call))
		return &copied, nil
	}

	call, err := r.base.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if call.Status.IsTerminal() {
		stored := *call
		r.calls.Set(callCacheKey(id), &stored)
	}

	return call, nil
}

func (r *CachedCallRepository) Update(ctx context.Context, call *domain.Call) error {
	if err := r.base.Update(ctx, call); err != nil {
		return err
	}

	r.calls.Delete(callCacheKey(call.ID))
	r.invalidateUserLists(call)
	return nil
}

func (r *CachedCallRepository) ListByUser(ctx context.Context, userID domain.UserID, limit, offset int) ([]*domain.Call, error) {
	cacheKey := fmt.Sprintf("calls:user:%s:%d:%d", userID, limit, offset)

	value, err := r.lists.GetOrSet(ctx, cacheKey, func(ctx context.Context) (interface{}, error) {
		return r.base.ListByUser(ctx, userID, limit, offset)
	}, r.listTTL)
	if err != nil {
		return nil, err
	}

	return value.([]*domain.Call), nil
}

func (r *CachedCallRepository) ListRecent(ctx context.Context, since time.Time, limit int) ([]*domain.Call, error) {
	return r.base.ListRecent(ctx, since, limit)
}

func (r *CachedCallRepository) Subscribe(ctx context.Context, id domain.CallID) (<-chan domain.CallStatus, error) {
	return r.base.Subscribe(ctx, id)
}

// Stop releases cache cleanup goroutines
func (r *CachedCallRepository) Stop() {
	r.calls.Stop()
	r.lists.Stop()
}

func (r *CachedCallRepository) invalidateUserLists(call *domain.Call) {
	r.lists.Invalidate(fmt.Sprintf("calls:user:%s:", call.CallerID))
	r.lists.Invalidate(fmt.Sprintf("calls:user:%s:", call.ReceiverID))
}

func callCacheKey(id domain.CallID) string {
	return "call:" + string(id)
}

var _ ports.CallRepository = (*CachedCallRepository)(nil)
