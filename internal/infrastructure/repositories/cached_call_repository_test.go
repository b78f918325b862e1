package repositories

import (
	"context"
	"sync"
	"testing"
	"time"

	"heartline/internal/core/domain"
	"heartline/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingRepository tracks how many reads reach the backing store.
type countingRepository struct {
	*memory.MemoryCallRepository

	mu       sync.Mutex
	getCalls int
	lists    int
}

func newCountingRepository() *countingRepository {
	return &countingRepository{MemoryCallRepository: memory.NewMemoryCallRepository()}
}

func (r *countingRepository) GetByID(ctx context.Context, id domain.CallID) (*domain.Call, error) {
	r.mu.Lock()
	r.getCalls++
	r.mu.Unlock()
	return r.MemoryCallRepository.GetByID(ctx, id)
}

func (r *countingRepository) ListByUser(ctx context.Context, userID domain.UserID, limit, offset int) ([]*domain.Call, error) {
	r.mu.Lock()
	r.lists++
	r.mu.Unlock()
	return r.MemoryCallRepository.ListByUser(ctx, userID, limit, offset)
}

func (r *countingRepository) getCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getCalls
}

func (r *countingRepository) listCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lists
}

func seedCall(t *testing.T, repo *countingRepository, id domain.CallID, status domain.CallStatus) *domain.Call {
	t.Helper()
	call := &domain.Call{
		ID:         id,
		CallerID:   "alice",
		ReceiverID: "bob",
		Type:       domain.CallTypeAudio,
		Status:     domain.CallStatusInitiating,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, repo.Create(context.Background(), call))
	if status != domain.CallStatusInitiating {
		call.Status = status
		require.NoError(t, repo.Update(context.Background(), call))
	}
	return call
}

func TestGetByID_TerminalCallIsCached(t *testing.T) {
	base := newCountingRepository()
	cached := NewCachedCallRepository(base, time.Minute, time.Minute)
	defer cached.Stop()
	ctx := context.Background()

	seedCall(t, base, "c1", domain.CallStatusEnded)

	for i := 0; i < 3; i++ {
		call, err := cached.GetByID(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, domain.CallStatusEnded, call.Status)
	}

	// First read populates the cache, later reads never hit the store.
	assert.Equal(t, 1, base.getCount())
}

func TestGetByID_LiveCallIsNeverCached(t *testing.T) {
	base := newCountingRepository()
	cached := NewCachedCallRepository(base, time.Minute, time.Minute)
	defer cached.Stop()
	ctx := context.Background()

	call := seedCall(t, base, "c1", domain.CallStatusRinging)

	for i := 0; i < 3; i++ {
		_, err := cached.GetByID(ctx, "c1")
		require.NoError(t, err)
	}
	assert.Equal(t, 3, base.getCount())

	// A state change is visible on the very next read.
	call.Status = domain.CallStatusActive
	now := time.Now()
	call.StartedAt = &now
	require.NoError(t, cached.Update(ctx, call))

	got, err := cached.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusActive, got.Status)
}

func TestGetByID_NotFound(t *testing.T) {
	base := newCountingRepository()
	cached := NewCachedCallRepository(base, time.Minute, time.Minute)
	defer cached.Stop()

	_, err := cached.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrCallNotFound)
}

func TestListByUser_CachedUntilWrite(t *testing.T) {
	base := newCountingRepository()
	cached := NewCachedCallRepository(base, time.Minute, time.Minute)
	defer cached.Stop()
	ctx := context.Background()

	call := seedCall(t, base, "c1", domain.CallStatusEnded)

	first, err := cached.ListByUser(ctx, "alice", 10, 0)
	require.NoError(t, err)
	require.Len(t, first, 1)

	_, err = cached.ListByUser(ctx, "alice", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, base.listCount())

	// An update touching the user drops the cached page.
	require.NoError(t, cached.Update(ctx, call))

	_, err = cached.ListByUser(ctx, "alice", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, base.listCount())
}

func TestCreate_InvalidatesBothParties(t *testing.T) {
	base := newCountingRepository()
	cached := NewCachedCallRepository(base, time.Minute, time.Minute)
	defer cached.Stop()
	ctx := context.Background()

	seedCall(t, base, "c1", domain.CallStatusEnded)

	_, err := cached.ListByUser(ctx, "bob", 10, 0)
	require.NoError(t, err)

	call2 := &domain.Call{
		ID:         "c2",
		CallerID:   "carol",
		ReceiverID: "bob",
		Type:       domain.CallTypeVideo,
		Status:     domain.CallStatusInitiating,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, cached.Create(ctx, call2))

	calls, err := cached.ListByUser(ctx, "bob", 10, 0)
	require.NoError(t, err)
	assert.Len(t, calls, 2)
}
