package memory

import (
	"context"
	"testing"
	"time"

	"heartline/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCall(id domain.CallID, caller, receiver domain.UserID, createdAt time.Time) *domain.Call {
	return &domain.Call{
		ID:         id,
		CallerID:   caller,
		ReceiverID: receiver,
		Type:       domain.CallTypeAudio,
		Status:     domain.CallStatusInitiating,
		CreatedAt:  createdAt,
	}
}

func TestCreateAndGet(t *testing.T) {
	repo := NewMemoryCallRepository()
	ctx := context.Background()
	call := newCall("c1", "alice", "bob", time.Now())

	require.NoError(t, repo.Create(ctx, call))

	got, err := repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, call.ID, got.ID)
	assert.Equal(t, call.CallerID, got.CallerID)

	// The stored record is a copy, mutating the original leaks nothing.
	call.Status = domain.CallStatusEnded
	got, err = repo.GetByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusInitiating, got.Status)
}

func TestCreate_Duplicate(t *testing.T) {
	repo := NewMemoryCallRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newCall("c1", "alice", "bob", time.Now())))
	err := repo.Create(ctx, newCall("c1", "carol", "dave", time.Now()))
	assert.ErrorIs(t, err, domain.ErrCallConflict)
}

func TestGetByID_NotFound(t *testing.T) {
	repo := NewMemoryCallRepository()
	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrCallNotFound)
}

func TestUpdate_NotFound(t *testing.T) {
	repo := NewMemoryCallRepository()
	err := repo.Update(context.Background(), newCall("missing", "alice", "bob", time.Now()))
	assert.ErrorIs(t, err, domain.ErrCallNotFound)
}

func TestUpdate_NotifiesSubscribers(t *testing.T) {
	repo := NewMemoryCallRepository()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	call := newCall("c1", "alice", "bob", time.Now())
	require.NoError(t, repo.Create(ctx, call))

	updates, err := repo.Subscribe(ctx, "c1")
	require.NoError(t, err)

	call.Status = domain.CallStatusRinging
	require.NoError(t, repo.Update(ctx, call))

	select {
	case status := <-updates:
		assert.Equal(t, domain.CallStatusRinging, status)
	case <-time.After(time.Second):
		t.Fatal("no status update received")
	}

	// An update without a status change stays silent.
	require.NoError(t, repo.Update(ctx, call))
	select {
	case status := <-updates:
		t.Fatalf("unexpected update: %s", status)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribe_UnknownCall(t *testing.T) {
	repo := NewMemoryCallRepository()
	_, err := repo.Subscribe(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrCallNotFound)
}

func TestSubscribe_CancelClosesChannel(t *testing.T) {
	repo := NewMemoryCallRepository()
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, repo.Create(ctx, newCall("c1", "alice", "bob", time.Now())))
	updates, err := repo.Subscribe(ctx, "c1")
	require.NoError(t, err)

	cancel()

	select {
	case _, open := <-updates:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestListByUser(t *testing.T) {
	repo := NewMemoryCallRepository()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, repo.Create(ctx, newCall("c1", "alice", "bob", base)))
	require.NoError(t, repo.Create(ctx, newCall("c2", "bob", "alice", base.Add(time.Minute))))
	require.NoError(t, repo.Create(ctx, newCall("c3", "alice", "carol", base.Add(2*time.Minute))))
	require.NoError(t, repo.Create(ctx, newCall("c4", "carol", "dave", base.Add(3*time.Minute))))

	calls, err := repo.ListByUser(ctx, "alice", 10, 0)
	require.NoError(t, err)
	require.Len(t, calls, 3)
	// Newest first, both directions included.
	assert.Equal(t, domain.CallID("c3"), calls[0].ID)
	assert.Equal(t, domain.CallID("c2"), calls[1].ID)
	assert.Equal(t, domain.CallID("c1"), calls[2].ID)

	calls, err = repo.ListByUser(ctx, "alice", 2, 0)
	require.NoError(t, err)
	assert.Len(t, calls, 2)

	calls, err = repo.ListByUser(ctx, "alice", 10, 2)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, domain.CallID("c1"), calls[0].ID)

	calls, err = repo.ListByUser(ctx, "alice", 10, 5)
	require.NoError(t, err)
	assert.Empty(t, calls)
}

func TestListRecent(t *testing.T) {
	repo := NewMemoryCallRepository()
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, repo.Create(ctx, newCall("old", "alice", "bob", base.Add(-2*time.Hour))))
	require.NoError(t, repo.Create(ctx, newCall("mid", "carol", "dave", base.Add(-30*time.Minute))))
	require.NoError(t, repo.Create(ctx, newCall("new", "alice", "carol", base)))

	calls, err := repo.ListRecent(ctx, base.Add(-time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, domain.CallID("new"), calls[0].ID)
	assert.Equal(t, domain.CallID("mid"), calls[1].ID)

	calls, err = repo.ListRecent(ctx, base.Add(-time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, domain.CallID("new"), calls[0].ID)
}
