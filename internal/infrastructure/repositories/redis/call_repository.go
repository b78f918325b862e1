package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"heartline/internal/core/domain"
	"heartline/internal/core/ports"
	"heartline/pkg/distributed"
)

const (
	callKeyPrefix       = "heartline:call:"
	userCallsKeyPrefix  = "heartline:user_calls:"
	callsByTimeKey      = "heartline:calls:by_time"
	callStatusChanFmt   = "heartline:call:%s:status"
	callTTL             = 24 * time.Hour
	userCallsMaxEntries = 200
	timeIndexMaxEntries = 10000
	pairLockTTL         = 5 * time.Second
)

// RedisCallRepository stores calls as JSON values keyed by call ID and
// publishes status transitions on a per-call pub/sub channel so that
// subscribers on other nodes observe them. Creation for a user pair is
// serialized across nodes with a distributed lock.
type RedisCallRepository struct {
	client *redis.Client
	locks  *distributed.LockManager
	logger *zap.SugaredLogger
}

// NewRedisCallRepository creates a new Redis-backed call repository.
func NewRedisCallRepository(client *redis.Client, logger *zap.SugaredLogger) *RedisCallRepository {
	return &RedisCallRepository{
		client: client,
		locks:  distributed.NewLockManager(client, "heartline:lock:"),
		logger: logger,
	}
}

func callKey(id domain.CallID) string {
	return callKeyPrefix + string(id)
}

func userCallsKey(id domain.UserID) string {
	return userCallsKeyPrefix + string(id)
}

func statusChannel(id domain.CallID) string {
	return fmt.Sprintf(callStatusChanFmt, id)
}

func pairLockKey(a, b domain.UserID) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("pair:%s:%s", a, b)
}

func (r *RedisCallRepository) Create(ctx context.Context, call *domain.Call) error {
	data, err := json.Marshal(call)
	if err != nil {
		return fmt.Errorf("failed to marshal call: %w", err)
	}

	// Two nodes creating a call for the same pair at once race on the
	// one-call-per-pair rule. The loser sees the lock held and backs off.
	lock := r.locks.AcquireLock(pairLockKey(call.CallerID, call.ReceiverID), pairLockTTL)
	acquired, err := lock.TryLock(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire pair lock: %w", err)
	}
	if !acquired {
		return domain.ErrCallConflict
	}
	defer lock.Unlock(ctx)

	ok, err := r.client.SetNX(ctx, callKey(call.ID), data, callTTL).Result()
	if err != nil {
		return fmt.Errorf("failed to store call: %w", err)
	}
	if !ok {
		return domain.ErrCallConflict
	}

	// Index by both participants for history queries. Index failures are
	// logged rather than returned since the call itself is already stored.
	score := float64(call.CreatedAt.UnixNano())
	for _, user := range []domain.UserID{call.CallerID, call.ReceiverID} {
		key := userCallsKey(user)
		pipe := r.client.Pipeline()
		pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: string(call.ID)})
		pipe.ZRemRangeByRank(ctx, key, 0, -(userCallsMaxEntries + 1))
		pipe.Expire(ctx, key, callTTL)
		if _, err := pipe.Exec(ctx); err != nil && r.logger != nil {
			r.logger.Warnw("failed to index call for user",
				"call_id", call.ID,
				"user_id", user,
				"error", err,
			)
		}
	}

	pipe := r.client.Pipeline()
	pipe.ZAdd(ctx, callsByTimeKey, redis.Z{Score: score, Member: string(call.ID)})
	pipe.ZRemRangeByRank(ctx, callsByTimeKey, 0, -(timeIndexMaxEntries + 1))
	if _, err := pipe.Exec(ctx); err != nil && r.logger != nil {
		r.logger.Warnw("failed to index call by time", "call_id", call.ID, "error", err)
	}

	return nil
}

func (r *RedisCallRepository) GetByID(ctx context.Context, id domain.CallID) (*domain.Call, error) {
	data, err := r.client.Get(ctx, callKey(id)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrCallNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call: %w", err)
	}

	var call domain.Call
	if err := json.Unmarshal(data, &call); err != nil {
		return nil, fmt.Errorf("failed to unmarshal call: %w", err)
	}

	return &call, nil
}

func (r *RedisCallRepository) Update(ctx context.Context, call *domain.Call) error {
	prev, err := r.GetByID(ctx, call.ID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(call)
	if err != nil {
		return fmt.Errorf("failed to marshal call: %w", err)
	}

	if err := r.client.Set(ctx, callKey(call.ID), data, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("failed to update call: %w", err)
	}

	if prev.Status != call.Status {
		if err := r.client.Publish(ctx, statusChannel(call.ID), string(call.Status)).Err(); err != nil && r.logger != nil {
			r.logger.Warnw("failed to publish call status",
				"call_id", call.ID,
				"status", call.Status,
				"error", err,
			)
		}
	}

	return nil
}

func (r *RedisCallRepository) ListByUser(ctx context.Context, userID domain.UserID, limit, offset int) ([]*domain.Call, error) {
	if limit <= 0 || limit > userCallsMaxEntries {
		limit = userCallsMaxEntries
	}
	if offset < 0 {
		offset = 0
	}

	ids, err := r.client.ZRevRange(ctx, userCallsKey(userID), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list calls for user: %w", err)
	}

	calls := make([]*domain.Call, 0, len(ids))
	for _, id := range ids {
		call, err := r.GetByID(ctx, domain.CallID(id))
		if err == domain.ErrCallNotFound {
			continue // expired entry still present in the index
		}
		if err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}

	return calls, nil
}

// ListRecent returns calls created at or after since, newest first.
func (r *RedisCallRepository) ListRecent(ctx context.Context, since time.Time, limit int) ([]*domain.Call, error) {
	if limit <= 0 || limit > timeIndexMaxEntries {
		limit = timeIndexMaxEntries
	}

	ids, err := r.client.ZRevRangeByScore(ctx, callsByTimeKey, &redis.ZRangeBy{
		Min:   fmt.Sprintf("%d", since.UnixNano()),
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list recent calls: %w", err)
	}

	calls := make([]*domain.Call, 0, len(ids))
	for _, id := range ids {
		call, err := r.GetByID(ctx, domain.CallID(id))
		if err == domain.ErrCallNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}

	return calls, nil
}

func (r *RedisCallRepository) Subscribe(ctx context.Context, id domain.CallID) (<-chan domain.CallStatus, error) {
	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}

	sub := r.client.Subscribe(ctx, statusChannel(id))
	out := make(chan domain.CallStatus, 8)

	go func() {
		defer close(out)
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				status := domain.CallStatus(msg.Payload)
				select {
				case out <- status:
				case <-ctx.Done():
					return
				}
				if status.IsTerminal() {
					return
				}
			}
		}
	}()

	return out, nil
}

var _ ports.CallRepository = (*RedisCallRepository)(nil)
