package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"heartline/internal/core/domain"
	"heartline/pkg/distributed"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	presenceTTL         = 5 * time.Minute
	instancePresenceTTL = 10 * time.Minute
)

// SharedPresenceRegistry tracks which users hold a live signaling socket and
// on which instance. Entries expire unless refreshed, so a crashed instance
// leaks nothing past the TTL.
type SharedPresenceRegistry struct {
	client      *redis.Client
	lockManager *distributed.LockManager
	instanceID  string
	logger      *zap.SugaredLogger
	prefix      string
}

// NewSharedPresenceRegistry creates a new shared presence registry
func NewSharedPresenceRegistry(
	client *redis.Client,
	instanceID string,
	logger *zap.SugaredLogger,
) *SharedPresenceRegistry {
	return &SharedPresenceRegistry{
		client:      client,
		lockManager: distributed.NewLockManager(client, "heartline:lock:"),
		instanceID:  instanceID,
		logger:      logger,
		prefix:      "heartline:presence:",
	}
}

type presenceRecord struct {
	UserID       domain.UserID `json:"user_id"`
	InstanceID   string        `json:"instance_id"`
	RegisteredAt int64         `json:"registered_at"`
}

// RegisterUser records that a user connected to this instance
func (r *SharedPresenceRegistry) RegisterUser(ctx context.Context, userID domain.UserID) error {
	record := presenceRecord{
		UserID:       userID,
		InstanceID:   r.instanceID,
		RegisteredAt: time.Now().Unix(),
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal presence record: %w", err)
	}

	if err := r.client.Set(ctx, r.userKey(userID), data, presenceTTL).Err(); err != nil {
		return fmt.Errorf("failed to register user: %w", err)
	}

	instanceKey := r.instanceUsersKey(r.instanceID)
	if err := r.client.SAdd(ctx, instanceKey, string(userID)).Err(); err != nil {
		return fmt.Errorf("failed to add user to instance set: %w", err)
	}
	r.client.Expire(ctx, instanceKey, instancePresenceTTL)

	return nil
}

// UnregisterUser removes a user's presence record
func (r *SharedPresenceRegistry) UnregisterUser(ctx context.Context, userID domain.UserID) error {
	key := r.userKey(userID)

	data, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil // Already unregistered
	}
	if err != nil {
		return fmt.Errorf("failed to get presence record: %w", err)
	}

	var record presenceRecord
	if err := json.Unmarshal([]byte(data), &record); err == nil {
		r.client.SRem(ctx, r.instanceUsersKey(record.InstanceID), string(userID))
	}

	return r.client.Del(ctx, key).Err()
}

// IsOnline reports whether a user holds a live socket on any instance
func (r *SharedPresenceRegistry) IsOnline(ctx context.Context, userID domain.UserID) (bool, error) {
	n, err := r.client.Exists(ctx, r.userKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check presence: %w", err)
	}
	return n > 0, nil
}

// LocateUser returns the instance a user is connected to
func (r *SharedPresenceRegistry) LocateUser(ctx context.Context, userID domain.UserID) (string, error) {
	data, err := r.client.Get(ctx, r.userKey(userID)).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("user not online")
	}
	if err != nil {
		return "", fmt.Errorf("failed to get presence record: %w", err)
	}

	var record presenceRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return "", fmt.Errorf("failed to unmarshal presence record: %w", err)
	}

	return record.InstanceID, nil
}

// GetInstanceUsers gets all users connected to a specific instance
func (r *SharedPresenceRegistry) GetInstanceUsers(ctx context.Context, instanceID string) ([]domain.UserID, error) {
	ids, err := r.client.SMembers(ctx, r.instanceUsersKey(instanceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get instance users: %w", err)
	}

	result := make([]domain.UserID, len(ids))
	for i, id := range ids {
		result[i] = domain.UserID(id)
	}

	return result, nil
}

// RefreshUser extends the TTL of a user's presence record. Called on each
// heartbeat from the signaling layer.
func (r *SharedPresenceRegistry) RefreshUser(ctx context.Context, userID domain.UserID) error {
	return r.client.Expire(ctx, r.userKey(userID), presenceTTL).Err()
}

// CleanupInstanceUsers removes all presence records for an instance. Guarded
// by a lock so two replicas never clean the same instance concurrently.
func (r *SharedPresenceRegistry) CleanupInstanceUsers(ctx context.Context, instanceID string) error {
	lock := r.lockManager.AcquireLock("presence:cleanup:"+instanceID, 30*time.Second)
	acquired, err := lock.TryLock(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire cleanup lock: %w", err)
	}
	if !acquired {
		return nil // Another replica is already cleaning up
	}
	defer lock.Unlock(ctx)

	users, err := r.GetInstanceUsers(ctx, instanceID)
	if err != nil {
		return err
	}

	for _, userID := range users {
		if err := r.UnregisterUser(ctx, userID); err != nil {
			r.logger.Warnw("failed to unregister user during cleanup",
				"user_id", userID,
				"error", err,
			)
		}
	}

	return r.client.Del(ctx, r.instanceUsersKey(instanceID)).Err()
}

func (r *SharedPresenceRegistry) userKey(userID domain.UserID) string {
	return r.prefix + "user:" + string(userID)
}

func (r *SharedPresenceRegistry) instanceUsersKey(instanceID string) string {
	return r.prefix + "instance:" + instanceID
}
