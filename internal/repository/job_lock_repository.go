package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// JobLockRepository provides per-job mutual exclusion. With a Redis client it
// uses SET NX with a TTL so locks survive worker crashes only until expiry;
// without one it falls back to an in-process lock table.
type JobLockRepository struct {
	client *redis.Client
	logger *zap.Logger
	prefix string

	mu    sync.Mutex
	local map[string]localLock
}

type localLock struct {
	token   string
	expires time.Time
}

// NewJobLockRepository constructs a lock repository. client may be nil.
func NewJobLockRepository(client *redis.Client, logger *zap.Logger) *JobLockRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobLockRepository{
		client: client,
		logger: logger,
		prefix: "generation:lock:",
		local:  make(map[string]localLock),
	}
}

// Acquire tries to take the lock for jobID. It returns the release token and
// whether the lock was obtained.
func (r *JobLockRepository) Acquire(ctx context.Context, jobID string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	key := r.prefix + jobID

	if r.client == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		now := time.Now()
		if held, ok := r.local[key]; ok && now.Before(held.expires) {
			return "", false, nil
		}
		r.local[key] = localLock{token: token, expires: now.Add(ttl)}
		return token, true, nil
	}

	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release frees the lock if token still owns it.
func (r *JobLockRepository) Release(ctx context.Context, jobID, token string) error {
	key := r.prefix + jobID

	if r.client == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if held, ok := r.local[key]; ok && held.token == token {
			delete(r.local, key)
		}
		return nil
	}

	if err := releaseLockScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
		r.logger.Warn("failed to release job lock", zap.String("job_id", jobID), zap.Error(err))
		return fmt.Errorf("redis release %s: %w", key, err)
	}
	return nil
}
