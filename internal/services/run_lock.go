package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/knograph/knograph-backend/internal/platform/apierr"
	"github.com/knograph/knograph-backend/internal/platform/envutil"
	"github.com/knograph/knograph-backend/internal/platform/logger"
)

// RunLock guards "one normalization run per course at a time". The redis
// implementation holds across server instances; the in-memory one is the
// single-instance fallback when REDIS_ADDR is unset.
type RunLock interface {
	Acquire(ctx context.Context, courseID uuid.UUID) (release func(), err error)
}

// NewRunLockFromEnv picks the redis lock when REDIS_ADDR is configured.
func NewRunLockFromEnv(log *logger.Logger) (RunLock, error) {
	addr := strings.TrimSpace(envutil.GetEnv("REDIS_ADDR", "", log))
	if addr == "" {
		log.Warn("REDIS_ADDR not set; run locks are per-instance only")
		return NewMemoryRunLock(log), nil
	}

	ttlSec := envutil.GetEnvAsInt("RUN_LOCK_TTL_SECONDS", 900, log)

	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisRunLock{
		log: log.With("service", "RedisRunLock"),
		rdb: rdb,
		ttl: time.Duration(ttlSec) * time.Second,
	}, nil
}

type redisRunLock struct {
	log *logger.Logger
	rdb *redis.Client
	ttl time.Duration
}

func runLockKey(courseID uuid.UUID) string {
	return "normalize:run:" + courseID.String()
}

func (l *redisRunLock) Acquire(ctx context.Context, courseID uuid.UUID) (func(), error) {
	key := runLockKey(courseID)
	ok, err := l.rdb.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
	if err != nil {
		return nil, apierr.Upstream("run_lock_unavailable", err)
	}
	if !ok {
		return nil, apierr.Conflictf("run_in_progress", "a normalization run is already in progress for course %s", courseID)
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.rdb.Del(ctx, key).Err(); err != nil {
			l.log.Warn("Failed to release run lock; it will expire via TTL", "course_id", courseID, "error", err)
		}
	}
	return release, nil
}

type memoryRunLock struct {
	log  *logger.Logger
	mu   sync.Mutex
	held map[uuid.UUID]bool
}

func NewMemoryRunLock(log *logger.Logger) RunLock {
	return &memoryRunLock{
		log:  log.With("service", "MemoryRunLock"),
		held: make(map[uuid.UUID]bool),
	}
}

func (l *memoryRunLock) Acquire(ctx context.Context, courseID uuid.UUID) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[courseID] {
		return nil, apierr.Conflictf("run_in_progress", "a normalization run is already in progress for course %s", courseID)
	}
	l.held[courseID] = true
	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, courseID)
			l.mu.Unlock()
		})
	}
	return release, nil
}
