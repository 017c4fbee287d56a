package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

var (
	ErrLockNotAcquired  = errors.New("doctor lock not acquired")
	errRedisUnavailable = errors.New("redis unavailable")
)

// Locker guards a doctor's queue and schedule across API instances.
type Locker interface {
	WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error
}

type redisDoctorLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
	logger *logging.Logger
}

// NewRedisDoctorLocker creates a locker that uses a per doctor Redis key.
// Acquisition waits for the current holder instead of failing fast, so a
// caller that lost a race still reaches the database and gets the real
// outcome. When Redis itself fails the work runs unlocked and the database
// advisory lock is left to serialize it.
func NewRedisDoctorLocker(client *redis.Client, ttl time.Duration, logger *logging.Logger) Locker {
	if logger == nil {
		logger = logging.Default()
	}
	return &redisDoctorLocker{
		client: client,
		ttl:    ttl,
		retry:  25 * time.Millisecond,
		logger: logger,
	}
}

func lockKey(doctorID uuid.UUID) string {
	return fmt.Sprintf("lock:doctor:%s", doctorID.String())
}

func (l *redisDoctorLocker) WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	key := lockKey(doctorID)
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		if errors.Is(err, errRedisUnavailable) {
			l.logger.Warn("doctor lock degraded, continuing without redis", "doctor_id", doctorID, "error", err)
			return fn(ctx)
		}
		return err
	}
	defer func() {
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisDoctorLocker) acquire(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrLockNotAcquired, ctx.Err())
			}
			return fmt.Errorf("%w: acquire doctor lock: %v", errRedisUnavailable, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrLockNotAcquired, ctx.Err())
		case <-ticker.C:
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisDoctorLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release doctor lock: %w", err)
	}
	return nil
}

// NopLocker runs fn directly. Used when Redis is disabled; the database
// transaction still serializes the doctor.
type NopLocker struct{}

func (NopLocker) WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
