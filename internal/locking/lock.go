package locking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/bsm/redislock"
	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/v9"
)

// ErrNotObtained is returned when a lock is still held by someone else after every attempt
var ErrNotObtained = errors.New("lock not obtained")

// Config holds the Redis lock configuration. Locking is disabled when Addr is empty.
type Config struct {
	Addr           string        `envconfig:"REDIS_ADDR"`
	Password       string        `envconfig:"REDIS_PASSWORD"`
	DB             int           `envconfig:"REDIS_DB" default:"0"`
	KeyPrefix      string        `envconfig:"REDIS_LOCK_PREFIX" default:"ldapauth:lock:"`
	TTL            time.Duration `envconfig:"REDIS_LOCK_TTL" default:"15s"`
	MaxAttempts    int           `envconfig:"REDIS_LOCK_ATTEMPTS" default:"5"`
	InitialBackoff time.Duration `envconfig:"REDIS_LOCK_BACKOFF" default:"50ms"`
}

// LoadConfig loads lock configuration from environment variables
func LoadConfig() (*Config, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return nil, fmt.Errorf("failed to process lock configuration: %w", err)
	}
	return &config, nil
}

// Enabled reports whether a Redis server is configured
func (c *Config) Enabled() bool {
	return c.Addr != ""
}

// Locker hands out Redis mutexes shared by every instance of the service
type Locker struct {
	rdb    *redis.Client
	locker *redislock.Client
	config Config
}

func New(config *Config) *Locker {
	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	return &Locker{
		rdb:    rdb,
		locker: redislock.New(rdb),
		config: *config,
	}
}

// Ping verifies that Redis is reachable
func (l *Locker) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

// Close closes the Redis client
func (l *Locker) Close() error {
	return l.rdb.Close()
}

// TryAcquireLockWithBackoff tries to acquire the lock for key, doubling the
// wait between attempts. It gives up with ErrNotObtained after MaxAttempts.
func (l *Locker) TryAcquireLockWithBackoff(ctx context.Context, key string) (*redislock.Lock, error) {
	lockKey := l.config.KeyPrefix + key
	backoff := l.config.InitialBackoff
	attempts := max(l.config.MaxAttempts, 1)

	for attempt := 1; attempt <= attempts; attempt++ {
		lock, err := l.locker.Obtain(ctx, lockKey, l.config.TTL, nil)
		if err == nil {
			return lock, nil
		}

		if !errors.Is(err, redislock.ErrNotObtained) {
			return nil, fmt.Errorf("unexpected error while acquiring lock %q: %w", lockKey, err)
		}
		if attempt == attempts {
			break
		}

		log.Printf("[DEBUG] Locking: Lock %q busy, retrying in %s (attempt %d/%d)", lockKey, backoff, attempt, attempts)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return nil, fmt.Errorf("%w: %q after %d attempts", ErrNotObtained, lockKey, attempts)
}

// WithLock runs fn while holding the lock for key
func (l *Locker) WithLock(ctx context.Context, key string, fn func() error) error {
	lock, err := l.TryAcquireLockWithBackoff(ctx, key)
	if err != nil {
		return err
	}
	defer func() {
		// The lock may have expired if fn outlived the TTL.
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			log.Printf("[ERROR] Locking: Failed to release lock %q: %v", lock.Key(), err)
		}
	}()

	return fn()
}
