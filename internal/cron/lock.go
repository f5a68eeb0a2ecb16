package cron

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultLockTTL = 55 * time.Minute

// Lock guards one job across every cron-worker replica.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// LockProvider hands out the lock guarding a single job.
type LockProvider interface {
	ForJob(name string) (Lock, error)
}

// LeaseStore is the Redis surface a lease needs.
type LeaseStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	Key(parts ...string) string
}

// RedisLock is a lease: a key holding a random token that expires after ttl
// so a crashed worker cannot block a job forever.
type RedisLock struct {
	store LeaseStore
	key   string
	ttl   time.Duration
	token string
}

// NewRedisLock builds a lease on key. ttl <= 0 uses the default of 55 minutes.
func NewRedisLock(store LeaseStore, key string, ttl time.Duration) (*RedisLock, error) {
	if store == nil {
		return nil, errors.New("lease store is required")
	}
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{store: store, key: key, ttl: ttl}, nil
}

func (l *RedisLock) Key() string { return l.key }

// Acquire reports whether this lease now owns the key.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	won, err := l.store.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if won {
		l.token = token
	}
	return won, nil
}

// Release drops the key if this lease still owns it. A lease that expired and
// was taken by another worker is left alone.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	token := l.token
	l.token = ""
	if _, err := l.store.CompareAndDelete(ctx, l.key, token); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}

// RedisLockProvider keys each job's lease as <namespace>:cron:lock:<job>.
type RedisLockProvider struct {
	store LeaseStore
	ttl   time.Duration
}

func NewRedisLockProvider(store LeaseStore, ttl time.Duration) (*RedisLockProvider, error) {
	if store == nil {
		return nil, errors.New("lease store is required")
	}
	return &RedisLockProvider{store: store, ttl: ttl}, nil
}

func (p *RedisLockProvider) ForJob(name string) (Lock, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("job name is required")
	}
	return NewRedisLock(p.store, p.store.Key("cron", "lock", name), p.ttl)
}
