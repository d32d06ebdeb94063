package grouplock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrLockTimeout is returned when the per-group lock cannot be acquired
// within the configured wait. It is retryable: callers back off and try
// again.
var ErrLockTimeout = errors.New("timed out waiting for group lock")

// Options tune lease lifetime and acquisition patience. The TTL bounds how
// long a crashed holder can block a group; the wait bounds how long a caller
// queues behind other writers before giving up.
type Options struct {
	TTL         time.Duration
	AcquireWait time.Duration
	RetryDelay  time.Duration
}

// DefaultOptions returns the values used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		TTL:         30 * time.Second,
		AcquireWait: 3 * time.Second,
		RetryDelay:  50 * time.Millisecond,
	}
}

// Lock hands out exclusive per-group leases backed by Redis SetNX. One lease
// per group id at a time, across every service instance.
type Lock struct {
	Client *redis.Client
	Opts   Options
}

func New(client *redis.Client, opts Options) *Lock {
	def := DefaultOptions()
	if opts.TTL <= 0 {
		opts.TTL = def.TTL
	}
	if opts.AcquireWait <= 0 {
		opts.AcquireWait = def.AcquireWait
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	return &Lock{Client: client, Opts: opts}
}

// Lease proves ownership of one acquisition. Only the holder of the token
// can release the lock.
type Lease struct {
	GroupID string
	Token   string
}

func lockKey(groupID string) string {
	return "group_lock:" + groupID
}

// Acquire takes the group's lease, retrying SetNX until the acquire wait is
// exhausted. Returns ErrLockTimeout when another writer held the lock for
// the whole window.
func (l *Lock) Acquire(ctx context.Context, groupID string) (*Lease, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.Opts.AcquireWait)

	for {
		ok, err := l.Client.SetNX(ctx, lockKey(groupID), token, l.Opts.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire group lock: %w", err)
		}
		if ok {
			return &Lease{GroupID: groupID, Token: token}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: group %s", ErrLockTimeout, groupID)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.Opts.RetryDelay):
		}
	}
}

// Release frees the lease if the caller still owns it. A lease whose TTL
// expired and was re-acquired by another writer is left untouched.
func (l *Lock) Release(ctx context.Context, lease *Lease) error {
	key := lockKey(lease.GroupID)

	val, err := l.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil // already expired
	}
	if err != nil {
		return err
	}
	if val == lease.Token {
		_, err := l.Client.Del(ctx, key).Result()
		return err
	}
	return nil
}

// Held reports whether any writer currently holds the group's lock.
func (l *Lock) Held(ctx context.Context, groupID string) (bool, error) {
	_, err := l.Client.Get(ctx, lockKey(groupID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
