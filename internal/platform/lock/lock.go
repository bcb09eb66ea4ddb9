// Package lock implements advisory action locks over Redis. A lock marks a
// resource (an order awaiting results, a reconciliation being counted) as
// claimed by one staff member; other clients poll the lock to display who is
// working and the server rejects conflicting writes while it is held. Locks
// expire on their own so an abandoned session never wedges a resource.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a lock lives without a refresh.
const DefaultTTL = 2 * time.Minute

// ErrNotHolder is returned when a caller tries to release a lock someone
// else holds.
var ErrNotHolder = errors.New("lock held by another user")

// Holder identifies the staff member who owns a lock.
type Holder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Info describes a currently held lock.
type Info struct {
	Resource   string    `json:"resource"`
	Holder     Holder    `json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// HeldError is returned from Acquire when the resource is locked by someone
// else. It carries the holder so handlers can name them in the response.
type HeldError struct {
	Info Info
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("locked by %s", e.Info.Holder.Name)
}

// Service manages action locks. Mutual exclusion comes from redislock; a
// side key carries holder display metadata with the same lifetime.
type Service struct {
	rdb    *redis.Client
	locker *redislock.Client
	ttl    time.Duration
}

func NewService(rdb *redis.Client, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		rdb:    rdb,
		locker: redislock.New(rdb),
		ttl:    ttl,
	}
}

func lockKey(resource string) string {
	return "actionlock:" + resource
}

func metaKey(resource string) string {
	return "actionlock:meta:" + resource
}

// Acquire claims the resource for the holder. Re-acquiring a lock you
// already hold refreshes its TTL. When someone else holds it, a *HeldError
// naming them is returned.
func (s *Service) Acquire(ctx context.Context, resource string, holder Holder) (*Info, error) {
	existing, err := s.rdb.Get(ctx, lockKey(resource)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("read lock: %w", err)
	}
	if err == nil && existing == holder.ID {
		return s.refresh(ctx, resource, holder)
	}

	_, err = s.locker.Obtain(ctx, lockKey(resource), s.ttl, &redislock.Options{Token: holder.ID})
	if err == redislock.ErrNotObtained {
		info, infoErr := s.Status(ctx, resource)
		if infoErr != nil || info == nil {
			return nil, &HeldError{Info: Info{Resource: resource, Holder: Holder{Name: "another user"}}}
		}
		return nil, &HeldError{Info: *info}
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock: %w", err)
	}

	return s.writeMeta(ctx, resource, holder)
}

func (s *Service) refresh(ctx context.Context, resource string, holder Holder) (*Info, error) {
	if err := s.rdb.Expire(ctx, lockKey(resource), s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("refresh lock: %w", err)
	}
	return s.writeMeta(ctx, resource, holder)
}

func (s *Service) writeMeta(ctx context.Context, resource string, holder Holder) (*Info, error) {
	now := time.Now().UTC()
	info := &Info{
		Resource:   resource,
		Holder:     holder,
		AcquiredAt: now,
		ExpiresAt:  now.Add(s.ttl),
	}
	raw, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("marshal lock info: %w", err)
	}
	if err := s.rdb.Set(ctx, metaKey(resource), raw, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("store lock info: %w", err)
	}
	return info, nil
}

// Status returns the current lock info, or nil when the resource is free.
func (s *Service) Status(ctx context.Context, resource string) (*Info, error) {
	// The main key is authoritative; the meta key may outlive it briefly.
	if err := s.rdb.Get(ctx, lockKey(resource)).Err(); err == redis.Nil {
		s.rdb.Del(ctx, metaKey(resource))
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("read lock: %w", err)
	}

	raw, err := s.rdb.Get(ctx, metaKey(resource)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lock info: %w", err)
	}

	var info Info
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, fmt.Errorf("decode lock info: %w", err)
	}
	return &info, nil
}

// Release frees the resource. Only the holder may release; force bypasses
// the check for admin overrides. Releasing a free lock is a no-op.
func (s *Service) Release(ctx context.Context, resource, requesterID string, force bool) error {
	token, err := s.rdb.Get(ctx, lockKey(resource)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read lock: %w", err)
	}

	if token != requesterID && !force {
		return ErrNotHolder
	}

	if err := s.rdb.Del(ctx, lockKey(resource), metaKey(resource)).Err(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// IsHolder reports whether the given user currently holds the resource.
func (s *Service) IsHolder(ctx context.Context, resource, userID string) (bool, error) {
	token, err := s.rdb.Get(ctx, lockKey(resource)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read lock: %w", err)
	}
	return token == userID, nil
}
