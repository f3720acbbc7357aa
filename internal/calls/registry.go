package calls

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"voice-relay/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Registry tracks which calls are currently active and which tenant owns
// them. The observer bridge consults it before attaching. The entry also
// guards the tenant's call slot: UnregisterActive reports whether this
// caller removed the entry, and only that caller releases the slot, so a
// call torn down by both /end-call and the stream closing frees exactly one.
type Registry interface {
	RegisterActive(ctx context.Context, callSID, tenantID string) error

	// UnregisterActive removes the entry, reporting whether it was present.
	UnregisterActive(ctx context.Context, callSID string) (bool, error)

	// ActiveTenant returns the owning tenant id, or "" if the call is not
	// active.
	ActiveTenant(ctx context.Context, callSID string) (string, error)
}

// SlotLimiter caps concurrent calls per tenant.
type SlotLimiter interface {
	Acquire(ctx context.Context, tenantID string) (bool, error)
	Release(ctx context.Context, tenantID string) error
}

const (
	activeCallKeyPrefix = "call:active:"
	callSlotKeyPrefix   = "calls:cap:"

	// activeCallTTL bounds registry entries left behind by a crashed pod.
	activeCallTTL = 4 * time.Hour
)

// RedisRegistry stores active-call entries in redis so observer attaches
// work regardless of which pod placed the call.
type RedisRegistry struct {
	rdb *redis.Client
}

func NewRedisRegistry(rdb *redis.Client) *RedisRegistry {
	return &RedisRegistry{rdb: rdb}
}

func (r *RedisRegistry) RegisterActive(ctx context.Context, callSID, tenantID string) error {
	if callSID == "" || tenantID == "" {
		return fmt.Errorf("calls: call sid and tenant id are required")
	}
	return r.rdb.Set(ctx, activeCallKeyPrefix+callSID, tenantID, activeCallTTL).Err()
}

func (r *RedisRegistry) UnregisterActive(ctx context.Context, callSID string) (bool, error) {
	if callSID == "" {
		return false, fmt.Errorf("calls: call sid is required")
	}
	n, err := r.rdb.Del(ctx, activeCallKeyPrefix+callSID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisRegistry) ActiveTenant(ctx context.Context, callSID string) (string, error) {
	v, err := r.rdb.Get(ctx, activeCallKeyPrefix+callSID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

// RedisSlotLimiter enforces per-tenant concurrent-call caps on top of the
// shared Lua scripts in pkg/utils.
type RedisSlotLimiter struct {
	rdb   *redis.Client
	limit int
}

func NewRedisSlotLimiter(rdb *redis.Client, limit int) *RedisSlotLimiter {
	if limit <= 0 {
		limit = 5
	}
	return &RedisSlotLimiter{rdb: rdb, limit: limit}
}

func (l *RedisSlotLimiter) Acquire(ctx context.Context, tenantID string) (bool, error) {
	return utils.AcquireCallSlot(ctx, l.rdb, callSlotKeyPrefix+tenantID, l.limit, activeCallTTL)
}

func (l *RedisSlotLimiter) Release(ctx context.Context, tenantID string) error {
	return utils.ReleaseCallSlot(ctx, l.rdb, callSlotKeyPrefix+tenantID)
}

// MemoryRegistry is an in-memory Registry for tests.
type MemoryRegistry struct {
	mu     sync.Mutex
	active map[string]string
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{active: map[string]string{}}
}

func (r *MemoryRegistry) RegisterActive(_ context.Context, callSID, tenantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[callSID] = tenantID
	return nil
}

func (r *MemoryRegistry) UnregisterActive(_ context.Context, callSID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, present := r.active[callSID]
	delete(r.active, callSID)
	return present, nil
}

func (r *MemoryRegistry) ActiveTenant(_ context.Context, callSID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[callSID], nil
}
