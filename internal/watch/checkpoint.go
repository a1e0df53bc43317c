package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Checkpointer persists and recalls a named watcher's last-seen
// start_revision. The Multiplexer consults it on Attach (when a Request
// carries a Name and no explicit StartRevision) and updates it as events
// are delivered, so a process restart can resume a named watch near
// where it left off instead of replaying from revision zero.
type Checkpointer interface {
	Load(ctx context.Context, watchName string) (string, bool, error)
	Save(ctx context.Context, watchName, revision string) error
}

// RedisCheckpointer is a best-effort, client-side convenience: it
// persists a watcher's last-seen start_revision in Redis so a process
// restart can resume a watch from the last durable checkpoint instead of
// replaying from revision zero. It is not part of core correctness;
// correctness comes from the server's own per-revision event ordering.
// This is purely an optimization to shrink the replay window after a
// restart.
type RedisCheckpointer struct {
	rdb       *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisCheckpointer wraps an already-connected *redis.Client. keyPrefix
// namespaces the checkpoint keys (default "kvcoord:watch:"); ttl bounds how
// long a checkpoint survives without being refreshed (default 24h, since a
// checkpoint older than that is no more useful than replaying from zero).
func NewRedisCheckpointer(rdb *redis.Client, keyPrefix string, ttl time.Duration) *RedisCheckpointer {
	if keyPrefix == "" {
		keyPrefix = "kvcoord:watch:"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCheckpointer{rdb: rdb, keyPrefix: keyPrefix, ttl: ttl}
}

// Save persists revision as the last-seen checkpoint for watchName.
func (c *RedisCheckpointer) Save(ctx context.Context, watchName, revision string) error {
	if err := c.rdb.Set(ctx, c.keyPrefix+watchName, revision, c.ttl).Err(); err != nil {
		return fmt.Errorf("kvcoord: redis checkpoint save: %w", err)
	}
	return nil
}

// Load returns the last saved checkpoint for watchName, or ("", false) if
// none exists (or it has expired).
func (c *RedisCheckpointer) Load(ctx context.Context, watchName string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, c.keyPrefix+watchName).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kvcoord: redis checkpoint load: %w", err)
	}
	return val, true, nil
}

// OnConnected returns a Handler.OnConnected callback that checkpoints
// every revision the watcher resumes from, suitable for plugging directly
// into a watch.Handler for a long-lived named watcher.
func (c *RedisCheckpointer) OnConnected(ctx context.Context, watchName string) func(revision string) {
	return func(revision string) {
		_ = c.Save(ctx, watchName, revision)
	}
}
