package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/weiawesome/wes-io-live/messenger-service/pkg/log"
)

// deleteIfOwner removes KEYS[1] only while it still holds ARGV[1], so a
// late offline mark of a replaced connection keeps the new one online.
var deleteIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisRegistry struct {
	client            *redis.Client
	prefix            string
	keyTTL            time.Duration
	heartbeatInterval time.Duration
	managedKeys       map[string]string // key -> connID, owned by this instance
	mu                sync.RWMutex
	cancel            context.CancelFunc
}

func NewRedisRegistry(client *redis.Client, prefix string, keyTTL, heartbeatInterval time.Duration) *RedisRegistry {
	if heartbeatInterval <= 0 {
		heartbeatInterval = keyTTL / 3
	}
	return &RedisRegistry{
		client:            client,
		prefix:            prefix,
		keyTTL:            keyTTL,
		heartbeatInterval: heartbeatInterval,
		managedKeys:       make(map[string]string),
	}
}

func (r *RedisRegistry) keyFor(userID string) string {
	return fmt.Sprintf("%s:user:%s", r.prefix, userID)
}

func (r *RedisRegistry) MarkOnline(ctx context.Context, userID, connID string) error {
	key := r.keyFor(userID)

	if err := r.client.Set(ctx, key, connID, r.keyTTL).Err(); err != nil {
		return fmt.Errorf("failed to mark user online: %w", err)
	}

	r.mu.Lock()
	r.managedKeys[key] = connID
	r.mu.Unlock()

	l := log.L()
	l.Debug().Str(log.FieldUserID, userID).Str(log.FieldConnID, connID).Msg("marked user online")
	return nil
}

func (r *RedisRegistry) MarkOffline(ctx context.Context, userID, connID string) error {
	key := r.keyFor(userID)

	r.mu.Lock()
	if r.managedKeys[key] == connID {
		delete(r.managedKeys, key)
	}
	r.mu.Unlock()

	if err := deleteIfOwner.Run(ctx, r.client, []string{key}, connID).Err(); err != nil {
		return fmt.Errorf("failed to mark user offline: %w", err)
	}

	l := log.L()
	l.Debug().Str(log.FieldUserID, userID).Str(log.FieldConnID, connID).Msg("marked user offline")
	return nil
}

func (r *RedisRegistry) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.keyFor(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to lookup presence: %w", err)
	}
	return n == 1, nil
}

func (r *RedisRegistry) StartHeartbeat(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	go r.heartbeatLoop(ctx)
	l := log.L()
	l.Info().Dur("interval", r.heartbeatInterval).Dur("ttl", r.keyTTL).Msg("presence heartbeat started")
	return nil
}

func (r *RedisRegistry) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshKeys(ctx)
		}
	}
}

func (r *RedisRegistry) refreshKeys(ctx context.Context) {
	r.mu.RLock()
	keys := make(map[string]string, len(r.managedKeys))
	for k, v := range r.managedKeys {
		keys[k] = v
	}
	r.mu.RUnlock()

	for key, connID := range keys {
		if err := r.client.Set(ctx, key, connID, r.keyTTL).Err(); err != nil {
			l := log.L()
			l.Error().Str("key", key).Err(err).Msg("failed to refresh presence key")
		}
	}
}

func (r *RedisRegistry) StopHeartbeat() {
	if r.cancel != nil {
		r.cancel()
	}
}

var _ PresenceMirror = (*RedisRegistry)(nil)
