package lock

import (
	"context"
	"fmt"
	"ms-roster/internal/apperr"
	"ms-roster/internal/logger"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Guard admits one sync run per scope. Acquire returns apperr.ErrSyncInProgress when the scope is taken.
type Guard interface {
	Acquire(ctx context.Context, scope string) (release func(), err error)
}

const keyPrefix = "sync_lock:"

// Deletes or extends the lock only while it still holds our owner token.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisGuard is a SetNX lock shared by every replica. The TTL is refreshed while the run holds it,
// so a crashed process frees the scope after one TTL.
type RedisGuard struct {
	Client *redis.Client
	TTL    time.Duration
	Logger *logger.Logger
}

func NewRedisGuard(client *redis.Client, ttl time.Duration, log *logger.Logger) *RedisGuard {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisGuard{Client: client, TTL: ttl, Logger: log}
}

func (g *RedisGuard) Acquire(ctx context.Context, scope string) (func(), error) {
	key := keyPrefix + scope
	owner := uuid.NewString()

	ok, err := g.Client.SetNX(ctx, key, owner, g.TTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire sync lock %s: %w", scope, err)
	}
	if !ok {
		return nil, apperr.ErrSyncInProgress
	}
	g.Logger.Debug("REDIS", fmt.Sprintf("Sync lock %s acquired by %s", scope, owner))

	stop := make(chan struct{})
	done := make(chan struct{})
	go g.keepAlive(key, owner, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, g.Client, []string{key}, owner).Err(); err != nil {
				g.Logger.Error("REDIS", fmt.Sprintf("Failed to release sync lock %s: %v", scope, err))
				return
			}
			g.Logger.Debug("REDIS", fmt.Sprintf("Sync lock %s released", scope))
		})
	}, nil
}

func (g *RedisGuard) keepAlive(key, owner string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(g.TTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), g.TTL/2)
			n, err := refreshScript.Run(ctx, g.Client, []string{key}, owner, g.TTL.Milliseconds()).Int()
			cancel()
			if err != nil {
				g.Logger.Warn("REDIS", fmt.Sprintf("Failed to refresh sync lock %s: %v", key, err))
				continue
			}
			if n == 0 {
				g.Logger.Warn("REDIS", fmt.Sprintf("Sync lock %s lost before the run finished", key))
				return
			}
		}
	}
}

// LocalGuard serialises runs inside one process. Used when Redis is not configured.
type LocalGuard struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalGuard() *LocalGuard {
	return &LocalGuard{held: make(map[string]bool)}
}

func (g *LocalGuard) Acquire(_ context.Context, scope string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held[scope] {
		return nil, apperr.ErrSyncInProgress
	}
	g.held[scope] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, scope)
			g.mu.Unlock()
		})
	}, nil
}
