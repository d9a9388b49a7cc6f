package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TickGuard keeps scheduler ticks from overlapping
type TickGuard interface {
	TryAcquire(ctx context.Context) bool
	Release()
}

// LocalTickGuard is a single-slot semaphore for one process
type LocalTickGuard struct {
	slot chan struct{}
}

func NewLocalTickGuard() *LocalTickGuard {
	return &LocalTickGuard{slot: make(chan struct{}, 1)}
}

func (g *LocalTickGuard) TryAcquire(_ context.Context) bool {
	select {
	case g.slot <- struct{}{}:
		return true
	default:
		return false
	}
}

func (g *LocalTickGuard) Release() {
	select {
	case <-g.slot:
	default:
	}
}

// releaseScript deletes the lease only if this holder still owns it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisTickLease extends the local guard with a Redis lease shared by every scheduler process
type RedisTickLease struct {
	local  *LocalTickGuard
	client redis.UniversalClient
	key    string
	ttl    time.Duration
	logger *log.Logger

	token string
}

func NewRedisTickLease(client redis.UniversalClient, prefix string, ttl time.Duration, logger *log.Logger) *RedisTickLease {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if logger == nil {
		logger = log.Default()
	}
	return &RedisTickLease{
		local:  NewLocalTickGuard(),
		client: client,
		key:    prefix + "scheduler:tick_lease",
		ttl:    ttl,
		logger: logger,
	}
}

func (g *RedisTickLease) TryAcquire(ctx context.Context) bool {
	if !g.local.TryAcquire(ctx) {
		return false
	}

	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, g.key, token, g.ttl).Result()
	if err != nil {
		g.logger.Printf("scheduler: acquire tick lease failed: %v", err)
		g.local.Release()
		return false
	}
	if !ok {
		g.local.Release()
		return false
	}

	g.token = token
	return true
}

func (g *RedisTickLease) Release() {
	if g.token != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := releaseScript.Run(ctx, g.client, []string{g.key}, g.token).Err(); err != nil {
			g.logger.Printf("scheduler: release tick lease failed: %v", err)
		}
		cancel()
		g.token = ""
	}
	g.local.Release()
}
