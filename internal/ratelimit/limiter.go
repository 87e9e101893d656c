// Package ratelimit は IP とルート単位のリクエスト数制限を提供します。
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Rule は window あたり Limit 回までを許可する規則です。
type Rule struct {
	Limit  int
	Window time.Duration
}

// Limiter は key に対するリクエストを許可するかを判定します。
type Limiter interface {
	Allow(ctx context.Context, key string, rule Rule) (bool, error)
}

// MemoryLimiter は単一プロセス用のトークンバケット実装です。
type MemoryLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	now      func() time.Time
	idleTTL  time.Duration
	lastScan time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
		idleTTL: 30 * time.Minute,
	}
}

// Allow は window/Limit ごとに1回分回復し、最大 Limit 回まで連続で許可します。
func (l *MemoryLimiter) Allow(_ context.Context, key string, rule Rule) (bool, error) {
	if rule.Limit <= 0 || rule.Window <= 0 {
		return true, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evictIdle(now)

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Every(rule.Window/time.Duration(rule.Limit)), rule.Limit)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1), nil
}

// evictIdle は長時間使われていないバケットを捨てます。
func (l *MemoryLimiter) evictIdle(now time.Time) {
	if now.Sub(l.lastScan) < l.idleTTL {
		return
	}
	l.lastScan = now
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idleTTL {
			delete(l.buckets, k)
		}
	}
}

// RedisLimiter は固定ウィンドウのカウンタを Redis に置き、複数インスタンスで共有します。
type RedisLimiter struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisLimiter(rdb *redis.Client) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, prefix: "ratelimit:"}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, rule Rule) (bool, error) {
	if rule.Limit <= 0 || rule.Window <= 0 {
		return true, nil
	}
	k := l.prefix + key
	count, err := l.rdb.Incr(ctx, k).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := l.rdb.PExpire(ctx, k, rule.Window).Err(); err != nil {
			return false, err
		}
	}
	return count <= int64(rule.Limit), nil
}
