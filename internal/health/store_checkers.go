package health

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
)

// Pinger 可探活的存储连接
type Pinger interface {
	Ping(ctx context.Context) error
}

// RedisPool 遥测缓存连接（Ping + 连接池统计）
type RedisPool interface {
	Pinger
	PoolStats() *goredis.PoolStats
}

// pingFirst Ping 失败直接判定不健康，否则交给 inspect 评估
func pingFirst(name string, p Pinger, inspect func() CheckResult) Checker {
	return CheckerFunc(name, func(ctx context.Context) CheckResult {
		if err := p.Ping(ctx); err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: fmt.Sprintf("ping failed: %v", err)}
		}
		return inspect()
	})
}

// NewDatabaseChecker 归档库检查：连接全部被占用时不健康（批量写入会阻塞）
func NewDatabaseChecker(pool *pgxpool.Pool) Checker {
	return pingFirst("database", pool, func() CheckResult {
		st := pool.Stat()
		return poolUsage(st.AcquiredConns(), st.MaxConns())
	})
}

func poolUsage(acquired, limit int32) CheckResult {
	res := CheckResult{
		Status:  StatusHealthy,
		Message: "ok",
		Details: map[string]any{"acquired_conns": acquired, "max_conns": limit},
	}
	if limit > 0 && acquired >= limit {
		res.Status, res.Message = StatusUnhealthy, "connection pool exhausted"
	}
	return res
}

// NewRedisChecker 遥测缓存检查：占用率超过 90% 或等待超时不少于命中时降级
func NewRedisChecker(rp RedisPool) Checker {
	return pingFirst("redis", rp, func() CheckResult {
		return redisUsage(rp.PoolStats())
	})
}

func redisUsage(st *goredis.PoolStats) CheckResult {
	inUse := st.TotalConns - st.IdleConns
	res := CheckResult{
		Status:  StatusHealthy,
		Message: "ok",
		Details: map[string]any{"total_conns": st.TotalConns, "in_use": inUse, "hits": st.Hits, "timeouts": st.Timeouts},
	}
	switch {
	case st.Timeouts > 0 && st.Timeouts >= st.Hits:
		res.Status, res.Message = StatusDegraded, "pool wait timeouts"
	case st.TotalConns > 0 && float64(inUse) > 0.9*float64(st.TotalConns):
		res.Status, res.Message = StatusDegraded, "connection pool near limit"
	}
	return res
}
