package app

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/rovercan/internal/config"
	"github.com/taoyao-code/rovercan/internal/metrics"
	pgstorage "github.com/taoyao-code/rovercan/internal/storage/pg"
	redisstorage "github.com/taoyao-code/rovercan/internal/storage/redis"
	"github.com/taoyao-code/rovercan/internal/telemetry"
)

// NewCollector 创建广播采集器并挂载 sink：内存缓存总是挂载，Redis/归档按配置
func NewCollector(src telemetry.Listener, cfg cfgpkg.TelemetryConfig, redisClient *redisstorage.Client, archive *pgstorage.Archive, appm *metrics.AppMetrics, log *zap.Logger) (*telemetry.Collector, *telemetry.Cache) {
	c := telemetry.NewCollector(src, cfg.Window, log, appm)
	cache := telemetry.NewCache()
	c.AddSink("cache", cache)

	if redisClient != nil {
		c.AddSink("redis", redisstorage.NewTelemetryStore(redisClient.Universal(), cfg.RedisKey, 0))
	}
	if archive != nil {
		c.AddSink("archive", telemetry.NewBatcher(cfg.ArchiveBatch, archive.StoreBatch))
	}
	return c, cache
}

// NewArchive 数据库可用且 telemetry.archive 开启时返回归档，否则 nil
func NewArchive(dbpool *pgxpool.Pool, cfg cfgpkg.TelemetryConfig) *pgstorage.Archive {
	if dbpool == nil || !cfg.Archive {
		return nil
	}
	return &pgstorage.Archive{Pool: dbpool}
}

// pruneEvery 清理周期：保留时长的十分之一，介于 1 分钟与 1 小时之间
func pruneEvery(retention time.Duration) time.Duration {
	d := retention / 10
	if d < time.Minute {
		d = time.Minute
	}
	if d > time.Hour {
		d = time.Hour
	}
	return d
}

// Pruner 删除早于 before 的归档
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// RunArchivePruner 周期删除超过保留时长的归档，直到 ctx 结束
func RunArchivePruner(ctx context.Context, p Pruner, retention time.Duration, log *zap.Logger) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(pruneEvery(retention))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := p.Prune(ctx, now.Add(-retention))
			if err != nil {
				log.Warn("archive prune failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("archive pruned", zap.Int64("rows", n), zap.Duration("retention", retention))
			}
		}
	}
}
