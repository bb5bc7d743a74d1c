package app

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/rovercan/internal/config"
	"github.com/taoyao-code/rovercan/internal/fleet"
	"github.com/taoyao-code/rovercan/internal/health"
	"github.com/taoyao-code/rovercan/internal/metrics"
	pgstorage "github.com/taoyao-code/rovercan/internal/storage/pg"
)

// NewFleetMonitor 创建节点监测；启用数据库时上下线事件落库
func NewFleetMonitor(p fleet.Pinger, cfg cfgpkg.FleetConfig, dbpool *pgxpool.Pool, appm *metrics.AppMetrics, log *zap.Logger) (*fleet.Monitor, *fleet.Registry) {
	reg := fleet.NewRegistry(cfg.OfflineAfter)
	mon := fleet.NewMonitor(p, reg, cfg.Nodes, cfg.Interval, log, appm)
	if dbpool != nil {
		events := &pgstorage.NodeEvents{Pool: dbpool}
		mon.OnChange = func(node uint8, online bool, at time.Time) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := events.Record(ctx, node, online, at); err != nil {
				log.Warn("record node event failed", zap.Uint8("node", node), zap.Error(err))
			}
		}
	}
	return mon, reg
}

// FleetChecker 有节点离线为降级，全部离线为不健康
func FleetChecker(reg *fleet.Registry, nodes []uint8) health.Checker {
	return health.CheckerFunc("fleet", func(ctx context.Context) health.CheckResult {
		now := time.Now()
		var offline []uint8
		for _, n := range nodes {
			if !reg.IsOnline(n, now) {
				offline = append(offline, n)
			}
		}
		res := health.CheckResult{
			Status:  health.StatusHealthy,
			Message: "ok",
			Details: map[string]any{"nodes": len(nodes), "offline": offline},
		}
		switch {
		case len(nodes) > 0 && len(offline) == len(nodes):
			res.Status, res.Message = health.StatusUnhealthy, "all nodes offline"
		case len(offline) > 0:
			res.Status, res.Message = health.StatusDegraded, "some nodes offline"
		}
		return res
	})
}
