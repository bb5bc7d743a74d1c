package app

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taoyao-code/rovercan/internal/health"
)

// NewHealthAggregator 创建健康检查聚合器：总线检查 + 可选数据库检查
func NewHealthAggregator(bus health.PendingGauge, maxPending int, breakers health.BreakerGauge, dbpool *pgxpool.Pool) *health.Aggregator {
	agg := health.NewAggregator(health.NewBusChecker(bus, maxPending, breakers))
	if dbpool != nil {
		agg.AddChecker(health.NewDatabaseChecker(dbpool))
	}
	return agg
}
