package fleet

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/rovercan/internal/metrics"
)

// Pinger 探活能力（master.Master / gateway.Gateway 实现）
type Pinger interface {
	Ping(ctx context.Context, dest uint8) (bool, error)
}

// Monitor 周期性 Ping 配置的节点并维护注册表
type Monitor struct {
	pinger   Pinger
	registry *Registry
	nodes    []uint8
	interval time.Duration
	logger   *zap.Logger
	metrics  *metrics.AppMetrics
	now      func() time.Time

	// OnChange 在线状态变化回调
	OnChange func(node uint8, online bool, at time.Time)

	last map[uint8]bool
}

// NewMonitor 创建监测器
func NewMonitor(p Pinger, reg *Registry, nodes []uint8, interval time.Duration, logger *zap.Logger, m *metrics.AppMetrics) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	for _, n := range nodes {
		reg.Track(n)
	}
	return &Monitor{
		pinger:   p,
		registry: reg,
		nodes:    nodes,
		interval: interval,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
		last:     make(map[uint8]bool),
	}
}

// Run 立即检查一轮，之后按周期检查直到 ctx 结束
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check 依次 Ping 每个节点
func (m *Monitor) Check(ctx context.Context) {
	for _, n := range m.nodes {
		if ctx.Err() != nil {
			return
		}
		ok, err := m.pinger.Ping(ctx, n)
		now := m.now()
		if err != nil {
			m.logger.Warn("ping failed", zap.Uint8("node", n), zap.Error(err))
		}
		if ok {
			m.registry.OnPong(n, now)
		} else {
			m.registry.OnMiss(n, now)
		}
		online := m.registry.IsOnline(n, now)
		if prev, seen := m.last[n]; !seen || prev != online {
			m.last[n] = online
			m.logger.Info("node liveness changed", zap.Uint8("node", n), zap.Bool("online", online))
			if m.OnChange != nil {
				m.OnChange(n, online, now)
			}
		}
	}
	m.metrics.SetNodesOnline(m.registry.OnlineCount(m.now()))
}
