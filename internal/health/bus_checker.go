package health

import (
	"context"
	"fmt"
	"time"
)

// PendingGauge 匹配器待取帧深度（canbus.Matcher 实现）
type PendingGauge interface {
	Pending() int
}

// BreakerGauge 打开的节点熔断器数量（gateway.Gateway 实现）
type BreakerGauge interface {
	OpenBreakers() int
}

// BusChecker CAN 总线健康检查器
type BusChecker struct {
	bus        PendingGauge
	maxPending int
	breakers   BreakerGauge
}

// NewBusChecker maxPending 为 0 表示待取队列不设上限；breakers 可为 nil
func NewBusChecker(bus PendingGauge, maxPending int, breakers BreakerGauge) *BusChecker {
	return &BusChecker{bus: bus, maxPending: maxPending, breakers: breakers}
}

// Name 返回检查器名称
func (c *BusChecker) Name() string {
	return "bus"
}

// Check 待取队列接近上限或有节点熔断时降级，队列打满时不健康
func (c *BusChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	pending := c.bus.Pending()
	details := map[string]interface{}{
		"pending_frames": pending,
	}

	status := StatusHealthy
	message := "ok"

	if c.breakers != nil {
		open := c.breakers.OpenBreakers()
		details["open_breakers"] = open
		if open > 0 {
			status = StatusDegraded
			message = fmt.Sprintf("%d node(s) not answering", open)
		}
	}

	if c.maxPending > 0 {
		utilization := float64(pending) / float64(c.maxPending)
		details["max_pending"] = c.maxPending
		details["utilization"] = fmt.Sprintf("%.1f%%", utilization*100)
		switch {
		case utilization >= 1.0:
			status = StatusUnhealthy
			message = "pending queue full, frames being dropped"
		case utilization > 0.8:
			status = StatusDegraded
			message = "pending queue near limit"
		}
	}

	return CheckResult{
		Status:  status,
		Message: message,
		Details: details,
		Latency: time.Since(start),
	}
}
