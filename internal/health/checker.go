package health

import (
	"context"
	"time"
)

// Status 组件健康等级，按严重程度递增
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"  // 仍可下发命令，但有节点或缓冲异常
	StatusUnhealthy Status = "unhealthy" // 总线或存储不可用
)

// rank 用于取多个结果中最差的等级
func (s Status) rank() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Worse 返回 s 与 o 中更差者
func (s Status) Worse(o Status) Status {
	if o.rank() > s.rank() {
		return o
	}
	return s
}

// CheckResult 单个组件的检查结果
type CheckResult struct {
	Status  Status         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Latency time.Duration  `json:"latency"`
}

// Checker 组件检查器
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

type funcChecker struct {
	name string
	fn   func(ctx context.Context) CheckResult
}

func (f funcChecker) Name() string { return f.name }

func (f funcChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	res := f.fn(ctx)
	if res.Latency == 0 {
		res.Latency = time.Since(start)
	}
	return res
}

// CheckerFunc 以函数构造检查器，未填 Latency 时自动计时
func CheckerFunc(name string, fn func(ctx context.Context) CheckResult) Checker {
	return funcChecker{name: name, fn: fn}
}
