package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/rovercan/internal/config"
	"github.com/taoyao-code/rovercan/internal/protocol"
)

// Commander 主站命令集（master.Master 实现）
type Commander interface {
	EStop(ctx context.Context, dest uint8) (bool, error)
	Calibrate(ctx context.Context, dest, motor uint8) (bool, error)
	SetMotorPosition(ctx context.Context, dest, motor uint8, position float32) (protocol.State, error)
	SetMotorSpeed(ctx context.Context, dest, motor uint8, speed float32) (protocol.State, error)
	ToggleState(ctx context.Context, dest, motor uint8, on bool) (protocol.State, error)
	GetMotorPosition(ctx context.Context, dest, motor uint8) (protocol.State, float32, error)
	GetMotorSpeed(ctx context.Context, dest, motor uint8) (protocol.State, float32, error)
	RequestDatapoint(ctx context.Context, dest, stream, channel uint8) (protocol.Datapoint, error)
	Ping(ctx context.Context, dest uint8) (bool, error)
}

// Gateway 面向并发调用方的主站入口：命令限流 + 按节点熔断。
// 急停不经过限流与熔断。
type Gateway struct {
	cmd     Commander
	limiter *RateLimiter
	logger  *zap.Logger

	mu        sync.Mutex
	breakers  map[uint8]*Breaker
	threshold int
	cooldown  time.Duration
}

// New 创建网关
func New(cmd Commander, cfg cfgpkg.GatewayConfig, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		cmd:       cmd,
		limiter:   NewRateLimiter(cfg.RatePerSec, cfg.Burst),
		logger:    logger,
		breakers:  make(map[uint8]*Breaker),
		threshold: cfg.BreakerThreshold,
		cooldown:  cfg.BreakerCooldown,
	}
}

// Breaker 获取（必要时创建）节点熔断器
func (g *Gateway) Breaker(dest uint8) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[dest]
	if !ok {
		b = NewBreaker(g.threshold, g.cooldown)
		g.breakers[dest] = b
	}
	return b
}

// classify 超时计为节点失败；短帧说明节点仍在应答
func classify(err error) outcome {
	switch {
	case err == nil, errors.Is(err, protocol.ErrMalformedFrame):
		return outcomeSuccess
	case errors.Is(err, protocol.ErrNoResponse):
		return outcomeFailure
	default:
		return outcomeNeutral
	}
}

// call 限流与熔断检查后执行 fn，fn 返回本次结果分类
func (g *Gateway) call(dest uint8, fn func() (outcome, error)) error {
	if !g.limiter.Allow() {
		return ErrRateLimited
	}
	b := g.Breaker(dest)
	if err := b.Allow(); err != nil {
		return fmt.Errorf("node %d: %w", dest, err)
	}
	o, err := fn()
	prev := b.State()
	b.record(o)
	if cur := b.State(); cur != prev {
		g.logger.Warn("node breaker state changed",
			zap.Uint8("node", dest),
			zap.Stringer("from", prev),
			zap.Stringer("to", cur),
		)
	}
	return err
}

// EStop 急停，直接下发
func (g *Gateway) EStop(ctx context.Context, dest uint8) (bool, error) {
	return g.cmd.EStop(ctx, dest)
}

// Calibrate 校准；false 无法区分超时与错误应答，不计入熔断
func (g *Gateway) Calibrate(ctx context.Context, dest, motor uint8) (bool, error) {
	var ok bool
	err := g.call(dest, func() (outcome, error) {
		var err error
		ok, err = g.cmd.Calibrate(ctx, dest, motor)
		if err == nil && !ok {
			return outcomeNeutral, nil
		}
		return classify(err), err
	})
	return ok, err
}

// Ping 探活；无应答计为失败
func (g *Gateway) Ping(ctx context.Context, dest uint8) (bool, error) {
	var ok bool
	err := g.call(dest, func() (outcome, error) {
		var err error
		ok, err = g.cmd.Ping(ctx, dest)
		if err == nil && !ok {
			return outcomeFailure, nil
		}
		return classify(err), err
	})
	return ok, err
}

func (g *Gateway) callState(dest uint8, fn func() (protocol.State, error)) (protocol.State, error) {
	var st protocol.State
	err := g.call(dest, func() (outcome, error) {
		var err error
		st, err = fn()
		return classify(err), err
	})
	return st, err
}

// SetMotorPosition 设置位置
func (g *Gateway) SetMotorPosition(ctx context.Context, dest, motor uint8, position float32) (protocol.State, error) {
	return g.callState(dest, func() (protocol.State, error) {
		return g.cmd.SetMotorPosition(ctx, dest, motor, position)
	})
}

// SetMotorSpeed 设置速度
func (g *Gateway) SetMotorSpeed(ctx context.Context, dest, motor uint8, speed float32) (protocol.State, error) {
	return g.callState(dest, func() (protocol.State, error) {
		return g.cmd.SetMotorSpeed(ctx, dest, motor, speed)
	})
}

// ToggleState 开关
func (g *Gateway) ToggleState(ctx context.Context, dest, motor uint8, on bool) (protocol.State, error) {
	return g.callState(dest, func() (protocol.State, error) {
		return g.cmd.ToggleState(ctx, dest, motor, on)
	})
}

func (g *Gateway) callValue(dest uint8, fn func() (protocol.State, float32, error)) (protocol.State, float32, error) {
	var (
		st protocol.State
		v  float32
	)
	err := g.call(dest, func() (outcome, error) {
		var err error
		st, v, err = fn()
		return classify(err), err
	})
	return st, v, err
}

// GetMotorPosition 读取位置
func (g *Gateway) GetMotorPosition(ctx context.Context, dest, motor uint8) (protocol.State, float32, error) {
	return g.callValue(dest, func() (protocol.State, float32, error) {
		return g.cmd.GetMotorPosition(ctx, dest, motor)
	})
}

// GetMotorSpeed 读取速度
func (g *Gateway) GetMotorSpeed(ctx context.Context, dest, motor uint8) (protocol.State, float32, error) {
	return g.callValue(dest, func() (protocol.State, float32, error) {
		return g.cmd.GetMotorSpeed(ctx, dest, motor)
	})
}

// RequestDatapoint 请求数据点
func (g *Gateway) RequestDatapoint(ctx context.Context, dest, stream, channel uint8) (protocol.Datapoint, error) {
	var dp protocol.Datapoint
	err := g.call(dest, func() (outcome, error) {
		var err error
		dp, err = g.cmd.RequestDatapoint(ctx, dest, stream, channel)
		return classify(err), err
	})
	return dp, err
}

// Stats 网关统计
type Stats struct {
	Allowed  int64                  `json:"allowed"`
	Rejected int64                  `json:"rejected"`
	Breakers map[uint8]BreakerStats `json:"breakers"`
}

// Stats 获取统计快照
func (g *Gateway) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := Stats{
		Allowed:  g.limiter.Allowed(),
		Rejected: g.limiter.Rejected(),
		Breakers: make(map[uint8]BreakerStats, len(g.breakers)),
	}
	for addr, b := range g.breakers {
		s.Breakers[addr] = b.Stats()
	}
	return s
}

// OpenBreakers 当前处于打开状态的节点数
func (g *Gateway) OpenBreakers() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, b := range g.breakers {
		if b.State() == BreakerOpen {
			n++
		}
	}
	return n
}
