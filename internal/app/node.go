package app

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/rovercan/internal/canbus"
	cfgpkg "github.com/taoyao-code/rovercan/internal/config"
	"github.com/taoyao-code/rovercan/internal/metrics"
	"github.com/taoyao-code/rovercan/internal/payload"
	"github.com/taoyao-code/rovercan/internal/protocol/slave"
	"github.com/taoyao-code/rovercan/internal/telemetry"
)

// simPeriod 模拟载荷积分周期
const simPeriod = 50 * time.Millisecond

// simMaxPending 模拟节点待认领队列上限
const simMaxPending = 64

// PayloadSources 将配置的 (stream, channel) 绑定到模拟载荷采样
func PayloadSources(sim *payload.Sim, srcs []cfgpkg.SourceConfig) []telemetry.Source {
	out := make([]telemetry.Source, 0, len(srcs))
	for _, sc := range srcs {
		stream, channel := sc.Stream, sc.Channel
		out = append(out, telemetry.Source{
			Stream:  stream,
			Channel: channel,
			Sample:  func() (float32, error) { return sim.Sample(stream, channel) },
		})
	}
	return out
}

// RunPayloadNode 在 matcher 上运行一个带模拟载荷的从站，直到 ctx 结束
func RunPayloadNode(ctx context.Context, bus *canbus.Matcher, addr uint8, node cfgpkg.NodeConfig, tcfg cfgpkg.TelemetryConfig, appm *metrics.AppMetrics, log *zap.Logger) error {
	log = log.With(zap.Uint8("node", addr))
	sim := payload.New(node.RequireCalibration, log)
	sl := slave.New(bus, slave.Options{Address: addr, ListenTimeout: node.ListenTimeout}, sim.Handlers(), log, appm)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sim.Run(ctx, simPeriod)
	}()

	if tcfg.Broadcast && len(tcfg.Sources) > 0 {
		b := telemetry.NewBroadcaster(sl, PayloadSources(sim, tcfg.Sources), tcfg.Interval, tcfg.FrameRate, tcfg.Burst, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.Run(ctx); err != nil {
				log.Warn("telemetry broadcaster stopped", zap.Error(err))
			}
		}()
	}

	log.Info("payload node serving")
	err := sl.Serve(ctx)
	wg.Wait()
	return err
}

// StartSimulatedNodes 在虚拟总线上为每个地址挂载一个模拟载荷节点
func StartSimulatedNodes(ctx context.Context, b *Bus, addrs []uint8, node cfgpkg.NodeConfig, tcfg cfgpkg.TelemetryConfig, appm *metrics.AppMetrics, log *zap.Logger) *sync.WaitGroup {
	var wg sync.WaitGroup
	for _, addr := range addrs {
		ep := b.Virtual.Attach()
		m := canbus.NewMatcher(ep, log)
		// 其他节点的广播不会被本节点认领
		m.SetMaxPending(simMaxPending)
		wg.Add(1)
		go func(addr uint8) {
			defer wg.Done()
			defer ep.Close()
			if err := RunPayloadNode(ctx, m, addr, node, tcfg, nil, log); err != nil {
				log.Warn("simulated node stopped", zap.Uint8("node", addr), zap.Error(err))
			}
		}(addr)
	}
	log.Info("simulated payload nodes attached", zap.Int("count", len(addrs)))
	return &wg
}
