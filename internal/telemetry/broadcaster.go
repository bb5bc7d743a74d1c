package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Publisher 广播出口（slave.Slave 实现）
type Publisher interface {
	BroadcastDatapoint(stream, channel uint8, value float32) error
}

// Source 周期采样的数据点
type Source struct {
	Stream  uint8
	Channel uint8
	Sample  func() (float32, error)
}

// Broadcaster 从站侧周期广播；帧速率受令牌桶约束，避免占满总线
type Broadcaster struct {
	pub      Publisher
	sources  []Source
	interval time.Duration
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewBroadcaster 创建广播器；frameRate<=0 表示不限速
func NewBroadcaster(pub Publisher, sources []Source, interval time.Duration, frameRate float64, burst int, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	limit := rate.Inf
	if frameRate > 0 {
		limit = rate.Limit(frameRate)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Broadcaster{
		pub:      pub,
		sources:  sources,
		interval: interval,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   logger,
	}
}

// Run 按周期广播直到 ctx 结束
func (b *Broadcaster) Run(ctx context.Context) error {
	b.logger.Info("telemetry broadcaster started",
		zap.Int("sources", len(b.sources)),
		zap.Duration("interval", b.interval),
	)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		if err := b.Tick(ctx); err != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick 采样并广播全部数据源一次；仅在 ctx 结束时返回错误
func (b *Broadcaster) Tick(ctx context.Context) error {
	for _, src := range b.sources {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		v, err := src.Sample()
		if err != nil {
			b.logger.Warn("sample failed",
				zap.Uint8("stream", src.Stream),
				zap.Uint8("channel", src.Channel),
				zap.Error(err),
			)
			continue
		}
		if err := b.pub.BroadcastDatapoint(src.Stream, src.Channel, v); err != nil {
			b.logger.Warn("broadcast failed",
				zap.Uint8("stream", src.Stream),
				zap.Uint8("channel", src.Channel),
				zap.Error(err),
			)
		}
	}
	return nil
}
