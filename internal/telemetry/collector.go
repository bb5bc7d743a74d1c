package telemetry

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/rovercan/internal/metrics"
	"github.com/taoyao-code/rovercan/internal/protocol"
)

// DefaultWindow 单次广播监听窗口
const DefaultWindow = 50 * time.Millisecond

// Listener 广播数据点来源（master.Master 实现）
type Listener interface {
	BroadcastDatapointContext(ctx context.Context) (protocol.Datapoint, error)
}

// Sink 采样落地
type Sink interface {
	Store(ctx context.Context, s protocol.Sample) error
}

// SinkFunc 函数适配器
type SinkFunc func(ctx context.Context, s protocol.Sample) error

func (f SinkFunc) Store(ctx context.Context, s protocol.Sample) error { return f(ctx, s) }

// Flusher 可选：退出前冲刷缓冲
type Flusher interface {
	Flush(ctx context.Context) error
}

type namedSink struct {
	name string
	sink Sink
}

// Collector 主站侧广播采集：循环短窗口监听，把每个数据点分发到各 Sink
// 短窗口让出总线读锁，使命令请求可以穿插进行
type Collector struct {
	src     Listener
	window  time.Duration
	sinks   []namedSink
	logger  *zap.Logger
	metrics *metrics.AppMetrics
	now     func() time.Time

	mu       sync.Mutex
	received int64
}

// NewCollector 创建采集器
func NewCollector(src Listener, window time.Duration, logger *zap.Logger, m *metrics.AppMetrics) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Collector{src: src, window: window, logger: logger, metrics: m, now: time.Now}
}

// AddSink 注册落地
func (c *Collector) AddSink(name string, s Sink) {
	c.sinks = append(c.sinks, namedSink{name: name, sink: s})
}

// Received 已采集数量
func (c *Collector) Received() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.received
}

// Run 阻塞运行直到 ctx 结束；传输层错误时返回
func (c *Collector) Run(ctx context.Context) error {
	c.logger.Info("telemetry collector started", zap.Duration("window", c.window), zap.Int("sinks", len(c.sinks)))
	defer c.flush()
	for {
		if ctx.Err() != nil {
			return nil
		}
		ok, err := c.CollectOnce(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.Error("telemetry collector stopped", zap.Error(err))
			return err
		}
		if !ok {
			// 窗口内无广播，短暂让出总线
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Millisecond):
			}
		}
	}
}

// CollectOnce 监听一个窗口；收到数据点时分发并返回 true
func (c *Collector) CollectOnce(ctx context.Context) (bool, error) {
	wctx, cancel := context.WithTimeout(ctx, c.window)
	dp, err := c.src.BroadcastDatapointContext(wctx)
	cancel()
	if errors.Is(err, protocol.ErrNoResponse) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	c.dispatch(ctx, protocol.Sample{Datapoint: dp, At: c.now()})
	return true, nil
}

func (c *Collector) dispatch(ctx context.Context, s protocol.Sample) {
	c.mu.Lock()
	c.received++
	c.mu.Unlock()
	c.metrics.ObserveDatapoint(strconv.Itoa(int(s.Source)))
	c.logger.Debug("datapoint collected",
		zap.Uint8("source", s.Source),
		zap.Uint8("stream", s.Stream),
		zap.Uint8("channel", s.Channel),
		zap.Float32("value", s.Value),
	)
	for _, ns := range c.sinks {
		if err := ns.sink.Store(ctx, s); err != nil {
			c.logger.Warn("telemetry sink failed", zap.String("sink", ns.name), zap.Error(err))
		}
	}
}

func (c *Collector) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, ns := range c.sinks {
		if f, ok := ns.sink.(Flusher); ok {
			if err := f.Flush(ctx); err != nil {
				c.logger.Warn("telemetry sink flush failed", zap.String("sink", ns.name), zap.Error(err))
			}
		}
	}
}
