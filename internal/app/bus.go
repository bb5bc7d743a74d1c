package app

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/taoyao-code/rovercan/internal/canbus"
	"github.com/taoyao-code/rovercan/internal/canbus/slcan"
	"github.com/taoyao-code/rovercan/internal/canbus/socketcan"
	"github.com/taoyao-code/rovercan/internal/canbus/trace"
	"github.com/taoyao-code/rovercan/internal/canbus/virtual"
	cfgpkg "github.com/taoyao-code/rovercan/internal/config"
	"github.com/taoyao-code/rovercan/internal/metrics"
)

// Bus 已打开的传输层及其匹配器
type Bus struct {
	Transport canbus.Transport
	Matcher   *canbus.Matcher
	// Virtual driver=virtual 时的进程内总线，可挂载模拟节点
	Virtual *virtual.Bus

	recorder   *trace.Recorder
	recordFile string
	log        *zap.Logger
}

// OpenBus 按 bus.driver 打开传输层；node 用于内核接收过滤
func OpenBus(cfg cfgpkg.BusConfig, node uint8, appm *metrics.AppMetrics, log *zap.Logger) (*Bus, error) {
	b := &Bus{log: log}

	switch cfg.Driver {
	case "socketcan":
		sc := socketcan.Config{Interface: cfg.Interface, DisableLoopback: cfg.DisableLoopback}
		if cfg.KernelFilter {
			sc.Filters = socketcan.NodeFilter(node)
		}
		conn, err := socketcan.Open(sc, log)
		if err != nil {
			return nil, fmt.Errorf("open socketcan %s: %w", cfg.Interface, err)
		}
		b.Transport = conn
	case "slcan":
		conn, err := slcan.Open(slcan.Config{
			Device:   cfg.Device,
			Baud:     cfg.Baud,
			Bitrate:  cfg.Bitrate,
			RingSize: cfg.RingSize,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("open slcan %s: %w", cfg.Device, err)
		}
		b.Transport = conn
	case "virtual":
		b.Virtual = virtual.New()
		b.Transport = b.Virtual.Attach()
	case "replay":
		f, err := trace.Load(cfg.ReplayFile)
		if err != nil {
			return nil, err
		}
		player, err := trace.NewPlayer(f, cfg.Realtime)
		if err != nil {
			return nil, err
		}
		b.Transport = player
	default:
		return nil, fmt.Errorf("unknown bus driver %q", cfg.Driver)
	}

	if cfg.RecordFile != "" {
		b.recorder = trace.NewRecorder(b.Transport)
		b.recordFile = cfg.RecordFile
		b.Transport = b.recorder
	}

	b.Matcher = canbus.NewMatcher(b.Transport, log)
	b.Matcher.SetMaxPending(cfg.MaxPending)
	b.Matcher.SetPollInterval(cfg.PollInterval)
	b.Matcher.SetMetricsCallbacks(appm.MatcherCallbacks())

	log.Info("can bus opened",
		zap.String("driver", cfg.Driver),
		zap.Bool("recording", b.recorder != nil),
		zap.Int("max_pending", cfg.MaxPending))
	return b, nil
}

// Close 保存轨迹并关闭传输层
func (b *Bus) Close() error {
	var errs []error
	if b.recorder != nil {
		if err := b.recorder.Save(b.recordFile); err != nil {
			errs = append(errs, fmt.Errorf("save trace: %w", err))
		} else {
			b.log.Info("bus trace saved", zap.String("file", b.recordFile))
		}
	}
	if c, ok := b.Transport.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
