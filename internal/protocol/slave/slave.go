package slave

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/rovercan/internal/canbus"
	"github.com/taoyao-code/rovercan/internal/metrics"
	"github.com/taoyao-code/rovercan/internal/protocol"
	"github.com/taoyao-code/rovercan/internal/protocol/address"
	"github.com/taoyao-code/rovercan/internal/protocol/command"
)

// DefaultListenTimeout Listen 单次等待上限
const DefaultListenTimeout = 500 * time.Millisecond

// Options 从站参数
type Options struct {
	Address       uint8
	ListenTimeout time.Duration
}

// incoming 解码后的请求
type incoming struct {
	cmd    protocol.CommandID
	seq    uint8
	target uint8
	flags  uint8
	value  float32
}

type dispatchFunc func(in incoming) (float32, error)

// Slave 应答方：等待发往本节点的命令，分发给处理器并回复原发送方
type Slave struct {
	opts    Options
	bus     *canbus.Matcher
	table   map[protocol.CommandID]dispatchFunc
	logger  *zap.Logger
	metrics *metrics.AppMetrics
}

// New 创建从站；处理器在构造时注入，各实例互不影响
func New(bus *canbus.Matcher, opts Options, h Handlers, logger *zap.Logger, m *metrics.AppMetrics) *Slave {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ListenTimeout <= 0 {
		opts.ListenTimeout = DefaultListenTimeout
	}
	opts.Address &= address.Mask
	s := &Slave{opts: opts, bus: bus, logger: logger, metrics: m}
	s.table = buildTable(h.withDefaults(logger))
	return s
}

func buildTable(h Handlers) map[protocol.CommandID]dispatchFunc {
	noValue := func(err error) (float32, error) { return 0, err }
	return map[protocol.CommandID]dispatchFunc{
		protocol.CmdEStop: func(incoming) (float32, error) {
			return noValue(h.EStop.EStop())
		},
		protocol.CmdCalibrate: func(in incoming) (float32, error) {
			return noValue(h.Calibrate.Calibrate(in.target))
		},
		protocol.CmdSetMotorPosition: func(in incoming) (float32, error) {
			return noValue(h.SetMotorPosition.Set(in.target, in.value))
		},
		protocol.CmdSetMotorSpeed: func(in incoming) (float32, error) {
			return noValue(h.SetMotorSpeed.Set(in.target, in.value))
		},
		protocol.CmdToggleState: func(in incoming) (float32, error) {
			return noValue(h.ToggleState.Toggle(in.target, in.flags))
		},
		protocol.CmdGetMotorPosition: func(in incoming) (float32, error) {
			return h.GetMotorPosition.Get(in.target)
		},
		protocol.CmdGetMotorSpeed: func(in incoming) (float32, error) {
			return h.GetMotorSpeed.Get(in.target)
		},
		// stream 位于序号半字节，channel 位于目标半字节
		protocol.CmdRequestDatapoint: func(in incoming) (float32, error) {
			return h.RequestDatapoint.Datapoint(in.seq, in.target)
		},
		protocol.CmdPing: func(incoming) (float32, error) {
			return math.Float32frombits(binary.LittleEndian.Uint32(protocol.PongMarker[:])), nil
		},
	}
}

// Address 本节点地址
func (s *Slave) Address() uint8 { return s.opts.Address }

func (s *Slave) filter() (id, mask uint32) {
	return uint32(s.opts.Address) << address.Bits, protocol.DestMask
}

// Listen 在 ListenTimeout 内等待一条发往本节点的命令并处理；超时不做任何动作
func (s *Slave) Listen(ctx context.Context) (bool, error) {
	return s.serveOnce(ctx, true)
}

// PollOnce 非阻塞：仅当已有匹配帧时处理
func (s *Slave) PollOnce() (bool, error) {
	return s.serveOnce(context.Background(), false)
}

// Serve 循环 Listen 直到 ctx 结束
func (s *Slave) Serve(ctx context.Context) error {
	s.logger.Info("slave listening", zap.Uint8("address", s.opts.Address))
	for ctx.Err() == nil {
		if _, err := s.Listen(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
	return nil
}

// serveOnce 统一的接收/分发/应答流程，block 决定等待策略
func (s *Slave) serveOnce(ctx context.Context, block bool) (bool, error) {
	id, mask := s.filter()

	var f canbus.Frame
	if block {
		wctx, cancel := context.WithTimeout(ctx, s.opts.ListenTimeout)
		defer cancel()
		got, ok, err := s.bus.ReadMatchingContext(wctx, id, mask)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		f = got
	} else {
		ok, err := s.bus.IsAvailableMatching(id, mask)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		if f, ok = s.bus.TryTakeBuffered(id, mask); !ok {
			return false, nil
		}
	}
	return s.handle(f)
}

func decode(f canbus.Frame) incoming {
	b := command.FromBytes(f.Payload())
	cmd, seq := address.UnpackNibbles(b.NextU8())
	target, flags := address.UnpackNibbles(b.NextU8())
	return incoming{
		cmd:    protocol.CommandID(cmd),
		seq:    seq,
		target: target,
		flags:  flags,
		value:  b.NextFloat(),
	}
}

// handle 分发并应答；未知命令静默丢弃，不应答
func (s *Slave) handle(f canbus.Frame) (bool, error) {
	in := decode(f)
	dest, src := address.Unpack(f.ID)

	fn, ok := s.table[in.cmd]
	if !ok {
		s.logger.Debug("ignoring unknown command",
			zap.Uint8("cmd", uint8(in.cmd)),
			zap.Uint8("source", src),
		)
		return false, nil
	}
	s.logger.Debug("command received",
		zap.String("cmd", in.cmd.String()),
		zap.Uint8("source", src),
		zap.Uint8("seq", in.seq),
		zap.Uint8("target", in.target),
		zap.Uint8("flags", in.flags),
	)
	s.metrics.ObserveDispatch(in.cmd.String())

	result, herr := fn(in)
	flags := in.flags
	if herr != nil {
		flags |= protocol.FlagError
		if errors.Is(herr, protocol.ErrUncalibrated) {
			flags |= protocol.FlagUncalibrated
		}
		s.logger.Warn("handler failed",
			zap.String("cmd", in.cmd.String()),
			zap.Uint8("target", in.target),
			zap.Error(herr),
		)
	}

	reply := command.New()
	if err := reply.AddU8(address.PackNibbles(uint8(in.cmd), in.seq)); err != nil {
		return false, err
	}
	if err := reply.AddU8(address.PackNibbles(in.target, flags)); err != nil {
		return false, err
	}
	if err := reply.AddFloat(result); err != nil {
		return false, err
	}
	rf, err := canbus.NewFrame(address.Pack(src, dest), reply.Bytes())
	if err != nil {
		return false, err
	}
	if err := s.bus.WriteFrame(rf); err != nil {
		return false, fmt.Errorf("reply %s to node %d: %w", in.cmd, src, err)
	}
	return true, nil
}

// BroadcastDatapoint 主动广播数据点（目的地址为通配 0x3F）
func (s *Slave) BroadcastDatapoint(stream, channel uint8, value float32) error {
	b := command.New()
	if err := b.AddU8(address.PackNibbles(uint8(protocol.CmdBroadcastDatapoint), stream)); err != nil {
		return err
	}
	if err := b.AddU8(address.PackNibbles(channel, 0)); err != nil {
		return err
	}
	if err := b.AddFloat(value); err != nil {
		return err
	}
	f, err := canbus.NewFrame(address.Pack(address.Broadcast, s.opts.Address), b.Bytes())
	if err != nil {
		return err
	}
	if err := s.bus.WriteFrame(f); err != nil {
		return fmt.Errorf("broadcast datapoint: %w", err)
	}
	s.metrics.ObserveBroadcast()
	return nil
}
