package master

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/rovercan/internal/canbus"
	"github.com/taoyao-code/rovercan/internal/metrics"
	"github.com/taoyao-code/rovercan/internal/protocol"
	"github.com/taoyao-code/rovercan/internal/protocol/address"
	"github.com/taoyao-code/rovercan/internal/protocol/command"
)

// DefaultPingTimeout Ping 默认超时
const DefaultPingTimeout = time.Second

// Options 主站参数
type Options struct {
	Address        uint8
	RequestTimeout time.Duration // 0 表示仅受 ctx 约束
	PingTimeout    time.Duration
	// StrictSequence 丢弃 byte0 回显与请求不一致的应答并继续等待
	StrictSequence bool
}

// Master 请求方协议状态机：同一时刻只有一轮请求/应答在进行
type Master struct {
	mu   sync.Mutex
	bus  *canbus.Matcher
	opts Options
	seq  uint8

	logger  *zap.Logger
	metrics *metrics.AppMetrics
}

// New 创建主站
func New(bus *canbus.Matcher, opts Options, logger *zap.Logger, m *metrics.AppMetrics) *Master {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = DefaultPingTimeout
	}
	return &Master{bus: bus, opts: opts, logger: logger, metrics: m}
}

// Address 本机地址
func (m *Master) Address() uint8 { return m.opts.Address }

// nextSeq 4 位递增序号，模 16 回绕
func (m *Master) nextSeq() uint8 {
	s := m.seq & address.NibbleMask
	m.seq = (m.seq + 1) & address.NibbleMask
	return s
}

// request 一轮请求描述
type request struct {
	cmd     protocol.CommandID
	dest    uint8
	build   func(b *command.Buffer, seq uint8) error
	timeout time.Duration
	minLen  int
}

// exchange 写请求并等待角色互换后的应答标识符
func (m *Master) exchange(ctx context.Context, r request) (canbus.Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := command.New()
	if err := r.build(buf, m.nextSeq()); err != nil {
		m.metrics.ObserveRequest(r.cmd.String(), "error")
		return canbus.NoFrame, fmt.Errorf("build %s: %w", r.cmd, err)
	}
	req, err := canbus.NewFrame(address.Pack(r.dest, m.opts.Address), buf.Bytes())
	if err != nil {
		return canbus.NoFrame, err
	}
	if err := m.bus.WriteFrame(req); err != nil {
		m.metrics.ObserveRequest(r.cmd.String(), "error")
		return canbus.NoFrame, fmt.Errorf("write %s to node %d: %w", r.cmd, r.dest, err)
	}
	m.logger.Debug("request sent",
		zap.String("cmd", r.cmd.String()),
		zap.Uint8("dest", r.dest),
		zap.Stringer("frame", req),
	)

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	replyID := address.Pack(m.opts.Address, r.dest)
	for {
		reply, ok, err := m.bus.ReadMatchingContext(ctx, replyID, canbus.MaskAll)
		if err != nil {
			m.metrics.ObserveRequest(r.cmd.String(), "error")
			return canbus.NoFrame, err
		}
		if !ok {
			m.metrics.ObserveRequest(r.cmd.String(), "timeout")
			m.logger.Warn("no response",
				zap.String("cmd", r.cmd.String()),
				zap.Uint8("dest", r.dest),
				zap.Duration("timeout", r.timeout),
			)
			return canbus.NoFrame, protocol.ErrNoResponse
		}
		if stale := m.staleReply(req, reply); stale != nil {
			m.logger.Debug("discarding stale reply",
				zap.String("cmd", r.cmd.String()),
				zap.Stringer("frame", reply),
				zap.Error(stale),
			)
			continue
		}
		if int(reply.Len) < r.minLen {
			m.metrics.ObserveRequest(r.cmd.String(), "malformed")
			return reply, fmt.Errorf("%w: %s reply has %d bytes, want %d",
				protocol.ErrMalformedFrame, r.cmd, reply.Len, r.minLen)
		}
		m.metrics.ObserveRequest(r.cmd.String(), "ok")
		m.logger.Debug("response received",
			zap.String("cmd", r.cmd.String()),
			zap.Uint8("dest", r.dest),
			zap.Stringer("frame", reply),
		)
		return reply, nil
	}
}

// staleReply 宽松模式只要求应答命令号与请求一致；严格模式要求 byte0 完整回显
// 空应答交由长度检查判为畸形帧
func (m *Master) staleReply(req, reply canbus.Frame) error {
	if reply.Len == 0 {
		return nil
	}
	if m.opts.StrictSequence {
		if reply.Data[0] != req.Data[0] {
			return protocol.ErrSequenceMismatch
		}
		return nil
	}
	gotCmd, _ := address.UnpackNibbles(reply.Data[0])
	wantCmd, _ := address.UnpackNibbles(req.Data[0])
	if gotCmd != wantCmd {
		return fmt.Errorf("%w: reply to %s", protocol.ErrSequenceMismatch, protocol.CommandID(gotCmd))
	}
	return nil
}

func envelope(cmd protocol.CommandID) func(*command.Buffer, uint8) error {
	return func(b *command.Buffer, seq uint8) error {
		return b.AddU8(address.PackNibbles(uint8(cmd), seq))
	}
}

func targeted(cmd protocol.CommandID, target, flags uint8, value *float32) func(*command.Buffer, uint8) error {
	return func(b *command.Buffer, seq uint8) error {
		if err := b.AddU8(address.PackNibbles(uint8(cmd), seq)); err != nil {
			return err
		}
		if err := b.AddU8(address.PackNibbles(target, flags)); err != nil {
			return err
		}
		if value != nil {
			return b.AddFloat(*value)
		}
		return nil
	}
}

// statusOK 控制类命令结果：收到应答且错误位未置位
func (m *Master) statusOK(ctx context.Context, r request) (bool, error) {
	reply, err := m.exchange(ctx, r)
	if errors.Is(err, protocol.ErrNoResponse) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !protocol.DecodeState(reply.Data[1]).Error, nil
}

func (m *Master) state(ctx context.Context, r request) (protocol.State, error) {
	reply, err := m.exchange(ctx, r)
	if err != nil {
		return protocol.State{}, err
	}
	return protocol.DecodeState(reply.Data[1]), nil
}

func (m *Master) stateValue(ctx context.Context, r request) (protocol.State, float32, error) {
	reply, err := m.exchange(ctx, r)
	if err != nil {
		return protocol.State{}, 0, err
	}
	b := command.FromBytes(reply.Payload())
	b.NextU8()
	st := protocol.DecodeState(b.NextU8())
	return st, b.NextFloat(), nil
}

// EStop 急停；超时返回 false
func (m *Master) EStop(ctx context.Context, dest uint8) (bool, error) {
	return m.statusOK(ctx, request{
		cmd: protocol.CmdEStop, dest: dest, build: envelope(protocol.CmdEStop),
		timeout: m.opts.RequestTimeout, minLen: protocol.StatusReplyLen,
	})
}

// Calibrate 校准/复位指定电机；超时返回 false
func (m *Master) Calibrate(ctx context.Context, dest, motor uint8) (bool, error) {
	return m.statusOK(ctx, request{
		cmd: protocol.CmdCalibrate, dest: dest, build: targeted(protocol.CmdCalibrate, motor, 0, nil),
		timeout: m.opts.RequestTimeout, minLen: protocol.StatusReplyLen,
	})
}

// SetMotorPosition 设置电机位置
func (m *Master) SetMotorPosition(ctx context.Context, dest, motor uint8, position float32) (protocol.State, error) {
	return m.state(ctx, request{
		cmd: protocol.CmdSetMotorPosition, dest: dest,
		build:   targeted(protocol.CmdSetMotorPosition, motor, 0, &position),
		timeout: m.opts.RequestTimeout, minLen: protocol.StatusReplyLen,
	})
}

// SetMotorSpeed 设置电机速度
func (m *Master) SetMotorSpeed(ctx context.Context, dest, motor uint8, speed float32) (protocol.State, error) {
	return m.state(ctx, request{
		cmd: protocol.CmdSetMotorSpeed, dest: dest,
		build:   targeted(protocol.CmdSetMotorSpeed, motor, 0, &speed),
		timeout: m.opts.RequestTimeout, minLen: protocol.StatusReplyLen,
	})
}

// ToggleState 设置开关量（继电器等），状态放在标志半字节
func (m *Master) ToggleState(ctx context.Context, dest, motor uint8, on bool) (protocol.State, error) {
	var flag uint8
	if on {
		flag = 1
	}
	return m.state(ctx, request{
		cmd: protocol.CmdToggleState, dest: dest,
		build:   targeted(protocol.CmdToggleState, motor, flag, nil),
		timeout: m.opts.RequestTimeout, minLen: protocol.StatusReplyLen,
	})
}

// GetMotorPosition 读取电机位置
func (m *Master) GetMotorPosition(ctx context.Context, dest, motor uint8) (protocol.State, float32, error) {
	return m.stateValue(ctx, request{
		cmd: protocol.CmdGetMotorPosition, dest: dest,
		build:   targeted(protocol.CmdGetMotorPosition, motor, 0, nil),
		timeout: m.opts.RequestTimeout, minLen: protocol.ValueReplyLen,
	})
}

// GetMotorSpeed 读取电机速度
func (m *Master) GetMotorSpeed(ctx context.Context, dest, motor uint8) (protocol.State, float32, error) {
	return m.stateValue(ctx, request{
		cmd: protocol.CmdGetMotorSpeed, dest: dest,
		build:   targeted(protocol.CmdGetMotorSpeed, motor, 0, nil),
		timeout: m.opts.RequestTimeout, minLen: protocol.ValueReplyLen,
	})
}

// RequestDatapoint 请求数据点；stream 占用序号半字节，因此不消耗序号
func (m *Master) RequestDatapoint(ctx context.Context, dest, stream, channel uint8) (protocol.Datapoint, error) {
	build := func(b *command.Buffer, _ uint8) error {
		if err := b.AddU8(address.PackNibbles(uint8(protocol.CmdRequestDatapoint), stream)); err != nil {
			return err
		}
		return b.AddU8(address.PackNibbles(channel, 0))
	}
	reply, err := m.exchange(ctx, request{
		cmd: protocol.CmdRequestDatapoint, dest: dest, build: build,
		timeout: m.opts.RequestTimeout, minLen: protocol.ValueReplyLen,
	})
	if err != nil {
		return protocol.Datapoint{}, err
	}
	return DecodeDatapoint(reply), nil
}

// Ping 探活：截止时间内收到任意应答即视为在线，不解析内容
func (m *Master) Ping(ctx context.Context, dest uint8) (bool, error) {
	_, err := m.exchange(ctx, request{
		cmd: protocol.CmdPing, dest: dest, build: envelope(protocol.CmdPing),
		timeout: m.opts.PingTimeout,
	})
	if errors.Is(err, protocol.ErrNoResponse) {
		return false, nil
	}
	return err == nil, err
}

// broadcastPollWindow 无限期监听时每轮持有总线读锁的最长时间
const broadcastPollWindow = 50 * time.Millisecond

// BroadcastDatapoint 被动监听广播数据点，直到收到为止
// 按短窗口轮询，窗口之间释放总线，其他请求可以穿插进行
func (m *Master) BroadcastDatapoint() (protocol.Datapoint, error) {
	for {
		ctx, cancel := context.WithTimeout(context.Background(), broadcastPollWindow)
		dp, err := m.BroadcastDatapointContext(ctx)
		cancel()
		if errors.Is(err, protocol.ErrNoResponse) {
			continue
		}
		return dp, err
	}
}

// BroadcastDatapointContext 带截止时间的广播监听；截止返回 ErrNoResponse
func (m *Master) BroadcastDatapointContext(ctx context.Context) (protocol.Datapoint, error) {
	f, ok, err := m.bus.ReadMatchingContext(ctx, protocol.BroadcastID, protocol.DestMask)
	if err != nil {
		return protocol.Datapoint{}, err
	}
	if !ok {
		return protocol.Datapoint{}, protocol.ErrNoResponse
	}
	return DecodeDatapoint(f), nil
}

// DecodeDatapoint byte0 低半字节为 stream，byte1 高半字节为 channel，随后为浮点值
func DecodeDatapoint(f canbus.Frame) protocol.Datapoint {
	_, source := address.Unpack(f.ID)
	b := command.FromBytes(f.Payload())
	_, stream := address.UnpackNibbles(b.NextU8())
	channel, _ := address.UnpackNibbles(b.NextU8())
	return protocol.Datapoint{
		Source:  source,
		Stream:  stream,
		Channel: channel,
		Value:   b.NextFloat(),
	}
}
