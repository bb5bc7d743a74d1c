package payload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taoyao-code/rovercan/internal/protocol"
	"github.com/taoyao-code/rovercan/internal/protocol/slave"
)

// MaxJoints 关节数量（覆盖机械臂与挖掘机构）
const MaxJoints = 8

// 数据点流编号
const (
	StreamPosition uint8 = 0
	StreamSpeed    uint8 = 1
	StreamRelay    uint8 = 2
)

var (
	// ErrNoSuchJoint 关节/继电器编号越界
	ErrNoSuchJoint = errors.New("payload: no such joint")
	// ErrEStopped 急停锁定期间拒绝运动命令
	ErrEStopped = errors.New("payload: emergency stop latched")
	// ErrNoSuchStream 未知数据点流
	ErrNoSuchStream = errors.New("payload: no such stream")
)

// Sim 模拟载荷节点：关节位置/速度表、继电器表、急停锁存与校准集合
type Sim struct {
	mu         sync.RWMutex
	positions  [MaxJoints]float32
	speeds     [MaxJoints]float32
	relays     [MaxJoints]bool
	calibrated [MaxJoints]bool
	estopped   bool
	// requireCal 为真时未校准关节拒绝位置命令
	requireCal bool
	logger     *zap.Logger
}

// New 创建模拟载荷
func New(requireCalibration bool, logger *zap.Logger) *Sim {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sim{requireCal: requireCalibration, logger: logger}
}

func joint(motor uint8) (int, error) {
	if int(motor) >= MaxJoints {
		return 0, fmt.Errorf("%w: %d", ErrNoSuchJoint, motor)
	}
	return int(motor), nil
}

// EStop 锁存急停并将所有速度清零
func (s *Sim) EStop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.estopped = true
	s.speeds = [MaxJoints]float32{}
	s.logger.Warn("emergency stop latched")
	return nil
}

// Calibrate 校准关节：位置归零并解除急停锁存
func (s *Sim) Calibrate(motor uint8) error {
	j, err := joint(motor)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[j] = 0
	s.calibrated[j] = true
	s.estopped = false
	s.logger.Info("joint calibrated", zap.Uint8("motor", motor))
	return nil
}

// SetPosition 设置关节位置
func (s *Sim) SetPosition(motor uint8, v float32) error {
	j, err := joint(motor)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.estopped {
		return ErrEStopped
	}
	if s.requireCal && !s.calibrated[j] {
		return fmt.Errorf("joint %d: %w", motor, protocol.ErrUncalibrated)
	}
	s.positions[j] = v
	return nil
}

// SetSpeed 设置关节速度
func (s *Sim) SetSpeed(motor uint8, v float32) error {
	j, err := joint(motor)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.estopped && v != 0 {
		return ErrEStopped
	}
	s.speeds[j] = v
	return nil
}

// Position 读取关节位置
func (s *Sim) Position(motor uint8) (float32, error) {
	j, err := joint(motor)
	if err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.positions[j], nil
}

// Speed 读取关节速度
func (s *Sim) Speed(motor uint8) (float32, error) {
	j, err := joint(motor)
	if err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.speeds[j], nil
}

// Toggle 继电器开关，state 最低位为开/关
func (s *Sim) Toggle(motor uint8, state uint8) error {
	j, err := joint(motor)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.relays[j] = state&1 != 0
	s.mu.Unlock()
	return nil
}

// Sample 数据点：stream 0 位置、1 速度、2 继电器（0/1），channel 为关节编号
func (s *Sim) Sample(stream, channel uint8) (float32, error) {
	switch stream {
	case StreamPosition:
		return s.Position(channel)
	case StreamSpeed:
		return s.Speed(channel)
	case StreamRelay:
		j, err := joint(channel)
		if err != nil {
			return 0, err
		}
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.relays[j] {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrNoSuchStream, stream)
	}
}

// Step 按速度积分位置，dt 单位秒
func (s *Sim) Step(dt float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.estopped {
		return
	}
	for i := range s.positions {
		s.positions[i] += s.speeds[i] * dt
	}
}

// EStopped 是否处于急停锁存
func (s *Sim) EStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.estopped
}

// Handlers 返回挂接到从站的处理器
func (s *Sim) Handlers() slave.Handlers {
	return slave.Handlers{
		EStop:            slave.EStopFunc(s.EStop),
		Calibrate:        slave.CalibrateFunc(s.Calibrate),
		SetMotorPosition: slave.SetterFunc(s.SetPosition),
		SetMotorSpeed:    slave.SetterFunc(s.SetSpeed),
		ToggleState:      slave.ToggleFunc(s.Toggle),
		GetMotorPosition: slave.GetterFunc(s.Position),
		GetMotorSpeed:    slave.GetterFunc(s.Speed),
		RequestDatapoint: slave.DatapointFunc(s.Sample),
	}
}

// Run 按 period 积分速度直到 ctx 结束
func (s *Sim) Run(ctx context.Context, period time.Duration) {
	if period <= 0 {
		period = 100 * time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Step(float32(now.Sub(last).Seconds()))
			last = now
		}
	}
}
