package canbus

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval 带超时读取时，传输层无帧可读的轮询间隔
const DefaultPollInterval = 500 * time.Microsecond

// Matcher 按 (id, mask) 过滤读取，并缓存未匹配帧供后续调用方使用
// 一个传输实例只能绑定一个 Matcher；读取操作之间互斥。
type Matcher struct {
	mu      sync.Mutex
	t       Transport
	pending []Frame // 已读未认领，按到达顺序

	maxPending   int
	pollInterval time.Duration
	logger       *zap.Logger

	// 可选指标回调
	onRead    func()
	onWrite   func()
	onPending func(n int)
	onDrop    func()
	onTimeout func()
}

// NewMatcher 绑定传输层
func NewMatcher(t Transport, logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{t: t, pollInterval: DefaultPollInterval, logger: logger}
}

// SetMaxPending 设置待认领队列上限（0 不限制）；溢出时丢弃最旧帧
func (m *Matcher) SetMaxPending(n int) {
	m.mu.Lock()
	m.maxPending = n
	m.mu.Unlock()
}

// SetPollInterval 设置轮询间隔
func (m *Matcher) SetPollInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultPollInterval
	}
	m.mu.Lock()
	m.pollInterval = d
	m.mu.Unlock()
}

// SetMetricsCallbacks 设置指标回调
func (m *Matcher) SetMetricsCallbacks(onRead, onWrite func(), onPending func(int), onDrop, onTimeout func()) {
	m.onRead, m.onWrite, m.onPending, m.onDrop, m.onTimeout = onRead, onWrite, onPending, onDrop, onTimeout
}

// WriteFrame 透传写入
func (m *Matcher) WriteFrame(f Frame) error {
	if err := m.t.WriteFrame(f); err != nil {
		return err
	}
	if m.onWrite != nil {
		m.onWrite()
	}
	return nil
}

// Pending 当前待认领帧数
func (m *Matcher) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// PendingFrames 待认领帧快照（按到达顺序）
func (m *Matcher) PendingFrames() []Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Frame, len(m.pending))
	copy(out, m.pending)
	return out
}

// TryTakeBuffered 顺序扫描待认领队列，取走第一个匹配帧
func (m *Matcher) TryTakeBuffered(id, mask uint32) (Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.takeBuffered(id, mask)
}

// ReadMatching 阻塞直到读到匹配帧，不设超时
// 等待期间独占匹配器，其他读取与 Pending 都会阻塞；共享匹配器时改用 ReadMatchingContext
func (m *Matcher) ReadMatching(id, mask uint32) (Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f, ok := m.takeBuffered(id, mask); ok {
		return f, nil
	}
	for {
		f, err := m.read()
		if err != nil {
			return NoFrame, err
		}
		if f.Matches(id, mask) {
			return f, nil
		}
		m.push(f)
	}
}

// ReadMatchingTimeout 带超时读取匹配帧；截止时间在调用开始时一次性计算
// 超时返回 (NoFrame, false, nil)
func (m *Matcher) ReadMatchingTimeout(id, mask uint32, timeout time.Duration) (Frame, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return m.ReadMatchingContext(ctx, id, mask)
}

// ReadMatchingContext 以 ctx 截止时间为界读取匹配帧
// 截止返回 (NoFrame, false, nil)；取消返回 ctx.Err()
func (m *Matcher) ReadMatchingContext(ctx context.Context, id, mask uint32) (Frame, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if f, ok := m.takeBuffered(id, mask); ok {
			return f, true, nil
		}

		readOne := false
		if m.t.Available() {
			f, err := m.read()
			if err != nil {
				return NoFrame, false, err
			}
			if f.Matches(id, mask) {
				return f, true, nil
			}
			m.push(f)
			readOne = true
		}

		if err := ctx.Err(); err != nil {
			return m.expired(ctx, id, mask)
		}
		if readOne {
			continue
		}

		if timer == nil {
			timer = time.NewTimer(m.pollInterval)
		} else {
			timer.Reset(m.pollInterval)
		}
		select {
		case <-ctx.Done():
			return m.expired(ctx, id, mask)
		case <-timer.C:
		}
	}
}

func (m *Matcher) expired(ctx context.Context, id, mask uint32) (Frame, bool, error) {
	if errors.Is(ctx.Err(), context.Canceled) {
		return NoFrame, false, ctx.Err()
	}
	if m.onTimeout != nil {
		m.onTimeout()
	}
	m.logger.Debug("match timeout",
		zap.Uint32("id", id),
		zap.Uint32("mask", mask),
		zap.Int("pending", len(m.pending)),
	)
	return NoFrame, false, nil
}

// IsAvailableMatching 非阻塞检查：先查缓存；否则把传输层当前可读帧全部转入缓存后再查
func (m *Matcher) IsAvailableMatching(id, mask uint32) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hasBuffered(id, mask) {
		return true, nil
	}
	for m.t.Available() {
		f, err := m.read()
		if err != nil {
			return false, err
		}
		m.push(f)
	}
	return m.hasBuffered(id, mask), nil
}

// Reset 清空待认领队列，并丢弃传输层积压帧
func (m *Matcher) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pending = nil
	if m.onPending != nil {
		m.onPending(0)
	}
	if fl, ok := m.t.(Flusher); ok {
		return fl.Flush()
	}
	for m.t.Available() {
		if _, err := m.t.ReadFrame(); err != nil {
			return err
		}
	}
	return nil
}

func (m *Matcher) read() (Frame, error) {
	f, err := m.t.ReadFrame()
	if err != nil {
		return NoFrame, err
	}
	if m.onRead != nil {
		m.onRead()
	}
	return f, nil
}

func (m *Matcher) takeBuffered(id, mask uint32) (Frame, bool) {
	for i, f := range m.pending {
		if f.Matches(id, mask) {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			if m.onPending != nil {
				m.onPending(len(m.pending))
			}
			return f, true
		}
	}
	return NoFrame, false
}

func (m *Matcher) hasBuffered(id, mask uint32) bool {
	for _, f := range m.pending {
		if f.Matches(id, mask) {
			return true
		}
	}
	return false
}

func (m *Matcher) push(f Frame) {
	if m.maxPending > 0 && len(m.pending) >= m.maxPending {
		dropped := m.pending[0]
		m.pending = m.pending[1:]
		if m.onDrop != nil {
			m.onDrop()
		}
		m.logger.Warn("pending queue full, dropping oldest frame",
			zap.Stringer("frame", dropped),
			zap.Int("max", m.maxPending),
		)
	}
	m.pending = append(m.pending, f)
	if m.onPending != nil {
		m.onPending(len(m.pending))
	}
}
