//go:build linux

package socketcan

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/taoyao-code/rovercan/internal/canbus"
)

// Conn Linux 原始 CAN 套接字传输
type Conn struct {
	fd     int
	iface  string
	closed atomic.Bool
	wmu    sync.Mutex
	logger *zap.Logger
}

// Open 打开并绑定接口（如 can0 / vcan0）
func Open(cfg Config, logger *zap.Logger) (*Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ifi, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("socketcan: interface %s: %w", cfg.Interface, err)
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socketcan: socket: %w", err)
	}
	c := &Conn{fd: fd, iface: cfg.Interface, logger: logger}

	if cfg.DisableLoopback {
		if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_LOOPBACK, 0); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("socketcan: disable loopback: %w", err)
		}
	}
	if len(cfg.Filters) > 0 {
		filters := make([]unix.CanFilter, 0, len(cfg.Filters))
		for _, f := range cfg.Filters {
			filters = append(filters, unix.CanFilter{Id: f.ID, Mask: f.Mask})
		}
		if err := unix.SetsockoptCanRawFilter(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, filters); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("socketcan: set filter: %w", err)
		}
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("socketcan: bind %s: %w", cfg.Interface, err)
	}
	logger.Info("socketcan opened",
		zap.String("interface", cfg.Interface),
		zap.Bool("loopback_disabled", cfg.DisableLoopback),
		zap.Int("filters", len(cfg.Filters)),
	)
	return c, nil
}

// poll 等待可读，timeoutMs<0 表示无限等待
func (c *Conn) poll(timeoutMs int) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, timeoutMs)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return false, err
		}
		return n > 0 && fds[0].Revents&unix.POLLIN != 0, nil
	}
}

// ReadFrame 阻塞读取；以短轮询等待以便 Close 能及时生效
func (c *Conn) ReadFrame() (canbus.Frame, error) {
	for {
		if c.closed.Load() {
			return canbus.NoFrame, canbus.ErrClosed
		}
		ok, err := c.poll(readPollMs)
		if err != nil {
			c.logger.Warn("socketcan poll failed", zap.String("interface", c.iface), zap.Error(err))
			return canbus.NoFrame, fmt.Errorf("socketcan: poll: %w", err)
		}
		if ok {
			return c.readRecord()
		}
	}
}

func (c *Conn) readRecord() (canbus.Frame, error) {
	rec := make([]byte, canbus.RecordSize)
	n, err := unix.Read(c.fd, rec)
	if err != nil {
		if c.closed.Load() {
			return canbus.NoFrame, canbus.ErrClosed
		}
		c.logger.Warn("socketcan read failed", zap.String("interface", c.iface), zap.Error(err))
		return canbus.NoFrame, fmt.Errorf("socketcan: read: %w", err)
	}
	return canbus.UnmarshalRecord(rec[:n])
}

// WriteFrame 写入一条 can_frame 记录
func (c *Conn) WriteFrame(f canbus.Frame) error {
	if c.closed.Load() {
		return canbus.ErrClosed
	}
	rec, err := f.MarshalRecord()
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	n, err := unix.Write(c.fd, rec)
	if err != nil {
		return fmt.Errorf("socketcan: write: %w", err)
	}
	if n != len(rec) {
		return fmt.Errorf("socketcan: short write: %d/%d", n, len(rec))
	}
	return nil
}

// Available 非阻塞检查套接字是否可读
func (c *Conn) Available() bool {
	if c.closed.Load() {
		return false
	}
	ok, err := c.poll(0)
	return err == nil && ok
}

// Flush 非阻塞读空内核接收队列
func (c *Conn) Flush() error {
	for c.Available() {
		if _, err := c.readRecord(); err != nil {
			return err
		}
	}
	return nil
}

// Close 关闭套接字
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(c.fd)
}
