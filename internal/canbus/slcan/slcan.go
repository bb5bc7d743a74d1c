package slcan

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"
	"go.uber.org/zap"

	"github.com/taoyao-code/rovercan/internal/canbus"
)

// DefaultRingSize 预读环形缓冲容量
const DefaultRingSize = 64

// Config 串口 CAN 适配器参数
type Config struct {
	Device   string
	Baud     int
	Bitrate  int
	RingSize int
}

// Conn 基于 Lawicel ASCII 协议的 CAN 传输
// 后台协程持续读取串口并填充有界环形缓冲，满时丢弃最旧帧
type Conn struct {
	rw     io.ReadWriteCloser
	wmu    sync.Mutex
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []canbus.Frame
	size   int
	err    error
	done   chan struct{}
	logger *zap.Logger
}

// Open 打开串口设备并初始化适配器
func Open(cfg Config, logger *zap.Logger) (*Conn, error) {
	if cfg.Baud == 0 {
		cfg.Baud = 115200
	}
	port, err := serial.OpenPort(&serial.Config{
		Name: cfg.Device,
		Baud: cfg.Baud,
	})
	if err != nil {
		return nil, fmt.Errorf("slcan: open %s: %w", cfg.Device, err)
	}
	c, err := New(port, cfg, logger)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return c, nil
}

// New 在已打开的字节流上初始化适配器：关闭通道、设置速率、打开通道
func New(rw io.ReadWriteCloser, cfg Config, logger *zap.Logger) (*Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Bitrate == 0 {
		cfg.Bitrate = 500000
	}
	if cfg.RingSize <= 0 {
		cfg.RingSize = DefaultRingSize
	}
	rate, err := BitrateCommand(cfg.Bitrate)
	if err != nil {
		return nil, err
	}
	c := &Conn{
		rw:     rw,
		size:   cfg.RingSize,
		done:   make(chan struct{}),
		logger: logger,
	}
	c.cond = sync.NewCond(&c.mu)

	go c.readLoop()

	for _, cmd := range []string{"C", rate, "O"} {
		if err := c.command(cmd); err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	logger.Info("slcan opened", zap.String("device", cfg.Device), zap.Int("bitrate", cfg.Bitrate))
	return c, nil
}

func (c *Conn) command(cmd string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := io.WriteString(c.rw, cmd+"\r"); err != nil {
		return fmt.Errorf("slcan: command %s: %w", cmd, err)
	}
	return nil
}

func (c *Conn) readLoop() {
	defer close(c.done)
	r := bufio.NewReader(c.rw)
	for {
		line, err := r.ReadBytes('\r')
		if len(line) > 0 {
			c.handleLine(line)
		}
		if err != nil {
			c.mu.Lock()
			if c.err == nil {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
					c.err = canbus.ErrClosed
				} else {
					c.logger.Warn("slcan read failed", zap.Error(err))
					c.err = fmt.Errorf("slcan: read: %w", err)
				}
			}
			c.cond.Broadcast()
			c.mu.Unlock()
			return
		}
	}
}

func (c *Conn) handleLine(line []byte) {
	// 适配器应答可能带 BEL(0x07) 错误标记或 z/Z 发送确认
	for len(line) > 0 && (line[0] == '\a' || line[0] == '\r' || line[0] == '\n') {
		if line[0] == '\a' {
			c.logger.Warn("slcan adapter rejected command")
		}
		line = line[1:]
	}
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	f, ok, err := Decode(line)
	if err != nil {
		c.logger.Warn("slcan bad line", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	c.mu.Lock()
	if len(c.ring) >= c.size {
		c.logger.Warn("slcan ring full, dropping oldest frame", zap.Stringer("frame", c.ring[0]))
		c.ring = c.ring[1:]
	}
	c.ring = append(c.ring, f)
	c.cond.Signal()
	c.mu.Unlock()
}

// ReadFrame 阻塞直到环形缓冲有帧
func (c *Conn) ReadFrame() (canbus.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.ring) == 0 && c.err == nil {
		c.cond.Wait()
	}
	if len(c.ring) == 0 {
		return canbus.NoFrame, c.err
	}
	f := c.ring[0]
	c.ring = c.ring[1:]
	return f, nil
}

// WriteFrame 编码并写出
func (c *Conn) WriteFrame(f canbus.Frame) error {
	line, err := Encode(f)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.rw.Write(line); err != nil {
		return fmt.Errorf("slcan: write: %w", err)
	}
	return nil
}

// Available 环形缓冲非空
func (c *Conn) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ring) > 0
}

// Flush 清空环形缓冲
func (c *Conn) Flush() error {
	c.mu.Lock()
	c.ring = nil
	c.mu.Unlock()
	return nil
}

// Close 关闭通道与串口，等待读协程退出
func (c *Conn) Close() error {
	_ = c.command("C")
	err := c.rw.Close()
	select {
	case <-c.done:
	case <-time.After(time.Second):
		c.logger.Warn("slcan reader did not exit")
	}
	return err
}
