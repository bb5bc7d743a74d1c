package virtual

import (
	"sync"

	"github.com/taoyao-code/rovercan/internal/canbus"
)

// Bus 进程内虚拟 CAN 总线（等价 vcan）：任一端点写入的帧投递给其他所有端点
type Bus struct {
	mu        sync.Mutex
	endpoints []*Endpoint
}

// New 创建虚拟总线
func New() *Bus { return &Bus{} }

// Attach 接入新端点
func (b *Bus) Attach() *Endpoint {
	ep := &Endpoint{bus: b}
	ep.cond = sync.NewCond(&ep.mu)
	b.mu.Lock()
	b.endpoints = append(b.endpoints, ep)
	b.mu.Unlock()
	return ep
}

func (b *Bus) deliver(from *Endpoint, f canbus.Frame) {
	b.mu.Lock()
	targets := make([]*Endpoint, 0, len(b.endpoints))
	for _, ep := range b.endpoints {
		if ep != from {
			targets = append(targets, ep)
		}
	}
	b.mu.Unlock()
	for _, ep := range targets {
		ep.enqueue(f)
	}
}

func (b *Bus) detach(ep *Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, e := range b.endpoints {
		if e == ep {
			b.endpoints = append(b.endpoints[:i], b.endpoints[i+1:]...)
			return
		}
	}
}

// Endpoint 总线端点，实现 canbus.Transport 与 canbus.Flusher
type Endpoint struct {
	bus    *Bus
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []canbus.Frame
	closed bool
}

func (ep *Endpoint) enqueue(f canbus.Frame) {
	ep.mu.Lock()
	if !ep.closed {
		ep.queue = append(ep.queue, f)
		ep.cond.Signal()
	}
	ep.mu.Unlock()
}

// ReadFrame 阻塞读取
func (ep *Endpoint) ReadFrame() (canbus.Frame, error) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	for len(ep.queue) == 0 && !ep.closed {
		ep.cond.Wait()
	}
	if ep.closed {
		return canbus.NoFrame, canbus.ErrClosed
	}
	f := ep.queue[0]
	ep.queue = ep.queue[1:]
	return f, nil
}

// WriteFrame 广播给其他端点
func (ep *Endpoint) WriteFrame(f canbus.Frame) error {
	ep.mu.Lock()
	closed := ep.closed
	ep.mu.Unlock()
	if closed {
		return canbus.ErrClosed
	}
	if f.Len > canbus.MaxDataLen {
		return canbus.ErrInvalidLength
	}
	ep.bus.deliver(ep, f)
	return nil
}

// Available 是否有帧可读
func (ep *Endpoint) Available() bool {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return len(ep.queue) > 0
}

// Flush 丢弃积压帧
func (ep *Endpoint) Flush() error {
	ep.mu.Lock()
	ep.queue = nil
	ep.mu.Unlock()
	return nil
}

// Close 断开端点，唤醒阻塞读取
func (ep *Endpoint) Close() error {
	ep.mu.Lock()
	if ep.closed {
		ep.mu.Unlock()
		return nil
	}
	ep.closed = true
	ep.queue = nil
	ep.cond.Broadcast()
	ep.mu.Unlock()
	ep.bus.detach(ep)
	return nil
}
