package telemetry

import (
	"context"
	"sync"

	"github.com/taoyao-code/rovercan/internal/protocol"
)

// BatchWriter 批量写入（pg.Archive.StoreBatch 满足）
type BatchWriter func(ctx context.Context, samples []protocol.Sample) (int64, error)

// Batcher 缓冲采样，攒满 size 条后批量写入
type Batcher struct {
	mu    sync.Mutex
	buf   []protocol.Sample
	size  int
	write BatchWriter
}

// NewBatcher 创建批量落地
func NewBatcher(size int, write BatchWriter) *Batcher {
	if size <= 0 {
		size = 64
	}
	return &Batcher{size: size, write: write, buf: make([]protocol.Sample, 0, size)}
}

// Store 实现 Sink
func (b *Batcher) Store(ctx context.Context, s protocol.Sample) error {
	b.mu.Lock()
	b.buf = append(b.buf, s)
	if len(b.buf) < b.size {
		b.mu.Unlock()
		return nil
	}
	batch := b.take()
	b.mu.Unlock()
	_, err := b.write(ctx, batch)
	return err
}

// Flush 写出剩余缓冲
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	batch := b.take()
	b.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	_, err := b.write(ctx, batch)
	return err
}

// Pending 缓冲中的条数
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

func (b *Batcher) take() []protocol.Sample {
	batch := b.buf
	b.buf = make([]protocol.Sample, 0, b.size)
	return batch
}
