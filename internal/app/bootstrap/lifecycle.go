package bootstrap

import (
	"context"
	"sync"
)

// lifecycle 关闭顺序：取消并等待全部协程退出后，再逆序释放存储等资源
type lifecycle struct {
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	closers []func()
	once    sync.Once
}

func newLifecycle(parent context.Context) (context.Context, *lifecycle) {
	ctx, cancel := context.WithCancel(parent)
	return ctx, &lifecycle{cancel: cancel}
}

// Go 启动受管协程
func (l *lifecycle) Go(fn func()) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		fn()
	}()
}

// OnClose 注册资源释放，Stop 时在协程退出后逆序调用
func (l *lifecycle) OnClose(fn func()) {
	l.mu.Lock()
	l.closers = append(l.closers, fn)
	l.mu.Unlock()
}

// Stop 可重复调用，只生效一次
func (l *lifecycle) Stop() {
	l.once.Do(func() {
		l.cancel()
		l.wg.Wait()
		l.mu.Lock()
		closers := l.closers
		l.closers = nil
		l.mu.Unlock()
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	})
}
