package health

import "sync"

// Readiness 启动阶段的就绪标记（总线打开、存储连通等）
type Readiness struct {
	mu    sync.RWMutex
	parts map[string]bool
}

func New() *Readiness { return &Readiness{parts: make(map[string]bool)} }

// Expect 登记需要就绪的子系统，初始为未就绪
func (r *Readiness) Expect(name string) {
	r.mu.Lock()
	if _, ok := r.parts[name]; !ok {
		r.parts[name] = false
	}
	r.mu.Unlock()
}

// Set 更新子系统就绪状态
func (r *Readiness) Set(name string, v bool) {
	r.mu.Lock()
	r.parts[name] = v
	r.mu.Unlock()
}

// Ready 总体就绪：登记的子系统均为 true
func (r *Readiness) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.parts {
		if !v {
			return false
		}
	}
	return true
}

// Pending 尚未就绪的子系统
func (r *Readiness) Pending() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for name, v := range r.parts {
		if !v {
			out = append(out, name)
		}
	}
	return out
}
