package fleet

import (
	"sort"
	"sync"
	"time"
)

// NodeStatus 节点在线快照
type NodeStatus struct {
	Address   uint8     `json:"address"`
	Online    bool      `json:"online"`
	LastSeen  time.Time `json:"last_seen,omitempty"`
	LastCheck time.Time `json:"last_check,omitempty"`
	Misses    int       `json:"misses"`
}

type nodeState struct {
	lastSeen  time.Time
	lastCheck time.Time
	misses    int
}

// Registry 记录每个节点最近一次应答时间，超过 offlineAfter 视为离线
type Registry struct {
	mu           sync.RWMutex
	nodes        map[uint8]*nodeState
	offlineAfter time.Duration
}

// NewRegistry 创建注册表
func NewRegistry(offlineAfter time.Duration) *Registry {
	if offlineAfter <= 0 {
		offlineAfter = 15 * time.Second
	}
	return &Registry{nodes: make(map[uint8]*nodeState), offlineAfter: offlineAfter}
}

func (r *Registry) state(addr uint8) *nodeState {
	st, ok := r.nodes[addr]
	if !ok {
		st = &nodeState{}
		r.nodes[addr] = st
	}
	return st
}

// Track 登记需要监测的节点（尚未应答）
func (r *Registry) Track(addr uint8) {
	r.mu.Lock()
	r.state(addr)
	r.mu.Unlock()
}

// OnPong 记录一次成功应答
func (r *Registry) OnPong(addr uint8, t time.Time) {
	r.mu.Lock()
	st := r.state(addr)
	st.lastSeen = t
	st.lastCheck = t
	st.misses = 0
	r.mu.Unlock()
}

// OnMiss 记录一次未应答
func (r *Registry) OnMiss(addr uint8, t time.Time) {
	r.mu.Lock()
	st := r.state(addr)
	st.lastCheck = t
	st.misses++
	r.mu.Unlock()
}

func (r *Registry) online(st *nodeState, now time.Time) bool {
	return !st.lastSeen.IsZero() && now.Sub(st.lastSeen) <= r.offlineAfter
}

// IsOnline 判断节点是否在线
func (r *Registry) IsOnline(addr uint8, now time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.nodes[addr]
	return ok && r.online(st, now)
}

// OnlineCount 当前在线节点数
func (r *Registry) OnlineCount(now time.Time) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, st := range r.nodes {
		if r.online(st, now) {
			count++
		}
	}
	return count
}

// Snapshot 按地址排序的全部节点状态
func (r *Registry) Snapshot(now time.Time) []NodeStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NodeStatus, 0, len(r.nodes))
	for addr, st := range r.nodes {
		out = append(out, NodeStatus{
			Address:   addr,
			Online:    r.online(st, now),
			LastSeen:  st.lastSeen,
			LastCheck: st.lastCheck,
			Misses:    st.misses,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}
