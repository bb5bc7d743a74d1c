package telemetry

import (
	"context"
	"sort"
	"sync"

	"github.com/taoyao-code/rovercan/internal/protocol"
)

// Cache 进程内最新值缓存，供 HTTP 接口读取
type Cache struct {
	mu     sync.RWMutex
	latest map[uint8]map[string]protocol.Sample
}

// NewCache 创建缓存
func NewCache() *Cache {
	return &Cache{latest: make(map[uint8]map[string]protocol.Sample)}
}

// Store 实现 Sink
func (c *Cache) Store(_ context.Context, s protocol.Sample) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	node, ok := c.latest[s.Source]
	if !ok {
		node = make(map[string]protocol.Sample)
		c.latest[s.Source] = node
	}
	node[s.Key()] = s
	return nil
}

// Latest 某节点最新值
func (c *Cache) Latest(source uint8) []protocol.Sample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]protocol.Sample, 0, len(c.latest[source]))
	for _, s := range c.latest[source] {
		out = append(out, s)
	}
	sortSamples(out)
	return out
}

// All 全部节点最新值
func (c *Cache) All() []protocol.Sample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []protocol.Sample
	for _, node := range c.latest {
		for _, s := range node {
			out = append(out, s)
		}
	}
	sortSamples(out)
	return out
}

func sortSamples(s []protocol.Sample) {
	sort.Slice(s, func(i, j int) bool {
		a, b := s[i], s[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Stream != b.Stream {
			return a.Stream < b.Stream
		}
		return a.Channel < b.Channel
	})
}
