package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/rovercan/internal/protocol"
)

// 注意: 这些测试需要Redis服务器运行
// 如果没有Redis，测试会被跳过
func newTestStore(t *testing.T) *TelemetryStore {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		t.Skip("Redis不可用，跳过测试")
	}
	s := NewTelemetryStore(rdb, "rovercan:test:"+t.Name(), time.Minute)
	t.Cleanup(func() {
		_ = s.Clear(context.Background())
		_ = rdb.Close()
	})
	return s
}

func TestTelemetryStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Now().UTC().Truncate(time.Millisecond)

	samples := []protocol.Sample{
		{Datapoint: protocol.Datapoint{Source: 5, Stream: 1, Channel: 0, Value: 2}, At: at},
		{Datapoint: protocol.Datapoint{Source: 5, Stream: 0, Channel: 3, Value: 1.5}, At: at},
		{Datapoint: protocol.Datapoint{Source: 5, Stream: 0, Channel: 3, Value: 9.81}, At: at.Add(time.Second)},
		{Datapoint: protocol.Datapoint{Source: 11, Stream: 2, Channel: 1, Value: 1}, At: at},
	}
	for _, sm := range samples {
		require.NoError(t, s.Store(ctx, sm))
	}

	nodes, err := s.Nodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint8{5, 11}, nodes)

	latest, err := s.Latest(ctx, 5)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, float32(9.81), latest[0].Value, "overwritten by newer sample")
	assert.True(t, latest[0].At.Equal(at.Add(time.Second)))
	assert.Equal(t, uint8(1), latest[1].Stream)
}

func TestTelemetryStoreKeys(t *testing.T) {
	s := NewTelemetryStore(nil, "", 0)
	assert.Equal(t, "rovercan:telemetry:node:5", s.nodeKey(5))
	assert.Equal(t, "rovercan:telemetry:nodes", s.nodesKey())
}
