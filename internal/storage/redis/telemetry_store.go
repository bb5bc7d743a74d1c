package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taoyao-code/rovercan/internal/protocol"
)

// TelemetryStore 每个节点一个 Hash，字段为 "<stream>/<channel>"，值为最新采样 JSON
// 另有一个 Set 记录出现过的节点地址
type TelemetryStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewTelemetryStore 创建存储；ttl>0 时节点 Hash 在无新数据后过期
func NewTelemetryStore(client redis.UniversalClient, prefix string, ttl time.Duration) *TelemetryStore {
	if prefix == "" {
		prefix = "rovercan:telemetry"
	}
	return &TelemetryStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *TelemetryStore) nodeKey(source uint8) string {
	return fmt.Sprintf("%s:node:%d", s.prefix, source)
}

func (s *TelemetryStore) nodesKey() string {
	return s.prefix + ":nodes"
}

// Store 写入最新值
func (s *TelemetryStore) Store(ctx context.Context, sample protocol.Sample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}
	key := s.nodeKey(sample.Source)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, sample.Key(), data)
	pipe.SAdd(ctx, s.nodesKey(), sample.Source)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store sample: %w", err)
	}
	return nil
}

// Latest 读取某节点的全部最新值，按 stream/channel 排序
func (s *TelemetryStore) Latest(ctx context.Context, source uint8) ([]protocol.Sample, error) {
	fields, err := s.client.HGetAll(ctx, s.nodeKey(source)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]protocol.Sample, 0, len(fields))
	for field, raw := range fields {
		var sample protocol.Sample
		if err := json.Unmarshal([]byte(raw), &sample); err != nil {
			return nil, fmt.Errorf("decode %s: %w", field, err)
		}
		out = append(out, sample)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stream != out[j].Stream {
			return out[i].Stream < out[j].Stream
		}
		return out[i].Channel < out[j].Channel
	})
	return out, nil
}

// Nodes 出现过的节点地址
func (s *TelemetryStore) Nodes(ctx context.Context) ([]uint8, error) {
	members, err := s.client.SMembers(ctx, s.nodesKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]uint8, 0, len(members))
	for _, m := range members {
		n, err := strconv.ParseUint(m, 10, 8)
		if err != nil {
			continue
		}
		out = append(out, uint8(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Clear 删除全部遥测键
func (s *TelemetryStore) Clear(ctx context.Context) error {
	nodes, err := s.Nodes(ctx)
	if err != nil {
		return err
	}
	keys := []string{s.nodesKey()}
	for _, n := range nodes {
		keys = append(keys, s.nodeKey(n))
	}
	return s.client.Del(ctx, keys...).Err()
}
