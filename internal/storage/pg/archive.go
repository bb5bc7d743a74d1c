package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taoyao-code/rovercan/internal/protocol"
)

// Archive 数据点归档（追加写 datapoints 表）
type Archive struct {
	Pool *pgxpool.Pool
}

// Store 写入单条采样
func (a *Archive) Store(ctx context.Context, s protocol.Sample) error {
	const q = `INSERT INTO datapoints (source, stream, channel, value, received_at)
               VALUES ($1,$2,$3,$4,$5)`
	_, err := a.Pool.Exec(ctx, q, int16(s.Source), int16(s.Stream), int16(s.Channel), s.Value, s.At)
	return err
}

// StoreBatch 使用 COPY 批量写入
func (a *Archive) StoreBatch(ctx context.Context, samples []protocol.Sample) (int64, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	n, err := a.Pool.CopyFrom(ctx,
		pgx.Identifier{"datapoints"},
		[]string{"source", "stream", "channel", "value", "received_at"},
		pgx.CopyFromSlice(len(samples), func(i int) ([]any, error) {
			s := samples[i]
			return []any{int16(s.Source), int16(s.Stream), int16(s.Channel), s.Value, s.At}, nil
		}),
	)
	if err != nil {
		return n, fmt.Errorf("copy datapoints: %w", err)
	}
	return n, nil
}

// Recent 查询某节点某数据点最近 limit 条，时间倒序
func (a *Archive) Recent(ctx context.Context, source, stream, channel uint8, limit int) ([]protocol.Sample, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT value, received_at FROM datapoints
               WHERE source=$1 AND stream=$2 AND channel=$3
               ORDER BY received_at DESC, id DESC
               LIMIT $4`
	rows, err := a.Pool.Query(ctx, q, int16(source), int16(stream), int16(channel), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []protocol.Sample
	for rows.Next() {
		var v float32
		var at time.Time
		if err := rows.Scan(&v, &at); err != nil {
			return nil, err
		}
		out = append(out, protocol.Sample{
			Datapoint: protocol.Datapoint{Source: source, Stream: stream, Channel: channel, Value: v},
			At:        at,
		})
	}
	return out, rows.Err()
}

// Prune 删除早于 before 的记录
func (a *Archive) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := a.Pool.Exec(ctx, `DELETE FROM datapoints WHERE received_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// NodeEvents 节点上下线事件
type NodeEvents struct {
	Pool *pgxpool.Pool
}

// Record 写入一次在线状态变化
func (e *NodeEvents) Record(ctx context.Context, node uint8, online bool, at time.Time) error {
	const q = `INSERT INTO node_events (node, online, created_at) VALUES ($1,$2,$3)`
	_, err := e.Pool.Exec(ctx, q, int16(node), online, at)
	return err
}
