package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	cfgpkg "github.com/taoyao-code/rovercan/internal/config"
)

// ErrDisabled 配置中未启用 Redis
var ErrDisabled = errors.New("redis: disabled")

const connectTimeout = 5 * time.Second

// Client 遥测缓存使用的 Redis 连接
type Client struct {
	rdb    redis.UniversalClient
	addr   string
	logger *zap.Logger
}

// Connect 建立连接并 Ping 一次
func Connect(ctx context.Context, cfg cfgpkg.RedisConfig, logger *zap.Logger) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        []string{cfg.Addr},
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	c := &Client{rdb: rdb, addr: cfg.Addr, logger: logger}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := c.Ping(pingCtx); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	logger.Info("redis connected", zap.String("addr", cfg.Addr), zap.Int("pool_size", cfg.PoolSize))
	return c, nil
}

// Universal 底层客户端，供 TelemetryStore 使用
func (c *Client) Universal() redis.UniversalClient {
	return c.rdb
}

// Ping 探活
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping %s: %w", c.addr, err)
	}
	return nil
}

// PoolStats 连接池统计
func (c *Client) PoolStats() *redis.PoolStats {
	return c.rdb.PoolStats()
}

// Close 关闭连接
func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	c.logger.Debug("redis closing", zap.String("addr", c.addr))
	return c.rdb.Close()
}
