package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	cfgpkg "github.com/taoyao-code/rovercan/internal/config"
)

const (
	defaultMaxConns    = 10
	defaultMinConns    = 1
	defaultMaxLifetime = time.Hour
	pingTimeout        = 3 * time.Second
)

// PoolConfig 将配置翻译为 pgxpool 参数；归档批量写入只需少量连接
func PoolConfig(dbCfg cfgpkg.DatabaseConfig, logger *zap.Logger) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(dbCfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.ConnConfig.RuntimeParams["application_name"] = "rovercan"

	cfg.MaxConns = defaultMaxConns
	if dbCfg.MaxOpenConns > 0 {
		cfg.MaxConns = int32(dbCfg.MaxOpenConns)
	}
	cfg.MinConns = defaultMinConns
	if dbCfg.MaxIdleConns > 0 {
		cfg.MinConns = int32(dbCfg.MaxIdleConns)
	}
	if cfg.MinConns > cfg.MaxConns {
		cfg.MinConns = cfg.MaxConns
	}
	cfg.MaxConnLifetime = defaultMaxLifetime
	if dbCfg.ConnMaxLifetime > 0 {
		cfg.MaxConnLifetime = dbCfg.ConnMaxLifetime
	}
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	if logger != nil {
		cfg.ConnConfig.Tracer = &tracelog.TraceLog{
			Logger:   zapTraceLogger{logger: logger},
			LogLevel: traceLevel(logger),
		}
	}
	return cfg, nil
}

// traceLevel debug 日志开启时记录每条 SQL，否则只记录告警
func traceLevel(logger *zap.Logger) tracelog.LogLevel {
	if logger.Core().Enabled(zapcore.DebugLevel) {
		return tracelog.LogLevelDebug
	}
	return tracelog.LogLevelWarn
}

// NewPool 创建连接池并探活
func NewPool(ctx context.Context, dbCfg cfgpkg.DatabaseConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	cfg, err := PoolConfig(dbCfg, logger)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// zapTraceLogger 把 pgx 追踪输出接到 zap
type zapTraceLogger struct {
	logger *zap.Logger
}

func (l zapTraceLogger) Log(_ context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
	fields := make([]zap.Field, 0, len(data))
	for k, v := range data {
		fields = append(fields, zap.Any(k, v))
	}
	var lvl zapcore.Level
	switch level {
	case tracelog.LogLevelTrace, tracelog.LogLevelDebug:
		lvl = zapcore.DebugLevel
	case tracelog.LogLevelWarn:
		lvl = zapcore.WarnLevel
	case tracelog.LogLevelError:
		lvl = zapcore.ErrorLevel
	default:
		lvl = zapcore.InfoLevel
	}
	if ce := l.logger.Check(lvl, "pgx: "+msg); ce != nil {
		ce.Write(fields...)
	}
}
