package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	cfgpkg "github.com/taoyao-code/rovercan/internal/config"
)

func TestInitLoggerLevels(t *testing.T) {
	tests := []struct {
		level string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := InitLogger(cfgpkg.LoggingConfig{Level: tt.level, Format: "console"})
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.want))
			if tt.want > zapcore.DebugLevel {
				assert.False(t, logger.Core().Enabled(tt.want-1))
			}
		})
	}
}

func TestInitLoggerUnknownLevel(t *testing.T) {
	_, err := InitLogger(cfgpkg.LoggingConfig{Level: "verbose"})
	assert.Error(t, err)
}

func TestInitLoggerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.log")
	logger, err := InitLogger(cfgpkg.LoggingConfig{
		Level: "info",
		File:  cfgpkg.LumberjackConfig{Filename: path, MaxSizeMB: 1},
	})
	require.NoError(t, err)
	logger.Info("frame written")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "frame written")
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel(" Warning ")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestForNode(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ForNode(zap.New(core), "slave", 11).Info("listening")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "slave", entry.LoggerName)
	assert.EqualValues(t, 11, entry.ContextMap()["node"])
}
