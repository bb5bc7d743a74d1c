//go:build !linux

package socketcan

import (
	"errors"

	"go.uber.org/zap"

	"github.com/taoyao-code/rovercan/internal/canbus"
)

// ErrUnsupported 非 Linux 平台没有 SocketCAN
var ErrUnsupported = errors.New("socketcan: only supported on linux")

// Conn 占位类型
type Conn struct{}

// Open 始终返回 ErrUnsupported
func Open(Config, *zap.Logger) (*Conn, error) { return nil, ErrUnsupported }

func (*Conn) ReadFrame() (canbus.Frame, error) { return canbus.NoFrame, ErrUnsupported }
func (*Conn) WriteFrame(canbus.Frame) error    { return ErrUnsupported }
func (*Conn) Available() bool                  { return false }
func (*Conn) Flush() error                     { return nil }
func (*Conn) Close() error                     { return nil }
