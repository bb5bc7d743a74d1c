package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/taoyao-code/rovercan/internal/protocol/address"
)

// CommandID 命令码（byte0 高半字节）
type CommandID uint8

const (
	CmdEStop              CommandID = 0x0
	CmdCalibrate          CommandID = 0x1
	CmdSetMotorPosition   CommandID = 0x2
	CmdSetMotorSpeed      CommandID = 0x3
	CmdToggleState        CommandID = 0x4
	CmdGetMotorPosition   CommandID = 0x5
	CmdGetMotorSpeed      CommandID = 0x6
	CmdBroadcastDatapoint CommandID = 0x7
	CmdRequestDatapoint   CommandID = 0x8
	CmdPing               CommandID = 0x9
)

var commandNames = map[CommandID]string{
	CmdEStop:              "estop",
	CmdCalibrate:          "calibrate",
	CmdSetMotorPosition:   "set_motor_position",
	CmdSetMotorSpeed:      "set_motor_speed",
	CmdToggleState:        "toggle_state",
	CmdGetMotorPosition:   "get_motor_position",
	CmdGetMotorSpeed:      "get_motor_speed",
	CmdBroadcastDatapoint: "broadcast_datapoint",
	CmdRequestDatapoint:   "request_datapoint",
	CmdPing:               "ping",
}

func (c CommandID) String() string {
	if n, ok := commandNames[c]; ok {
		return n
	}
	return fmt.Sprintf("unknown_0x%X", uint8(c))
}

// Known 是否为已定义命令
func (c CommandID) Known() bool {
	_, ok := commandNames[c]
	return ok
}

const (
	// DestMask 只比较目的地址的掩码（0b111111000000）
	DestMask uint32 = address.Mask << address.Bits
	// BroadcastID 广播目的地址的标识符模式
	BroadcastID uint32 = address.Broadcast << address.Bits

	// FlagError byte1 状态位：处理出错
	FlagError uint8 = 1 << 3
	// FlagUncalibrated byte1 状态位：未校准
	FlagUncalibrated uint8 = 1 << 2

	// StatusReplyLen 状态类应答最小有效长度（byte0 + byte1）
	StatusReplyLen = 2
	// ValueReplyLen 带浮点结果应答的最小有效长度
	ValueReplyLen = 6
)

// PongMarker Ping 应答浮点槽位中的固定 4 字节
var PongMarker = [4]byte{'P', 'O', 'N', 'G'}

var (
	// ErrNoResponse 截止时间内未收到匹配应答
	ErrNoResponse = errors.New("protocol: no response")
	// ErrMalformedFrame 应答长度短于命令固定布局
	ErrMalformedFrame = errors.New("protocol: malformed frame")
	// ErrSequenceMismatch 应答序号与请求不一致（严格模式）
	ErrSequenceMismatch = errors.New("protocol: sequence mismatch")
	// ErrUncalibrated 处理器返回该错误时，应答置未校准位
	ErrUncalibrated = errors.New("protocol: motor uncalibrated")
)

// State 状态类应答解码结果
type State struct {
	MotorID      uint8 `json:"motor_id"`
	Flags        uint8 `json:"flags"`
	Error        bool  `json:"error"`
	Uncalibrated bool  `json:"uncalibrated"`
}

// DecodeState 从 byte1 解码：高半字节为目标，低半字节为标志
func DecodeState(b1 uint8) State {
	target, flags := address.UnpackNibbles(b1)
	return State{
		MotorID:      target,
		Flags:        flags,
		Error:        flags&FlagError != 0,
		Uncalibrated: flags&FlagUncalibrated != 0,
	}
}

// Datapoint 数据点（广播或请求应答）
type Datapoint struct {
	Source  uint8   `json:"source"`
	Stream  uint8   `json:"stream"`
	Channel uint8   `json:"channel"`
	Value   float32 `json:"value"`
}

// Sample 带接收时间的数据点
type Sample struct {
	Datapoint
	At time.Time `json:"at"`
}

// Key 同一节点内标识数据点的 stream/channel 键
func (d Datapoint) Key() string {
	return fmt.Sprintf("%d/%d", d.Stream, d.Channel)
}
