package canbus

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// MaxDataLen 经典 CAN 数据区长度
	MaxDataLen = 8
	// IDMask 协议有效标识符位（6 位目的 + 6 位源）
	IDMask = 0xFFF
	// MaxStdID 11 位标准帧最大标识符，更大的协议标识符按扩展帧收发
	MaxStdID = 0x7FF
	// EFFFlag SocketCAN can_id 扩展帧标志位
	EFFFlag = 0x80000000
	// MaskAll 全匹配掩码
	MaskAll = 0xFFFFFFFF
	// RecordSize Linux struct can_frame 记录长度
	RecordSize = 16
)

var (
	// ErrClosed 传输层已关闭
	ErrClosed = errors.New("canbus: transport closed")
	// ErrInvalidLength 数据长度超过 8
	ErrInvalidLength = errors.New("canbus: invalid data length")
)

// Frame 传输层最小单元：标识符 + 长度 + 最多 8 字节数据
type Frame struct {
	ID   uint32
	Len  uint8
	Data [MaxDataLen]byte
}

// NoFrame 哨兵值：ID=0 且 Len=0 表示“无帧/超时”，合法协议帧不会产生该值
var NoFrame = Frame{}

// NewFrame 构造帧，data 超过 8 字节返回错误
func NewFrame(id uint32, data []byte) (Frame, error) {
	if len(data) > MaxDataLen {
		return Frame{}, fmt.Errorf("%w: %d", ErrInvalidLength, len(data))
	}
	f := Frame{ID: id, Len: uint8(len(data))}
	copy(f.Data[:], data)
	return f, nil
}

// Extended 标识符超出 11 位时须以 29 位扩展帧发送
func (f Frame) Extended() bool { return f.ID > MaxStdID }

// IsNone 是否为“无帧”哨兵
func (f Frame) IsNone() bool { return f.ID == 0 && f.Len == 0 }

// Payload 返回有效数据
func (f Frame) Payload() []byte {
	n := int(f.Len)
	if n > MaxDataLen {
		n = MaxDataLen
	}
	return f.Data[:n]
}

// Matches 掩码匹配：(id & mask) == (ref & mask)
func (f Frame) Matches(id, mask uint32) bool {
	return f.ID&mask == id&mask
}

// String 调试输出
func (f Frame) String() string {
	return fmt.Sprintf("%03X#%X", f.ID, f.Payload())
}

// MarshalRecord 编码为 Linux SocketCAN can_frame 记录（16 字节，小端）
// 0..3 can_id, 4 can_dlc, 5..7 填充, 8..15 数据；超出 11 位的标识符置 EFF 标志
func (f Frame) MarshalRecord() ([]byte, error) {
	if f.Len > MaxDataLen {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLength, f.Len)
	}
	buf := make([]byte, RecordSize)
	id := f.ID & IDMask
	if f.Extended() {
		id |= EFFFlag
	}
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = f.Len
	copy(buf[8:16], f.Data[:])
	return buf, nil
}

// UnmarshalRecord 解码 can_frame 记录，标识符截断为 12 位有效位
func UnmarshalRecord(rec []byte) (Frame, error) {
	if len(rec) < RecordSize {
		return Frame{}, fmt.Errorf("canbus: short frame record: %d bytes", len(rec))
	}
	f := Frame{
		ID:  binary.LittleEndian.Uint32(rec[0:4]) & IDMask,
		Len: rec[4],
	}
	if f.Len > MaxDataLen {
		return Frame{}, fmt.Errorf("%w: %d", ErrInvalidLength, f.Len)
	}
	copy(f.Data[:], rec[8:8+int(f.Len)])
	return f, nil
}
