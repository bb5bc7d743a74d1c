package command

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Size 命令缓冲区固定长度（一帧 CAN 数据区）
const Size = 8

// ErrOutOfRange 追加字段超出 8 字节缓冲区
var ErrOutOfRange = errors.New("command: buffer out of range")

// Buffer 定长命令缓冲区 + 游标
// 编码：按顺序 AddXxx；解码：按相同类型与顺序 NextXxx。
// 多字节字段统一使用小端序（与原有全部主机的本地字节序一致）。
// 读取越过已写长度不会报错，只会得到零值：线上格式没有长度头，调用方需自行保证类型序列一致。
type Buffer struct {
	buf    [Size]byte
	cursor int
}

// New 创建已清零的缓冲区
func New() *Buffer { return &Buffer{} }

// FromBytes 以收到的帧数据构造缓冲区，不足 8 字节的部分补零，超出部分截断
func FromBytes(data []byte) *Buffer {
	b := &Buffer{}
	copy(b.buf[:], data)
	return b
}

// Clear 游标归零并清空缓冲区
func (b *Buffer) Clear() {
	b.buf = [Size]byte{}
	b.cursor = 0
}

// Bytes 返回整个定长缓冲区
func (b *Buffer) Bytes() []byte { return b.buf[:] }

// Len 固定容量，恒为 8
func (b *Buffer) Len() int { return Size }

// Cursor 当前游标位置
func (b *Buffer) Cursor() int { return b.cursor }

func (b *Buffer) reserve(n int) (int, error) {
	if b.cursor+n > Size {
		return 0, fmt.Errorf("%w: need %d bytes at offset %d", ErrOutOfRange, n, b.cursor)
	}
	at := b.cursor
	b.cursor += n
	return at, nil
}

// AddU8 追加 uint8
func (b *Buffer) AddU8(v uint8) error {
	at, err := b.reserve(1)
	if err != nil {
		return err
	}
	b.buf[at] = v
	return nil
}

// AddU16 追加 uint16（小端）
func (b *Buffer) AddU16(v uint16) error {
	at, err := b.reserve(2)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(b.buf[at:], v)
	return nil
}

// AddBool 追加 bool（1 字节，0/1）
func (b *Buffer) AddBool(v bool) error {
	var u uint8
	if v {
		u = 1
	}
	return b.AddU8(u)
}

// AddFloat 追加 float32（IEEE754，小端）
func (b *Buffer) AddFloat(v float32) error {
	at, err := b.reserve(4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b.buf[at:], math.Float32bits(v))
	return nil
}

// next 推进游标；越界读取返回全零切片
func (b *Buffer) next(n int) []byte {
	at := b.cursor
	b.cursor += n
	if at+n > Size {
		return make([]byte, n)
	}
	return b.buf[at : at+n]
}

// NextU8 读取 uint8
func (b *Buffer) NextU8() uint8 { return b.next(1)[0] }

// NextU16 读取 uint16（小端）
func (b *Buffer) NextU16() uint16 { return binary.LittleEndian.Uint16(b.next(2)) }

// NextBool 读取 bool，非零即真
func (b *Buffer) NextBool() bool { return b.next(1)[0] != 0 }

// NextFloat 读取 float32（小端）
func (b *Buffer) NextFloat() float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b.next(4)))
}
