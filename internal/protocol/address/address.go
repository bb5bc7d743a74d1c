package address

import (
	"errors"
	"fmt"
)

const (
	// Bits 单个节点地址位宽
	Bits = 6
	// Mask 节点地址掩码
	Mask = 0x3F
	// Broadcast 广播/通配目的地址
	Broadcast = 0x3F
	// NibbleMask 半字节掩码
	NibbleMask = 0x0F
)

var (
	// ErrInvalidAddress 地址超出 [0,63]
	ErrInvalidAddress = errors.New("address: node address out of range")
	// ErrInvalidNibble 半字节超出 [0,15]
	ErrInvalidNibble = errors.New("address: nibble out of range")
)

// Pack 生成 CAN 标识符：高 6 位目的地址，低 6 位源地址；越界输入按掩码截断，不报错
func Pack(dest, source uint8) uint32 {
	return uint32(dest&Mask)<<Bits | uint32(source&Mask)
}

// Unpack Pack 的逆运算
func Unpack(id uint32) (dest, source uint8) {
	return uint8((id >> Bits) & Mask), uint8(id & Mask)
}

// Reply 交换源/目的，得到应答标识符
func Reply(id uint32) uint32 {
	dest, source := Unpack(id)
	return Pack(source, dest)
}

// PackNibbles 高低半字节打包
func PackNibbles(high, low uint8) uint8 {
	return (high&NibbleMask)<<4 | low&NibbleMask
}

// UnpackNibbles PackNibbles 的逆运算
func UnpackNibbles(b uint8) (high, low uint8) {
	return (b >> 4) & NibbleMask, b & NibbleMask
}

// 以下为严格校验版本：供希望尽早拒绝非法输入的调用方使用，线上编码与宽松版本一致

// ValidateNode 校验节点地址
func ValidateNode(addr int) error {
	if addr < 0 || addr > Mask {
		return fmt.Errorf("%w: %d", ErrInvalidAddress, addr)
	}
	return nil
}

// ValidateNibble 校验半字节
func ValidateNibble(v int) error {
	if v < 0 || v > NibbleMask {
		return fmt.Errorf("%w: %d", ErrInvalidNibble, v)
	}
	return nil
}

// PackStrict 校验后打包标识符
func PackStrict(dest, source int) (uint32, error) {
	if err := ValidateNode(dest); err != nil {
		return 0, fmt.Errorf("dest: %w", err)
	}
	if err := ValidateNode(source); err != nil {
		return 0, fmt.Errorf("source: %w", err)
	}
	return Pack(uint8(dest), uint8(source)), nil
}

// PackNibblesStrict 校验后打包半字节
func PackNibblesStrict(high, low int) (uint8, error) {
	if err := ValidateNibble(high); err != nil {
		return 0, fmt.Errorf("high: %w", err)
	}
	if err := ValidateNibble(low); err != nil {
		return 0, fmt.Errorf("low: %w", err)
	}
	return PackNibbles(uint8(high), uint8(low)), nil
}
