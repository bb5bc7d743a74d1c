package slcan

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/taoyao-code/rovercan/internal/canbus"
)

// ErrBadLine 无法解析的 SLCAN 行
var ErrBadLine = errors.New("slcan: malformed line")

// bitrateCodes Lawicel S<n> 速率代码
var bitrateCodes = map[int]byte{
	10000:   '0',
	20000:   '1',
	50000:   '2',
	100000:  '3',
	125000:  '4',
	250000:  '5',
	500000:  '6',
	800000:  '7',
	1000000: '8',
}

// BitrateCommand 返回设置速率的命令（不含结尾 \r）
func BitrateCommand(bitrate int) (string, error) {
	code, ok := bitrateCodes[bitrate]
	if !ok {
		return "", fmt.Errorf("slcan: unsupported bitrate %d", bitrate)
	}
	return "S" + string(code), nil
}

// Encode 帧编码：11 位以内为 t<iii><l><dd..>\r，否则为扩展帧 T<iiiiiiii><l><dd..>\r
func Encode(f canbus.Frame) ([]byte, error) {
	if f.Len > canbus.MaxDataLen {
		return nil, fmt.Errorf("%w: %d", canbus.ErrInvalidLength, f.Len)
	}
	out := make([]byte, 0, 11+2*int(f.Len))
	if f.Extended() {
		out = append(out, fmt.Sprintf("T%08X%d", f.ID&canbus.IDMask, f.Len)...)
	} else {
		out = append(out, fmt.Sprintf("t%03X%d", f.ID, f.Len)...)
	}
	for _, b := range f.Payload() {
		out = append(out, fmt.Sprintf("%02X", b)...)
	}
	return append(out, '\r'), nil
}

// Decode 解析一行（不含 \r）；ok=false 表示非数据帧行（应答、发送确认等）
// 标识符截断为 12 位有效位
func Decode(line []byte) (canbus.Frame, bool, error) {
	var idLen int
	switch {
	case len(line) == 0:
		return canbus.NoFrame, false, nil
	case line[0] == 't':
		idLen = 3
	case line[0] == 'T':
		idLen = 8
	default:
		return canbus.NoFrame, false, nil
	}
	head := 1 + idLen
	if len(line) < head+1 {
		return canbus.NoFrame, false, fmt.Errorf("%w: %q", ErrBadLine, line)
	}
	id, err := strconv.ParseUint(string(line[1:head]), 16, 32)
	if err != nil {
		return canbus.NoFrame, false, fmt.Errorf("%w: id %q", ErrBadLine, line[1:head])
	}
	n := int(line[head]) - '0'
	if n < 0 || n > canbus.MaxDataLen {
		return canbus.NoFrame, false, fmt.Errorf("%w: dlc %q", ErrBadLine, line[head])
	}
	data := line[head+1:]
	if len(data) < 2*n {
		return canbus.NoFrame, false, fmt.Errorf("%w: short data %q", ErrBadLine, line)
	}
	payload := make([]byte, n)
	if _, err := hex.Decode(payload, data[:2*n]); err != nil {
		return canbus.NoFrame, false, fmt.Errorf("%w: %v", ErrBadLine, err)
	}
	f, err := canbus.NewFrame(uint32(id)&canbus.IDMask, payload)
	if err != nil {
		return canbus.NoFrame, false, err
	}
	return f, true, nil
}
