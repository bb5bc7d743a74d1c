package slcan

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/taoyao-code/rovercan/internal/canbus"
	"github.com/taoyao-code/rovercan/internal/protocol/address"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		id   uint32
		data []byte
		want string
	}{
		{name: "empty", id: 0x145, data: nil, want: "t1450\r"},
		{name: "two bytes", id: 0x145, data: []byte{0xAA, 0xBB}, want: "t1452AABB\r"},
		{name: "extended", id: 0xFC5, data: []byte{0x70}, want: "T00000FC5170\r"},
		{name: "full", id: 0x005, data: []byte{0x20, 0x20, 0, 0, 0xC0, 0x3F, 0, 0}, want: "t005820200000C03F0000\r"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := canbus.NewFrame(tt.id, tt.data)
			require.NoError(t, err)
			got, err := Encode(f)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantOK  bool
		wantErr bool
		wantID  uint32
		want    []byte
	}{
		{name: "frame", line: "t1452aabb", wantOK: true, wantID: 0x145, want: []byte{0xAA, 0xBB}},
		{name: "zero length", line: "t7FF0", wantOK: true, wantID: 0x7FF, want: []byte{}},
		{name: "ack", line: "", wantOK: false},
		{name: "tx confirm", line: "z", wantOK: false},
		{name: "extended", line: "T00000FC52AABB", wantOK: true, wantID: 0xFC5, want: []byte{0xAA, 0xBB}},
		{name: "extended stray bits masked", line: "T1F000A000", wantOK: true, wantID: 0xA00, want: []byte{}},
		{name: "extended short", line: "T00000F", wantErr: true},
		{name: "short", line: "t14", wantErr: true},
		{name: "bad dlc", line: "t145Z", wantErr: true},
		{name: "truncated data", line: "t1452AA", wantErr: true},
		{name: "bad hex", line: "t1451GG", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok, err := Decode([]byte(tt.line))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadLine)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.wantID, f.ID)
				assert.Equal(t, tt.want, f.Payload())
			}
		})
	}
}

func TestEncodeDecodeAllAddresses(t *testing.T) {
	ids := []uint32{
		address.Pack(address.Broadcast, 5),
		address.Pack(40, 0),
		address.Pack(5, 0),
		address.Pack(0, 63),
		address.Pack(31, 63),
		address.Pack(32, 0),
	}
	for _, id := range ids {
		f, err := canbus.NewFrame(id, []byte{0x70, 0x10, 0, 0, 0x80, 0x3F})
		require.NoError(t, err)
		line, err := Encode(f)
		require.NoError(t, err)

		got, ok, err := Decode(line[:len(line)-1])
		require.NoError(t, err)
		require.True(t, ok, "line %q", line)
		assert.Equal(t, f, got, "line %q", line)
		dest, src := address.Unpack(got.ID)
		wantDest, wantSrc := address.Unpack(id)
		assert.Equal(t, wantDest, dest)
		assert.Equal(t, wantSrc, src)
	}
}

func TestBitrateCommand(t *testing.T) {
	cmd, err := BitrateCommand(125000)
	require.NoError(t, err)
	assert.Equal(t, "S4", cmd)

	_, err = BitrateCommand(33333)
	assert.Error(t, err)
}

// adapter 串口另一端：记录收到的行，可主动注入帧
type adapter struct {
	conn  net.Conn
	lines chan string
}

func newAdapter(t *testing.T, ringSize int) (*Conn, *adapter) {
	t.Helper()
	host, dev := net.Pipe()
	a := &adapter{conn: dev, lines: make(chan string, 64)}
	go func() {
		r := bufio.NewReader(dev)
		for {
			line, err := r.ReadString('\r')
			if err != nil {
				close(a.lines)
				return
			}
			a.lines <- line
		}
	}()

	c, err := New(host, Config{Device: "pipe", Bitrate: 125000, RingSize: ringSize}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Close()
		_ = dev.Close()
	})
	return c, a
}

func (a *adapter) next(t *testing.T) string {
	t.Helper()
	select {
	case l := <-a.lines:
		return l
	case <-time.After(time.Second):
		t.Fatal("adapter received nothing")
		return ""
	}
}

func TestInitSequence(t *testing.T) {
	_, a := newAdapter(t, 0)
	assert.Equal(t, "C\r", a.next(t))
	assert.Equal(t, "S4\r", a.next(t))
	assert.Equal(t, "O\r", a.next(t))
}

func TestReadWrite(t *testing.T) {
	c, a := newAdapter(t, 0)
	for i := 0; i < 3; i++ {
		a.next(t)
	}

	f, err := canbus.NewFrame(0x145, []byte{0x90})
	require.NoError(t, err)
	require.NoError(t, c.WriteFrame(f))
	assert.Equal(t, "t145190\r", a.next(t))

	_, err = a.conn.Write([]byte("\rt00528001\r"))
	require.NoError(t, err)
	got, err := c.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x005), got.ID)
	assert.Equal(t, []byte{0x80, 0x01}, got.Payload())
	assert.False(t, c.Available())
}

func TestRingDropsOldest(t *testing.T) {
	c, a := newAdapter(t, 2)
	for i := 0; i < 3; i++ {
		a.next(t)
	}

	_, err := a.conn.Write([]byte("t0011A\rt0011B\rt0011C\r"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.ring) == 2 && c.ring[1].Data[0] == 0x1C
	}, time.Second, time.Millisecond)

	f, err := c.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, byte(0x1B), f.Data[0])

	require.NoError(t, c.Flush())
	assert.False(t, c.Available())
}

func TestReadAfterPeerClose(t *testing.T) {
	c, a := newAdapter(t, 0)
	for i := 0; i < 3; i++ {
		a.next(t)
	}
	go func() {
		// 读出 Close 发送的 C 命令
		for range a.lines {
		}
	}()
	require.NoError(t, a.conn.Close())
	_, err := c.ReadFrame()
	assert.ErrorIs(t, err, canbus.ErrClosed)
}
