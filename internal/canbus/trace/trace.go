package trace

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/taoyao-code/rovercan/internal/canbus"
)

// Direction 帧方向
type Direction string

const (
	RX Direction = "rx"
	TX Direction = "tx"
)

// Entry 一条记录
type Entry struct {
	Offset time.Duration `yaml:"offset"`
	Dir    Direction     `yaml:"dir"`
	ID     uint32        `yaml:"id"`
	Data   string        `yaml:"data"`
}

// Frame 还原为帧
func (e Entry) Frame() (canbus.Frame, error) {
	data, err := hex.DecodeString(e.Data)
	if err != nil {
		return canbus.NoFrame, fmt.Errorf("trace: entry data: %w", err)
	}
	return canbus.NewFrame(e.ID, data)
}

// File 轨迹文件
type File struct {
	Session string    `yaml:"session"`
	Started time.Time `yaml:"started"`
	Entries []Entry   `yaml:"entries"`
}

// Encode 写出 YAML
func (f *File) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return fmt.Errorf("trace: encode: %w", err)
	}
	return enc.Close()
}

// Decode 读取 YAML
func Decode(r io.Reader) (*File, error) {
	var f File
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("trace: decode: %w", err)
	}
	return &f, nil
}

// Load 从文件加载
func Load(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return Decode(fh)
}

// Recorder 包装任意传输，记录收发帧
type Recorder struct {
	inner canbus.Transport
	mu    sync.Mutex
	file  File
	now   func() time.Time
}

// NewRecorder 创建记录器，会话 ID 为随机 UUID
func NewRecorder(inner canbus.Transport) *Recorder {
	r := &Recorder{inner: inner, now: time.Now}
	r.file = File{Session: uuid.NewString(), Started: r.now()}
	return r
}

func (r *Recorder) record(dir Direction, f canbus.Frame) {
	r.mu.Lock()
	r.file.Entries = append(r.file.Entries, Entry{
		Offset: r.now().Sub(r.file.Started),
		Dir:    dir,
		ID:     f.ID,
		Data:   hex.EncodeToString(f.Payload()),
	})
	r.mu.Unlock()
}

// ReadFrame 读取并记录
func (r *Recorder) ReadFrame() (canbus.Frame, error) {
	f, err := r.inner.ReadFrame()
	if err != nil {
		return f, err
	}
	r.record(RX, f)
	return f, nil
}

// WriteFrame 写出并记录
func (r *Recorder) WriteFrame(f canbus.Frame) error {
	if err := r.inner.WriteFrame(f); err != nil {
		return err
	}
	r.record(TX, f)
	return nil
}

// Available 透传
func (r *Recorder) Available() bool { return r.inner.Available() }

// Flush 透传（内层支持时）
func (r *Recorder) Flush() error {
	if fl, ok := r.inner.(canbus.Flusher); ok {
		return fl.Flush()
	}
	return nil
}

// Close 关闭内层传输（内层支持时）
func (r *Recorder) Close() error {
	if c, ok := r.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Snapshot 当前记录副本
func (r *Recorder) Snapshot() *File {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := r.file
	cp.Entries = append([]Entry(nil), r.file.Entries...)
	return &cp
}

// Save 写入文件
func (r *Recorder) Save(path string) error {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := r.Snapshot().Encode(fh); err != nil {
		_ = fh.Close()
		return err
	}
	return fh.Close()
}

// Player 把轨迹中的 rx 帧按顺序回放为传输层；写入的帧被收集以供比对
type Player struct {
	mu       sync.Mutex
	rx       []canbus.Frame
	offsets  []time.Duration
	written  []canbus.Frame
	realtime bool
	start    time.Time
}

// NewPlayer 创建回放器；realtime 为真时按记录偏移控制可读时刻
func NewPlayer(f *File, realtime bool) (*Player, error) {
	p := &Player{realtime: realtime, start: time.Now()}
	for i, e := range f.Entries {
		if e.Dir != RX {
			continue
		}
		fr, err := e.Frame()
		if err != nil {
			return nil, fmt.Errorf("trace: entry %d: %w", i, err)
		}
		p.rx = append(p.rx, fr)
		p.offsets = append(p.offsets, e.Offset)
	}
	return p, nil
}

func (p *Player) due() bool {
	if len(p.rx) == 0 {
		return false
	}
	return !p.realtime || time.Since(p.start) >= p.offsets[0]
}

// ReadFrame 返回下一条 rx 帧；回放结束返回 canbus.ErrClosed
func (p *Player) ReadFrame() (canbus.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.rx) == 0 {
		return canbus.NoFrame, canbus.ErrClosed
	}
	if p.realtime {
		if wait := p.offsets[0] - time.Since(p.start); wait > 0 {
			time.Sleep(wait)
		}
	}
	f := p.rx[0]
	p.rx, p.offsets = p.rx[1:], p.offsets[1:]
	return f, nil
}

// WriteFrame 收集写入帧
func (p *Player) WriteFrame(f canbus.Frame) error {
	p.mu.Lock()
	p.written = append(p.written, f)
	p.mu.Unlock()
	return nil
}

// Available 是否有到期的 rx 帧
func (p *Player) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.due()
}

// Written 已写入帧副本
func (p *Player) Written() []canbus.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]canbus.Frame(nil), p.written...)
}

// Remaining 未回放的 rx 帧数
func (p *Player) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rx)
}
