package canbus

// Transport 帧传输接口（SocketCAN / SLCAN / 虚拟总线）
// 只提供按到达顺序读取与写入；“无帧可读”通过 Available 表达，不与 ID=0 的帧混淆。
type Transport interface {
	// ReadFrame 阻塞读取下一帧
	ReadFrame() (Frame, error)
	// WriteFrame 写入一帧
	WriteFrame(f Frame) error
	// Available 非阻塞：是否有帧可立即读取
	Available() bool
}

// Flusher 可选：丢弃传输层积压帧
type Flusher interface {
	Flush() error
}
