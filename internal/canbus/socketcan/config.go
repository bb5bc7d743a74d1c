package socketcan

// readPollMs ReadFrame 单次 poll 等待毫秒数
const readPollMs = 100

// Filter 内核接收过滤器：(id & mask) == (frameID & mask) 的帧才会送达
type Filter struct {
	ID   uint32
	Mask uint32
}

// Config 套接字参数
type Config struct {
	Interface       string
	DisableLoopback bool
	Filters         []Filter
}

// NodeFilter 只接收发往 addr 或广播地址的帧
func NodeFilter(addr uint8) []Filter {
	return []Filter{
		{ID: uint32(addr&0x3F) << 6, Mask: 0xFC0},
		{ID: 0xFC0, Mask: 0xFC0},
	}
}
