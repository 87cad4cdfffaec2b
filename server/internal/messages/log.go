package messages

import "sync"

// DefaultCapacity 是通知日志的默认容量。
const DefaultCapacity = 100

// Log 是进程内共享的通知日志，供展示层观察。
//
// 契约：
// - 只追加：条目按追加顺序排列，只能通过 Clear 整体清空。
// - 有界：底层为固定容量的环形缓冲区，写满后淘汰最旧的条目。
// - 并发安全：Add 是单值原子插入，条目之间没有跨条目的不变量。
type Log struct {
	mu    sync.Mutex
	buf   []string
	start int
	size  int
}

// NewLog 创建容量为 capacity 的通知日志；capacity <= 0 时使用 DefaultCapacity。
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{buf: make([]string, capacity)}
}

// Add 追加一条通知。
func (l *Log) Add(message string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.size < len(l.buf) {
		l.buf[(l.start+l.size)%len(l.buf)] = message
		l.size++
		return
	}
	// 已满：覆盖最旧的条目。
	l.buf[l.start] = message
	l.start = (l.start + 1) % len(l.buf)
}

// Messages 按从旧到新的顺序返回当前全部条目的副本。
func (l *Log) Messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]string, l.size)
	for i := 0; i < l.size; i++ {
		out[i] = l.buf[(l.start+i)%len(l.buf)]
	}
	return out
}

// Len 返回当前条目数。
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Cap 返回日志容量。
func (l *Log) Cap() int {
	return len(l.buf)
}

// Clear 清空全部条目。
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.buf {
		l.buf[i] = ""
	}
	l.start = 0
	l.size = 0
}
