package backend

import (
	"sync"
	"time"

	"tx-tour/server/internal/model"
)

// ChangeLog 是集合变更的 append-only 日志。
// 约定：seq 单调递增，从 1 开始；订阅方可用 Since 回放断线期间的变更。
type ChangeLog struct {
	mu     sync.RWMutex
	events []model.ChangeEvent
	seq    int64
	now    func() time.Time
}

func NewChangeLog(now func() time.Time) *ChangeLog {
	if now == nil {
		now = time.Now
	}
	return &ChangeLog{now: now}
}

// Append 追加一条变更并返回带 seq 的事件。
func (l *ChangeLog) Append(typ model.ChangeType, t model.Transaction) model.ChangeEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	evt := model.ChangeEvent{
		Seq:         l.seq,
		Type:        typ,
		Transaction: t,
		At:          l.now(),
	}
	l.events = append(l.events, evt)
	return evt
}

// Since 返回 seq 大于 since 的事件副本（按 seq 顺序）。
func (l *ChangeLog) Since(since int64) []model.ChangeEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]model.ChangeEvent, 0)
	for _, evt := range l.events {
		if evt.Seq > since {
			out = append(out, evt)
		}
	}
	return out
}

// Seq 返回最近一次分配的 seq。
func (l *ChangeLog) Seq() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}
