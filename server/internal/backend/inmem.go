package backend

import (
	"context"
	"sync"

	"tx-tour/server/internal/model"
)

// InMemoryStore 是一个基于内存的集合存储实现。
type InMemoryStore struct {
	mu      sync.RWMutex
	items   []model.Transaction
	firstID int
}

// NewInMemoryStore 创建内存存储；firstID 是空集合时分配的第一个 id。
func NewInMemoryStore(firstID int, seed []model.Transaction) *InMemoryStore {
	// 注意：重启即丢数据；需要落盘时用 SQLStore 包一层。
	if firstID <= 0 {
		firstID = 1
	}
	s := &InMemoryStore{firstID: firstID}
	s.items = append(s.items, seed...)
	return s
}

// List 返回全部记录（按插入顺序）。
// 兼容性：返回切片副本，避免调用方修改内部数据。
func (s *InMemoryStore) List(_ context.Context) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Transaction, len(s.items))
	copy(out, s.items)
	return out, nil
}

// Get 根据 id 获取记录。
func (s *InMemoryStore) Get(_ context.Context, id int) (model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexOf(id)
	if i < 0 {
		return model.Transaction{}, ErrNotFound
	}
	return s.items[i], nil
}

// Create 追加记录；id 规则：max(id)+1，空集合时为 firstID。
func (s *InMemoryStore) Create(_ context.Context, t model.Transaction) (model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID != 0 {
		if s.indexOf(t.ID) >= 0 {
			return model.Transaction{}, ErrConflict
		}
	} else {
		t.ID = s.genID()
	}
	s.items = append(s.items, t)
	return t, nil
}

// Update 覆盖已有记录。
func (s *InMemoryStore) Update(_ context.Context, t model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(t.ID)
	if i < 0 {
		return ErrNotFound
	}
	s.items[i] = t
	return nil
}

// Delete 删除记录，保持其余记录的顺序。
func (s *InMemoryStore) Delete(_ context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return ErrNotFound
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	return nil
}

// Replace 整体替换集合，用于从快照恢复。
func (s *InMemoryStore) Replace(items []model.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make([]model.Transaction, len(items))
	copy(s.items, items)
}

func (s *InMemoryStore) indexOf(id int) int {
	for i, t := range s.items {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (s *InMemoryStore) genID() int {
	if len(s.items) == 0 {
		return s.firstID
	}
	maxID := 0
	for _, t := range s.items {
		if t.ID > maxID {
			maxID = t.ID
		}
	}
	return maxID + 1
}

var _ Store = (*InMemoryStore)(nil)
