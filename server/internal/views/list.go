package views

import (
	"context"
	"strings"
	"sync"

	"tx-tour/server/internal/model"
	"tx-tour/server/internal/transaction"
)

// ListStore 是列表视图需要的存储能力。
type ListStore interface {
	List(ctx context.Context) ([]model.Transaction, error)
	Add(ctx context.Context, t model.Transaction) (*model.Transaction, error)
	Delete(ctx context.Context, ref transaction.Identifier) error
}

// ListView 持有列表页的本地集合。
//
// 职责与契约：
// - 本地集合是两次刷新之间的权威数据，只由 Load/Add/Delete/Apply 修改。
// - 删除是乐观的：先从本地移除再发请求，请求失败也不回滚。
// - 对外只返回副本。
type ListView struct {
	store ListStore

	mu    sync.RWMutex
	items []model.Transaction
}

func NewListView(store ListStore) *ListView {
	return &ListView{store: store, items: []model.Transaction{}}
}

// Load 用远端集合替换本地集合。存储返回错误时保持原状。
func (v *ListView) Load(ctx context.Context) error {
	items, err := v.store.List(ctx)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.items = append([]model.Transaction{}, items...)
	v.mu.Unlock()
	return nil
}

// Add 以裁剪后的名称创建记录，空名称直接忽略且不发请求。
// 创建成功时把带 id 的记录追加到本地集合。
func (v *ListView) Add(ctx context.Context, name string) (*model.Transaction, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	created, err := v.store.Add(ctx, model.Transaction{Name: name})
	if err != nil || created == nil {
		return nil, err
	}
	v.mu.Lock()
	v.upsert(*created)
	v.mu.Unlock()
	return created, nil
}

// Delete 先从本地集合移除，再请求远端删除。
func (v *ListView) Delete(ctx context.Context, t model.Transaction) error {
	v.mu.Lock()
	v.remove(t.ID)
	v.mu.Unlock()
	return v.store.Delete(ctx, t)
}

// Apply 把后端变更合并进本地集合。
func (v *ListView) Apply(evt model.ChangeEvent) {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch evt.Type {
	case model.ChangeCreated, model.ChangeUpdated:
		v.upsert(evt.Transaction)
	case model.ChangeDeleted:
		v.remove(evt.Transaction.ID)
	}
}

// Transactions 返回本地集合的副本。
func (v *ListView) Transactions() []model.Transaction {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]model.Transaction{}, v.items...)
}

// upsert 调用方须持有写锁。
func (v *ListView) upsert(t model.Transaction) {
	for i := range v.items {
		if v.items[i].ID == t.ID {
			v.items[i] = t
			return
		}
	}
	v.items = append(v.items, t)
}

func (v *ListView) remove(id int) {
	kept := v.items[:0]
	for _, item := range v.items {
		if item.ID != id {
			kept = append(kept, item)
		}
	}
	v.items = kept
}
