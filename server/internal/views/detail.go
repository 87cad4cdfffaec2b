package views

import (
	"context"
	"errors"
	"strings"
	"sync"

	"tx-tour/server/internal/model"
)

// ErrNoSelection 表示详情视图当前没有记录。
var ErrNoSelection = errors.New("no transaction selected")

// DetailStore 是详情视图需要的存储能力。
type DetailStore interface {
	Get(ctx context.Context, id int) (*model.Transaction, error)
	Update(ctx context.Context, t model.Transaction) error
}

// DetailView 展示并编辑单条记录。
type DetailView struct {
	store DetailStore

	mu      sync.RWMutex
	current *model.Transaction
}

func NewDetailView(store DetailStore) *DetailView {
	return &DetailView{store: store}
}

// Load 按 id 读取记录；记录不存在时 Current 为 nil。
func (v *DetailView) Load(ctx context.Context, id int) error {
	t, err := v.store.Get(ctx, id)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.current = t
	v.mu.Unlock()
	return nil
}

// Current 返回当前记录的副本，没有记录时为 nil。
func (v *DetailView) Current() *model.Transaction {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.current == nil {
		return nil
	}
	t := *v.current
	return &t
}

// Rename 只修改本地记录，Save 后才写回。
func (v *DetailView) Rename(name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.current == nil {
		return ErrNoSelection
	}
	v.current.Name = strings.TrimSpace(name)
	return nil
}

// Save 把当前记录整体写回存储。
func (v *DetailView) Save(ctx context.Context) error {
	t := v.Current()
	if t == nil {
		return ErrNoSelection
	}
	return v.store.Update(ctx, *t)
}
