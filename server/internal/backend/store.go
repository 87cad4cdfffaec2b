package backend

import (
	"context"
	"errors"

	"tx-tour/server/internal/model"
)

var (
	// ErrNotFound 表示记录不存在。
	ErrNotFound = errors.New("transaction not found")
	// ErrConflict 表示创建时指定的 id 已存在。
	ErrConflict = errors.New("transaction already exists")
)

// Store 是模拟后端的集合存储。
type Store interface {
	// List 按插入顺序返回全部记录的副本。
	List(ctx context.Context) ([]model.Transaction, error)
	Get(ctx context.Context, id int) (model.Transaction, error)
	// Create 在 t.ID 为 0 时分配新 id；指定的 id 已存在时返回 ErrConflict。
	Create(ctx context.Context, t model.Transaction) (model.Transaction, error)
	Update(ctx context.Context, t model.Transaction) error
	Delete(ctx context.Context, id int) error
}
