package model

import "time"

// Transaction 是被 CRUD 管理的记录实体。
// ID 由后端在创建时分配，分配后不可变；ID 为 0 表示尚未创建。
type Transaction struct {
	ID   int    `json:"id,omitempty"`
	Name string `json:"name"`
}

// TransactionID 使 Transaction 可直接作为删除操作的标识。
func (t Transaction) TransactionID() int {
	return t.ID
}

// ChangeType 标识变更事件的类型。
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
)

// ChangeEvent 表示后端集合的一次变更。
type ChangeEvent struct {
	// Seq 在同一个后端进程内单调递增。
	Seq         int64       `json:"seq"`
	Type        ChangeType  `json:"type"`
	Transaction Transaction `json:"transaction"`
	At          time.Time   `json:"at"`
}
