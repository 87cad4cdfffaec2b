package transaction

import (
	"fmt"
	"strings"
)

// ErrorPolicy 决定操作失败时是否把错误交给调用方。
// 无论哪种策略，失败都会先被记录并写入通知日志。
type ErrorPolicy interface {
	Handle(operation string, err error) error
}

// ErrorPolicyFunc 把普通函数适配为 ErrorPolicy。
type ErrorPolicyFunc func(operation string, err error) error

func (f ErrorPolicyFunc) Handle(operation string, err error) error {
	return f(operation, err)
}

var (
	// Swallow 吞掉错误，调用方拿到操作的兜底值。
	Swallow ErrorPolicy = ErrorPolicyFunc(func(string, error) error { return nil })
	// Propagate 把错误包装为 *OperationError 返回。
	Propagate ErrorPolicy = ErrorPolicyFunc(func(operation string, err error) error {
		return &OperationError{Op: operation, Err: err}
	})
)

// OperationError 标识失败的操作及其原因。
type OperationError struct {
	Op  string
	Err error
}

func (e *OperationError) Error() string {
	return e.Op + " failed: " + e.Err.Error()
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// ParsePolicy 解析配置中的策略名。
func ParsePolicy(name string) (ErrorPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "swallow":
		return Swallow, nil
	case "propagate":
		return Propagate, nil
	default:
		return nil, fmt.Errorf("unknown error policy %q", name)
	}
}
