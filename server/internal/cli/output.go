package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"tx-tour/server/internal/model"
)

// 进程退出码。
const (
	exitOK    = 0
	exitFail  = 1 // 操作失败或记录不存在
	exitUsage = 2 // 参数、flag 或配置错误
)

// cmdError 是带退出码的命令错误，op 描述失败的步骤。
type cmdError struct {
	code int
	op   string
	err  error
}

func (e *cmdError) Error() string {
	switch {
	case e.err == nil:
		return e.op
	case e.op == "":
		return e.err.Error()
	}
	return e.op + ": " + e.err.Error()
}

func (e *cmdError) Unwrap() error { return e.err }

// failure 标记运行期失败。
func failure(op string, err error) error {
	return &cmdError{code: exitFail, op: op, err: err}
}

func notFound(id int) error {
	return &cmdError{code: exitFail, op: fmt.Sprintf("transaction %d not found", id)}
}

// usageErr 标记调用方式错误；err 可以为 nil。
func usageErr(op string, err error) error {
	return &cmdError{code: exitUsage, op: op, err: err}
}

// exitCode 取错误链上的退出码，其他错误按失败处理。
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ce *cmdError
	if errors.As(err, &ce) {
		return ce.code
	}
	return exitFail
}

// envelope 是 json 模式下每行输出的外层结构。
type envelope struct {
	Status string     `json:"status"`
	Data   any        `json:"data,omitempty"`
	Error  *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// printer 按 --format 渲染结果。
// 文本模式直接打印值的 String()；-v 的附加输出写到 diag，不混进 out。
type printer struct {
	json    bool
	out     io.Writer
	diag    io.Writer
	verbose bool
}

func (p *printer) emit(v any) error {
	if p.json {
		return json.NewEncoder(p.out).Encode(envelope{Status: "ok", Data: v})
	}
	_, err := fmt.Fprintln(p.out, v)
	return err
}

// report 输出 err 并返回对应的退出码。
func (p *printer) report(err error) int {
	code := exitCode(err)
	tag := fmt.Sprintf("E%03d", code)
	if p.json {
		_ = json.NewEncoder(p.out).Encode(envelope{
			Status: "error",
			Error:  &errorBody{Code: tag, Message: err.Error()},
		})
		return code
	}
	fmt.Fprintf(p.out, "Error [%s]: %s\n", tag, err)
	return code
}

func (p *printer) debugf(format string, args ...any) {
	if !p.verbose {
		return
	}
	w := p.diag
	if w == nil {
		w = p.out
	}
	fmt.Fprintf(w, format+"\n", args...)
}

type transactionList []model.Transaction

func (l transactionList) String() string {
	if len(l) == 0 {
		return "(no transactions)"
	}
	lines := make([]string, len(l))
	for i, t := range l {
		lines[i] = transactionItem(t).String()
	}
	return strings.Join(lines, "\n")
}

type transactionItem model.Transaction

func (t transactionItem) String() string {
	return fmt.Sprintf("%d %s", t.ID, t.Name)
}

func (t transactionItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(model.Transaction(t))
}

// actionResult 是一次写操作的回执。
type actionResult struct {
	Action      string            `json:"action"`
	Transaction model.Transaction `json:"transaction"`
}

func (r actionResult) String() string {
	if r.Transaction.Name == "" {
		return fmt.Sprintf("%s %d", r.Action, r.Transaction.ID)
	}
	return fmt.Sprintf("%s %d %s", r.Action, r.Transaction.ID, r.Transaction.Name)
}

type changeLine model.ChangeEvent

func (c changeLine) String() string {
	return fmt.Sprintf("seq=%d %s %s", c.Seq, c.Type, transactionItem(c.Transaction))
}

func (c changeLine) MarshalJSON() ([]byte, error) {
	return json.Marshal(model.ChangeEvent(c))
}

type changeList []model.ChangeEvent

func (l changeList) String() string {
	if len(l) == 0 {
		return "(no changes)"
	}
	lines := make([]string, len(l))
	for i, evt := range l {
		lines[i] = changeLine(evt).String()
	}
	return strings.Join(lines, "\n")
}
