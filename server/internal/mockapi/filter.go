package mockapi

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"tx-tour/server/internal/model"
)

// filter 对应集合查询参数：id 精确匹配，name 大小写不敏感的子串匹配。
// 多个条件取交集，未知参数忽略。
type filter struct {
	id      int
	hasID   bool
	name    string
	hasName bool
}

func parseFilter(query url.Values) (filter, error) {
	var f filter
	if raw, ok := query["id"]; ok && len(raw) > 0 {
		id, err := strconv.Atoi(strings.TrimSpace(raw[0]))
		if err != nil {
			return filter{}, fmt.Errorf("invalid id %q", raw[0])
		}
		f.id, f.hasID = id, true
	}
	if raw, ok := query["name"]; ok && len(raw) > 0 {
		f.name, f.hasName = raw[0], true
	}
	return f, nil
}

func (f filter) apply(items []model.Transaction) []model.Transaction {
	// Caser 有状态，不能跨 goroutine 共享，因此每次过滤单独创建。
	fold := cases.Fold()
	term := fold.String(f.name)

	out := make([]model.Transaction, 0, len(items))
	for _, t := range items {
		if f.hasID && t.ID != f.id {
			continue
		}
		if f.hasName && !strings.Contains(fold.String(t.Name), term) {
			continue
		}
		out = append(out, t)
	}
	return out
}
