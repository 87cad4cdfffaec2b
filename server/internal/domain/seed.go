package domain

import (
	"encoding/json"
	"fmt"
	"os"

	"tx-tour/server/internal/model"
)

// LoadSeed 从指定路径加载模拟后端的初始数据（JSON 数组）。
// path 为空时返回空集合。
func LoadSeed(path string) ([]model.Transaction, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}

	var items []model.Transaction
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}

	seen := make(map[int]bool, len(items))
	for _, t := range items {
		if t.ID <= 0 {
			return nil, fmt.Errorf("seed transaction %q has no id", t.Name)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("duplicate seed id %d", t.ID)
		}
		seen[t.ID] = true
	}
	return items, nil
}
