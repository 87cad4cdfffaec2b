package views

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tx-tour/server/internal/model"
)

const testDebounce = 20 * time.Millisecond

// scriptedSearcher 按名称子串过滤固定集合；block 中的词会一直阻塞直到 ctx 取消。
type scriptedSearcher struct {
	mu        sync.Mutex
	items     []model.Transaction
	terms     []string
	cancelled []string
	block     map[string]bool
	started   chan string
}

func (s *scriptedSearcher) Search(ctx context.Context, term string) ([]model.Transaction, error) {
	s.mu.Lock()
	s.terms = append(s.terms, term)
	blocking := s.block[term]
	s.mu.Unlock()
	if s.started != nil {
		s.started <- term
	}

	if blocking {
		<-ctx.Done()
		s.mu.Lock()
		s.cancelled = append(s.cancelled, term)
		s.mu.Unlock()
		return []model.Transaction{}, ctx.Err()
	}

	out := []model.Transaction{}
	for _, item := range s.items {
		if strings.Contains(item.Name, term) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *scriptedSearcher) searched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.terms...)
}

func receive(t *testing.T, v *SearchView) []model.Transaction {
	t.Helper()
	select {
	case got := <-v.Results():
		return got
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for search results")
		return nil
	}
}

func assertNoResult(t *testing.T, v *SearchView, wait time.Duration) {
	t.Helper()
	select {
	case got := <-v.Results():
		t.Fatalf("expected no result, got %v", got)
	case <-time.After(wait):
	}
}

// TestSearchViewDebounce 验证快速连续输入只搜索最后一个词。
func TestSearchViewDebounce(t *testing.T) {
	searcher := &scriptedSearcher{items: []model.Transaction{{ID: 1, Name: "abc"}, {ID: 2, Name: "xyz"}}}
	v := NewSearchView(searcher, testDebounce, nil)
	defer v.Close()

	for _, term := range []string{"a", "ab", "abc"} {
		if err := v.Input(term); err != nil {
			t.Fatalf("input: %v", err)
		}
	}

	got := receive(t, v)
	if len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("expected [{1 abc}], got %v", got)
	}
	if terms := searcher.searched(); len(terms) != 1 || terms[0] != "abc" {
		t.Fatalf("expected a single search for abc, got %v", terms)
	}
}

// TestSearchViewSuppressesRepeatedTerm 验证静默后的词与上次相同则不再搜索。
func TestSearchViewSuppressesRepeatedTerm(t *testing.T) {
	searcher := &scriptedSearcher{items: []model.Transaction{{ID: 1, Name: "abc"}}}
	v := NewSearchView(searcher, testDebounce, nil)
	defer v.Close()

	_ = v.Input("abc")
	receive(t, v)

	_ = v.Input("abd")
	_ = v.Input("abc")
	assertNoResult(t, v, 5*testDebounce)

	if terms := searcher.searched(); len(terms) != 1 {
		t.Fatalf("expected one search, got %v", terms)
	}
}

// TestSearchViewSwitchesToLatest 验证新词放行时取消进行中的旧搜索，只输出新结果。
func TestSearchViewSwitchesToLatest(t *testing.T) {
	searcher := &scriptedSearcher{
		items:   []model.Transaction{{ID: 2, Name: "fast"}},
		block:   map[string]bool{"slow": true},
		started: make(chan string, 4),
	}
	v := NewSearchView(searcher, testDebounce, nil)
	defer v.Close()

	_ = v.Input("slow")
	select {
	case term := <-searcher.started:
		if term != "slow" {
			t.Fatalf("expected slow search first, got %q", term)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("slow search never started")
	}

	_ = v.Input("fast")
	got := receive(t, v)
	if len(got) != 1 || got[0].Name != "fast" {
		t.Fatalf("expected fast result, got %v", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		searcher.mu.Lock()
		cancelled := append([]string{}, searcher.cancelled...)
		searcher.mu.Unlock()
		if len(cancelled) == 1 && cancelled[0] == "slow" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected slow search cancelled, got %v", cancelled)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestSearchViewClose 验证关闭后结果流关闭、输入返回 ErrSearchClosed。
func TestSearchViewClose(t *testing.T) {
	v := NewSearchView(&scriptedSearcher{}, testDebounce, nil)
	v.Close()
	v.Close()

	if _, ok := <-v.Results(); ok {
		t.Fatalf("expected results channel closed")
	}
	if err := v.Input("x"); !errors.Is(err, ErrSearchClosed) {
		t.Fatalf("expected ErrSearchClosed, got %v", err)
	}
}
