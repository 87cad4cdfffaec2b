package views

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tx-tour/server/internal/logging"
	"tx-tour/server/internal/model"
)

// DefaultDebounce 是输入静默多久后才发起搜索。
const DefaultDebounce = 300 * time.Millisecond

// ErrSearchClosed 表示搜索视图已关闭。
var ErrSearchClosed = errors.New("search view closed")

// Searcher 是搜索视图需要的存储能力。
type Searcher interface {
	Search(ctx context.Context, term string) ([]model.Transaction, error)
}

// SearchView 把连续输入转换为搜索结果流。
//
// 职责与契约：
// - 防抖：输入静默 debounce 后才取最后一个词。
// - 去重：与上一次放行的词相同则不再搜索。
// - 只保留最新：新词放行时取消仍在进行的搜索，过期结果丢弃。
// - 全部状态由单个 loop goroutine 持有，Results 只由它写入。
type SearchView struct {
	searcher Searcher
	debounce time.Duration
	logger   logrus.FieldLogger

	terms   chan string
	results chan []model.Transaction
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
}

type searchResult struct {
	gen   int
	term  string
	items []model.Transaction
	err   error
}

// NewSearchView 启动处理循环；debounce <= 0 时使用 DefaultDebounce。
func NewSearchView(searcher Searcher, debounce time.Duration, logger logrus.FieldLogger) *SearchView {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = logging.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	v := &SearchView{
		searcher: searcher,
		debounce: debounce,
		logger:   logger,
		terms:    make(chan string),
		results:  make(chan []model.Transaction),
		ctx:      ctx,
		cancel:   cancel,
	}
	v.wg.Add(1)
	go v.loop()
	return v
}

// Input 提交一个新的搜索词。
func (v *SearchView) Input(term string) error {
	select {
	case v.terms <- term:
		return nil
	case <-v.ctx.Done():
		return ErrSearchClosed
	}
}

// Results 返回结果流；Close 后关闭。
func (v *SearchView) Results() <-chan []model.Transaction {
	return v.results
}

// Close 取消进行中的搜索并等待处理循环退出。
func (v *SearchView) Close() {
	v.once.Do(func() {
		v.cancel()
		v.wg.Wait()
		close(v.results)
	})
}

func (v *SearchView) loop() {
	defer v.wg.Done()

	var (
		pending    string
		last       string
		hasLast    bool
		gen        int
		timer      *time.Timer
		timerC     <-chan time.Time
		stopSearch context.CancelFunc = func() {}
	)
	found := make(chan searchResult)
	defer func() {
		stopSearch()
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-v.ctx.Done():
			return

		case term := <-v.terms:
			pending = term
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(v.debounce)
			timerC = timer.C

		case <-timerC:
			timerC = nil
			if hasLast && pending == last {
				continue
			}
			last, hasLast = pending, true

			stopSearch()
			gen++
			var sctx context.Context
			sctx, stopSearch = context.WithCancel(v.ctx)
			v.wg.Add(1)
			go v.run(sctx, gen, pending, found)

		case r := <-found:
			if r.gen != gen {
				continue
			}
			if r.err != nil {
				if !errors.Is(r.err, context.Canceled) {
					v.logger.WithFields(logrus.Fields{
						"term":  r.term,
						"error": r.err.Error(),
					}).Warn("[SearchView] search failed")
				}
				continue
			}
			select {
			case v.results <- r.items:
			case <-v.ctx.Done():
				return
			}
		}
	}
}

func (v *SearchView) run(ctx context.Context, gen int, term string, found chan<- searchResult) {
	defer v.wg.Done()
	items, err := v.searcher.Search(ctx, term)
	select {
	case found <- searchResult{gen: gen, term: term, items: items, err: err}:
	case <-ctx.Done():
	}
}
