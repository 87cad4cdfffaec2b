package transaction

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"tx-tour/server/internal/logging"
	"tx-tour/server/internal/metrics"
	"tx-tour/server/internal/model"
)

const (
	collectionPath = "/transactions"
	logPrefix      = "TransactionService: "
)

// Sink 是通知日志的写入能力。
type Sink interface {
	Add(message string)
}

// Identifier 是删除操作接受的标识：裸 id 或完整记录。
type Identifier interface {
	TransactionID() int
}

// ID 是裸 id 形式的 Identifier。
type ID int

func (id ID) TransactionID() int {
	return int(id)
}

// Service 把五类逻辑操作翻译为对远端集合资源的请求，并统一结果与错误的形态。
//
// 职责与契约：
// - 无状态：不跨调用持有任何记录，本地集合归展示层所有。
// - 单结果：每个操作阻塞直到拿到唯一结果，需要异步的调用方自行起 goroutine。
// - 错误收敛：所有失败都经过 handleError，先记录再交给 ErrorPolicy 决定吞掉还是返回。
// - 缺省值约定：不存在的记录统一用 nil *model.Transaction 表示。
type Service struct {
	transport Transport
	sink      Sink
	policy    ErrorPolicy
	logger    logrus.FieldLogger
	metrics   *metrics.Metrics
}

// Option 配置 Service。
type Option func(*Service)

// WithErrorPolicy 设置错误处理策略，默认 Swallow。
func WithErrorPolicy(p ErrorPolicy) Option {
	return func(s *Service) {
		if p != nil {
			s.policy = p
		}
	}
}

// WithLogger 设置记录原始错误的日志器。
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics 设置操作计数器。
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService 创建 Service；依赖全部由调用方显式传入。
func NewService(transport Transport, sink Sink, opts ...Option) *Service {
	s := &Service{
		transport: transport,
		sink:      sink,
		policy:    Swallow,
		logger:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithPolicy 返回使用另一种错误策略的副本，便于单次调用选择严格模式。
func (s *Service) WithPolicy(p ErrorPolicy) *Service {
	clone := *s
	if p != nil {
		clone.policy = p
	}
	return &clone
}

// List 获取全部记录；失败时兜底为空切片。
func (s *Service) List(ctx context.Context) ([]model.Transaction, error) {
	const op = "getTransactions"

	var out []model.Transaction
	if err := s.transport.Do(ctx, Request{Method: http.MethodGet, Path: collectionPath}, &out); err != nil {
		return []model.Transaction{}, s.handleError(ctx, op, err)
	}
	s.succeed(op, "fetched transactions")
	return nonNil(out), nil
}

// Get 按 id 获取记录，404 也视为失败走 handleError；失败时兜底为 nil。
func (s *Service) Get(ctx context.Context, id int) (*model.Transaction, error) {
	op := fmt.Sprintf("getTransaction id=%d", id)

	var out model.Transaction
	req := Request{Method: http.MethodGet, Path: itemPath(id)}
	if err := s.transport.Do(ctx, req, &out); err != nil {
		return nil, s.handleError(ctx, op, err)
	}
	s.succeed(op, fmt.Sprintf("fetched transaction id=%d", id))
	return &out, nil
}

// Lookup 通过过滤查询 ?id= 获取记录。
// 未命中是正常结果：返回 nil, nil 且不记为失败；只有传输错误才走 handleError。
func (s *Service) Lookup(ctx context.Context, id int) (*model.Transaction, error) {
	op := fmt.Sprintf("getTransaction id=%d", id)

	var out []model.Transaction
	req := Request{
		Method: http.MethodGet,
		Path:   collectionPath,
		Query:  url.Values{"id": []string{strconv.Itoa(id)}},
	}
	if err := s.transport.Do(ctx, req, &out); err != nil {
		return nil, s.handleError(ctx, op, err)
	}
	if len(out) == 0 {
		s.log(fmt.Sprintf("did not find transaction id=%d", id))
		s.metrics.ObserveOperation(metricName(op), "not_found")
		return nil, nil
	}
	s.succeed(op, fmt.Sprintf("fetched transaction id=%d", id))
	return &out[0], nil
}

// Search 返回名称包含 term 的记录。
// term 为空或全是空白时直接返回空切片，不发请求也不写日志。
func (s *Service) Search(ctx context.Context, term string) ([]model.Transaction, error) {
	const op = "searchTransactions"

	if strings.TrimSpace(term) == "" {
		return []model.Transaction{}, nil
	}

	var out []model.Transaction
	req := Request{
		Method: http.MethodGet,
		Path:   collectionPath,
		Query:  url.Values{"name": []string{term}},
	}
	if err := s.transport.Do(ctx, req, &out); err != nil {
		return []model.Transaction{}, s.handleError(ctx, op, err)
	}
	s.succeed(op, fmt.Sprintf("found transactions matching \"%s\"", term))
	return nonNil(out), nil
}

// Add 创建记录并返回带服务端 id 的结果；失败时兜底为 nil。
func (s *Service) Add(ctx context.Context, t model.Transaction) (*model.Transaction, error) {
	const op = "addTransaction"

	var out model.Transaction
	req := Request{Method: http.MethodPost, Path: collectionPath, Body: t}
	if err := s.transport.Do(ctx, req, &out); err != nil {
		return nil, s.handleError(ctx, op, err)
	}
	s.succeed(op, fmt.Sprintf("added transaction w/ id=%d", out.ID))
	return &out, nil
}

// Delete 删除记录，ref 可以是 ID 或 model.Transaction。
func (s *Service) Delete(ctx context.Context, ref Identifier) error {
	const op = "deleteTransaction"

	id := ref.TransactionID()
	req := Request{Method: http.MethodDelete, Path: itemPath(id)}
	if err := s.transport.Do(ctx, req, nil); err != nil {
		return s.handleError(ctx, op, err)
	}
	s.succeed(op, fmt.Sprintf("deleted transaction id=%d", id))
	return nil
}

// Update 整体更新记录。
func (s *Service) Update(ctx context.Context, t model.Transaction) error {
	const op = "updateTransaction"

	req := Request{Method: http.MethodPut, Path: collectionPath, Body: t}
	if err := s.transport.Do(ctx, req, nil); err != nil {
		return s.handleError(ctx, op, err)
	}
	s.succeed(op, fmt.Sprintf("updated transaction id=%d", t.ID))
	return nil
}

// Changes 回放 seq 大于 since 的变更事件；失败时兜底为空切片。
func (s *Service) Changes(ctx context.Context, since int64) ([]model.ChangeEvent, error) {
	const op = "getChanges"

	var out []model.ChangeEvent
	req := Request{
		Method: http.MethodGet,
		Path:   "/events",
		Query:  url.Values{"since": []string{strconv.FormatInt(since, 10)}},
	}
	if err := s.transport.Do(ctx, req, &out); err != nil {
		return []model.ChangeEvent{}, s.handleError(ctx, op, err)
	}
	s.succeed(op, fmt.Sprintf("fetched changes since seq=%d", since))
	if out == nil {
		out = []model.ChangeEvent{}
	}
	return out, nil
}

// handleError 是所有操作共用的失败出口：
// 记录原始错误、写入可读的通知、计数，最后交给策略决定返回值。
// 调用方主动取消（context.Canceled）的请求不算失败：不写通知，直接返回 ctx 的错误。
// 超时（context.DeadlineExceeded）仍按传输失败处理。
func (s *Service) handleError(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) && errors.Is(err, context.Canceled) {
		s.metrics.ObserveOperation(metricName(op), "cancelled")
		return ctx.Err()
	}

	s.logger.WithFields(logrus.Fields{
		"operation": op,
		"error":     err.Error(),
	}).Error("[TransactionService] operation failed")

	s.log(fmt.Sprintf("%s failed: %s", op, err.Error()))
	s.metrics.ObserveOperation(metricName(op), "failed")
	return s.policy.Handle(op, err)
}

func (s *Service) succeed(op, message string) {
	s.log(message)
	s.metrics.ObserveOperation(metricName(op), "ok")
}

func (s *Service) log(message string) {
	if s.sink == nil {
		return
	}
	s.sink.Add(logPrefix + message)
}

// metricName 去掉操作名中的 id，避免标签基数膨胀。
func metricName(op string) string {
	if i := strings.IndexByte(op, ' '); i > 0 {
		return op[:i]
	}
	return op
}

func itemPath(id int) string {
	return collectionPath + "/" + strconv.Itoa(id)
}

func nonNil(in []model.Transaction) []model.Transaction {
	if in == nil {
		return []model.Transaction{}
	}
	return in
}
