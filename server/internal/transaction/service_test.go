package transaction

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"tx-tour/server/internal/messages"
	"tx-tour/server/internal/metrics"
	"tx-tour/server/internal/model"
)

const testBaseURL = "http://backend.test/api"

func newMockedService(t *testing.T, opts ...Option) (*Service, *httpmock.MockTransport, *messages.Log) {
	t.Helper()
	mock := httpmock.NewMockTransport()
	client := &http.Client{Transport: mock}
	log := messages.NewLog(10)
	return NewService(NewHTTPTransport(testBaseURL, client), log, opts...), mock, log
}

func networkDown() httpmock.Responder {
	return httpmock.NewErrorResponder(errors.New("connection refused"))
}

func assertSingleLog(t *testing.T, log *messages.Log, contains ...string) {
	t.Helper()
	entries := log.Messages()
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 log entry, got %d: %v", len(entries), entries)
	}
	for _, want := range contains {
		if !strings.Contains(entries[0], want) {
			t.Fatalf("expected log entry to contain %q, got %q", want, entries[0])
		}
	}
}

// TestSearchBlankTermIssuesNoRequest 验证空或全空白的搜索词直接返回空切片且不发请求。
func TestSearchBlankTermIssuesNoRequest(t *testing.T) {
	svc, mock, log := newMockedService(t)

	for _, term := range []string{"", "  ", "\t\n"} {
		got, err := svc.Search(context.Background(), term)
		if err != nil {
			t.Fatalf("search %q: %v", term, err)
		}
		if got == nil || len(got) != 0 {
			t.Fatalf("expected empty non-nil slice for %q, got %v", term, got)
		}
	}
	if n := mock.GetTotalCallCount(); n != 0 {
		t.Fatalf("expected zero requests, got %d", n)
	}
	if log.Len() != 0 {
		t.Fatalf("expected no log entries, got %v", log.Messages())
	}
}

// TestSearchIssuesOneFilteredRequest 验证非空搜索词只发一次带 name 过滤的请求，结果原样返回。
func TestSearchIssuesOneFilteredRequest(t *testing.T) {
	svc, mock, log := newMockedService(t)
	mock.RegisterResponderWithQuery(http.MethodGet, testBaseURL+"/transactions", "name=ab",
		httpmock.NewStringResponder(http.StatusOK, `[{"id":3,"name":"cab"},{"id":1,"name":"abc"}]`))

	got, err := svc.Search(context.Background(), "ab")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 || got[0].ID != 3 || got[1].ID != 1 {
		t.Fatalf("expected results unchanged in order, got %v", got)
	}
	if n := mock.GetTotalCallCount(); n != 1 {
		t.Fatalf("expected exactly 1 request, got %d", n)
	}
	assertSingleLog(t, log, `TransactionService: found transactions matching "ab"`)
}

// TestTransportFailuresFallBack 验证每个操作遇到传输错误时返回兜底值且恰好写一条日志。
func TestTransportFailuresFallBack(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		op   string
		call func(s *Service) (bool, error)
	}{
		{"list", "getTransactions failed", func(s *Service) (bool, error) {
			got, err := s.List(ctx)
			return got != nil && len(got) == 0, err
		}},
		{"get", "getTransaction id=99 failed", func(s *Service) (bool, error) {
			got, err := s.Get(ctx, 99)
			return got == nil, err
		}},
		{"lookup", "getTransaction id=7 failed", func(s *Service) (bool, error) {
			got, err := s.Lookup(ctx, 7)
			return got == nil, err
		}},
		{"search", "searchTransactions failed", func(s *Service) (bool, error) {
			got, err := s.Search(ctx, "ab")
			return got != nil && len(got) == 0, err
		}},
		{"add", "addTransaction failed", func(s *Service) (bool, error) {
			got, err := s.Add(ctx, model.Transaction{Name: "new"})
			return got == nil, err
		}},
		{"delete", "deleteTransaction failed", func(s *Service) (bool, error) {
			return true, s.Delete(ctx, ID(3))
		}},
		{"update", "updateTransaction failed", func(s *Service) (bool, error) {
			return true, s.Update(ctx, model.Transaction{ID: 3, Name: "x"})
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, mock, log := newMockedService(t)
			mock.RegisterNoResponder(networkDown())

			fallback, err := tc.call(svc)
			if err != nil {
				t.Fatalf("expected error to be swallowed, got %v", err)
			}
			if !fallback {
				t.Fatalf("expected fallback value")
			}
			assertSingleLog(t, log, tc.op+": ", "connection refused")
		})
	}
}

// TestGetNetworkErrorScenario 对应具体场景：getById(99) 网络错误时返回 nil，日志包含操作名与错误信息。
func TestGetNetworkErrorScenario(t *testing.T) {
	svc, mock, log := newMockedService(t)
	mock.RegisterResponder(http.MethodGet, testBaseURL+"/transactions/99", networkDown())

	got, err := svc.Get(context.Background(), 99)
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil; got %v, %v", got, err)
	}
	assertSingleLog(t, log, "TransactionService: getTransaction id=99 failed: ", "connection refused")
}

// TestGetNotFoundIsContained 验证严格查询的 404 在 Swallow 下走失败日志并返回 nil。
func TestGetNotFoundIsContained(t *testing.T) {
	svc, mock, log := newMockedService(t)
	mock.RegisterResponder(http.MethodGet, testBaseURL+"/transactions/5",
		httpmock.NewStringResponder(http.StatusNotFound, `{"error":"transaction 5 not found"}`))

	got, err := svc.Get(context.Background(), 5)
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil; got %v, %v", got, err)
	}
	assertSingleLog(t, log, "getTransaction id=5 failed: ", "404 Not Found")
}

// TestPropagatePolicyReturnsErrors 验证 Propagate 策略把错误交给调用方，且仍然写日志。
func TestPropagatePolicyReturnsErrors(t *testing.T) {
	svc, mock, log := newMockedService(t, WithErrorPolicy(Propagate))
	mock.RegisterResponder(http.MethodGet, testBaseURL+"/transactions/5",
		httpmock.NewStringResponder(http.StatusNotFound, `{"error":"transaction 5 not found"}`))

	got, err := svc.Get(context.Background(), 5)
	if got != nil {
		t.Fatalf("expected nil result, got %v", got)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var opErr *OperationError
	if !errors.As(err, &opErr) || opErr.Op != "getTransaction id=5" {
		t.Fatalf("expected OperationError for getTransaction id=5, got %v", err)
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusNotFound {
		t.Fatalf("expected StatusError 404, got %v", err)
	}
	assertSingleLog(t, log, "getTransaction id=5 failed")
}

// TestWithPolicyDoesNotChangeOriginal 验证 WithPolicy 返回副本，原 Service 仍然吞掉错误。
func TestWithPolicyDoesNotChangeOriginal(t *testing.T) {
	svc, mock, _ := newMockedService(t)
	mock.RegisterNoResponder(networkDown())

	if _, err := svc.WithPolicy(Propagate).List(context.Background()); err == nil {
		t.Fatalf("expected strict copy to propagate")
	}
	if _, err := svc.List(context.Background()); err != nil {
		t.Fatalf("expected original to swallow, got %v", err)
	}
}

// TestLookupNoMatchIsNotAnError 验证宽松查询未命中是正常结果，即使在 Propagate 策略下。
func TestLookupNoMatchIsNotAnError(t *testing.T) {
	svc, mock, log := newMockedService(t, WithErrorPolicy(Propagate))
	mock.RegisterResponderWithQuery(http.MethodGet, testBaseURL+"/transactions", "id=42",
		httpmock.NewStringResponder(http.StatusOK, `[]`))
	mock.RegisterResponderWithQuery(http.MethodGet, testBaseURL+"/transactions", "id=11",
		httpmock.NewStringResponder(http.StatusOK, `[{"id":11,"name":"Rent"}]`))

	got, err := svc.Lookup(context.Background(), 42)
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil for missing id; got %v, %v", got, err)
	}

	got, err = svc.Lookup(context.Background(), 11)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got == nil || got.Name != "Rent" {
		t.Fatalf("expected Rent, got %v", got)
	}

	entries := log.Messages()
	if len(entries) != 2 ||
		entries[0] != "TransactionService: did not find transaction id=42" ||
		entries[1] != "TransactionService: fetched transaction id=11" {
		t.Fatalf("unexpected log entries: %v", entries)
	}
}

// TestAddSendsJSONAndLogsID 验证创建请求带 JSON 头，返回值包含服务端 id。
func TestAddSendsJSONAndLogsID(t *testing.T) {
	svc, mock, log := newMockedService(t)
	mock.RegisterResponder(http.MethodPost, testBaseURL+"/transactions",
		func(req *http.Request) (*http.Response, error) {
			if ct := req.Header.Get("Content-Type"); ct != "application/json" {
				return httpmock.NewStringResponse(http.StatusUnsupportedMediaType, ct), nil
			}
			if req.Header.Get("X-Request-ID") == "" {
				return httpmock.NewStringResponse(http.StatusBadRequest, "missing request id"), nil
			}
			return httpmock.NewStringResponse(http.StatusCreated, `{"id":11,"name":"new"}`), nil
		})

	got, err := svc.Add(context.Background(), model.Transaction{Name: "new"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if got == nil || got.ID != 11 || got.Name != "new" {
		t.Fatalf("expected {11 new}, got %v", got)
	}
	assertSingleLog(t, log, "added transaction w/ id=11")
}

// TestDeleteAcceptsIDOrRecord 验证删除既接受裸 id 也接受完整记录。
func TestDeleteAcceptsIDOrRecord(t *testing.T) {
	svc, mock, log := newMockedService(t)
	mock.RegisterResponder(http.MethodDelete, testBaseURL+"/transactions/3", httpmock.NewStringResponder(http.StatusNoContent, ""))
	mock.RegisterResponder(http.MethodDelete, testBaseURL+"/transactions/4", httpmock.NewStringResponder(http.StatusNoContent, ""))

	if err := svc.Delete(context.Background(), ID(3)); err != nil {
		t.Fatalf("delete by id: %v", err)
	}
	if err := svc.Delete(context.Background(), model.Transaction{ID: 4, Name: "x"}); err != nil {
		t.Fatalf("delete by record: %v", err)
	}

	info := mock.GetCallCountInfo()
	if info["DELETE "+testBaseURL+"/transactions/3"] != 1 || info["DELETE "+testBaseURL+"/transactions/4"] != 1 {
		t.Fatalf("unexpected call counts: %v", info)
	}
	entries := log.Messages()
	if len(entries) != 2 || !strings.HasSuffix(entries[1], "deleted transaction id=4") {
		t.Fatalf("unexpected log entries: %v", entries)
	}
}

// TestUpdateLogsID 验证更新成功写日志且忽略响应体。
func TestUpdateLogsID(t *testing.T) {
	svc, mock, log := newMockedService(t)
	mock.RegisterResponder(http.MethodPut, testBaseURL+"/transactions", httpmock.NewStringResponder(http.StatusNoContent, ""))

	if err := svc.Update(context.Background(), model.Transaction{ID: 12, Name: "renamed"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	assertSingleLog(t, log, "updated transaction id=12")
}

// TestOperationMetrics 验证操作结果被计数。
func TestOperationMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	svc, mock, _ := newMockedService(t, WithMetrics(m))
	mock.RegisterResponder(http.MethodGet, testBaseURL+"/transactions", httpmock.NewStringResponder(http.StatusOK, `[]`))
	mock.RegisterResponder(http.MethodGet, testBaseURL+"/transactions/1", networkDown())

	_, _ = svc.List(context.Background())
	_, _ = svc.Get(context.Background(), 1)

	if got := testutil.ToFloat64(m.Operations().WithLabelValues("getTransactions", "ok")); got != 1 {
		t.Fatalf("expected 1 ok list, got %v", got)
	}
	if got := testutil.ToFloat64(m.Operations().WithLabelValues("getTransaction", "failed")); got != 1 {
		t.Fatalf("expected 1 failed get, got %v", got)
	}
}

// TestDecodeErrorIsContained 验证响应体无法解析时同样走失败出口。
func TestDecodeErrorIsContained(t *testing.T) {
	svc, mock, log := newMockedService(t)
	mock.RegisterResponder(http.MethodGet, testBaseURL+"/transactions", httpmock.NewStringResponder(http.StatusOK, `{not json`))

	got, err := svc.List(context.Background())
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty fallback, got %v, %v", got, err)
	}
	assertSingleLog(t, log, "getTransactions failed: decode response")
}

// TestParsePolicy 验证策略名解析。
func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy(""); err != nil || p == nil {
		t.Fatalf("expected default swallow policy, got %v, %v", p, err)
	}
	if _, err := ParsePolicy("PROPAGATE"); err != nil {
		t.Fatalf("expected propagate to parse, got %v", err)
	}
	if _, err := ParsePolicy("retry"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}

// TestCancelledCallIsNotReportedAsFailure 验证调用方取消的请求不写通知日志，返回 ctx 的错误。
func TestCancelledCallIsNotReportedAsFailure(t *testing.T) {
	svc, mock, log := newMockedService(t)
	mock.RegisterResponder(http.MethodGet, testBaseURL+"/transactions", func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	got, err := svc.Search(ctx, "slow")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty fallback, got %v", got)
	}
	if log.Len() != 0 {
		t.Fatalf("expected no log entries, got %v", log.Messages())
	}
}

// TestDeadlineIsReportedAsFailure 验证调用方设置的超时按传输失败处理：恰好一条失败日志，返回兜底值。
func TestDeadlineIsReportedAsFailure(t *testing.T) {
	svc, mock, log := newMockedService(t)
	mock.RegisterResponder(http.MethodGet, testBaseURL+"/transactions", func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	got, err := svc.Search(ctx, "slow")
	if err != nil {
		t.Fatalf("expected swallowed error, got %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty fallback, got %v", got)
	}
	assertSingleLog(t, log, "searchTransactions failed: ")
}
