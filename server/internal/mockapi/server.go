package mockapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/microcosm-cc/bluemonday"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"tx-tour/server/internal/backend"
	"tx-tour/server/internal/logging"
	"tx-tour/server/internal/metrics"
	"tx-tour/server/internal/model"
)

// Options 是 Server 的可选依赖。
type Options struct {
	// Delay 模拟网络延迟，只作用于 /api/transactions 路由。
	Delay          time.Duration
	AllowedOrigins []string
	Metrics        *metrics.Metrics
	// Gatherer 为 nil 时 /metrics 使用 prometheus 默认注册表。
	Gatherer prometheus.Gatherer
	Logger   *logrus.Logger
	Now      func() time.Time
}

// Server 是拦截 REST 请求并返回模拟响应的后端，用来替代真实服务端。
//
// 职责与契约：
// - 资源语义与内存 Web API 一致：空集合首个 id 为 first_id，之后 max(id)+1。
// - 每次成功变更都追加到 ChangeLog 并通过 websocket 广播。
// - 错误响应统一为 {"error": "..."}。
type Server struct {
	store          backend.Store
	changes        *backend.ChangeLog
	hub            *hub
	metrics        *metrics.Metrics
	gatherer       prometheus.Gatherer
	logger         *logrus.Logger
	delay          time.Duration
	allowedOrigins map[string]bool
	sanitizer      *bluemonday.Policy

	upgrader websocket.Upgrader
}

func NewServer(store backend.Store, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		store:          store,
		changes:        backend.NewChangeLog(opts.Now),
		hub:            newHub(logger),
		metrics:        opts.Metrics,
		gatherer:       gatherer,
		logger:         logger,
		delay:          opts.Delay,
		allowedOrigins: make(map[string]bool),
		sanitizer:      bluemonday.StrictPolicy(),
	}
	for _, origin := range opts.AllowedOrigins {
		s.allowedOrigins[origin] = true
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.allowedOrigins[origin] || strings.HasSuffix(origin, "://"+r.Host)
		},
	}

	go s.hub.run()
	return s
}

// Close 停止广播并断开全部订阅者。
func (s *Server) Close() {
	s.hub.stop()
}

// Subscribers 返回当前变更流的订阅数。
func (s *Server) Subscribers() int {
	return int(s.hub.subscribers.Load())
}

// ChangeLog 返回变更日志。
func (s *Server) ChangeLog() *backend.ChangeLog {
	return s.changes
}

func (s *Server) Routes() http.Handler {
	engine := gin.New()
	engine.Use(gin.LoggerWithWriter(s.logger.Out), gin.Recovery(), s.requestID(), s.observe(), s.corsMiddleware())
	engine.GET("/healthz", s.handleHealthz)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	api := engine.Group("/api")
	tx := api.Group("/transactions", s.latency())
	tx.GET("", s.handleList)
	tx.GET("/:id", s.handleGet)
	tx.POST("", s.handleCreate)
	tx.PUT("", s.handleUpdate)
	tx.PUT("/:id", s.handleUpdate)
	tx.DELETE("/:id", s.handleDelete)

	api.GET("/events", s.handleEvents)
	api.GET("/events/stream", s.handleEventStream)
	return engine
}

// handleHealthz 返回服务健康状态。
func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleList 返回集合，支持 ?id= 与 ?name= 过滤。
func (s *Server) handleList(c *gin.Context) {
	f, err := parseFilter(c.Request.URL.Query())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	items, err := s.store.List(c.Request.Context())
	if err != nil {
		s.internalError(c, "list transactions", err)
		return
	}
	c.JSON(http.StatusOK, f.apply(items))
}

// handleGet 按 id 返回单条记录，不存在时 404。
func (s *Server) handleGet(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	t, err := s.store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("transaction %d not found", id)})
			return
		}
		s.internalError(c, "get transaction", err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// handleCreate 创建记录，id 由存储分配。
func (s *Server) handleCreate(c *gin.Context) {
	var t model.Transaction
	if err := c.ShouldBindJSON(&t); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	name, ok := s.cleanName(t.Name)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name must not contain markup"})
		return
	}
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name required"})
		return
	}
	t.Name = name

	created, err := s.store.Create(c.Request.Context(), t)
	if err != nil {
		if errors.Is(err, backend.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("transaction %d already exists", t.ID)})
			return
		}
		s.internalError(c, "create transaction", err)
		return
	}

	s.publish(model.ChangeCreated, created)
	c.JSON(http.StatusCreated, created)
}

// handleUpdate 整体更新记录；id 取自 body，路径里带 id 时两者必须一致。
func (s *Server) handleUpdate(c *gin.Context) {
	var t model.Transaction
	if err := c.ShouldBindJSON(&t); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if c.Param("id") != "" {
		id, ok := pathID(c)
		if !ok {
			return
		}
		if t.ID == 0 {
			t.ID = id
		}
		if t.ID != id {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id in path and body differ"})
			return
		}
	}
	if t.ID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id required"})
		return
	}
	name, ok := s.cleanName(t.Name)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name must not contain markup"})
		return
	}
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name required"})
		return
	}
	t.Name = name

	if err := s.store.Update(c.Request.Context(), t); err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("transaction %d not found", t.ID)})
			return
		}
		s.internalError(c, "update transaction", err)
		return
	}

	s.publish(model.ChangeUpdated, t)
	c.Status(http.StatusNoContent)
}

// handleDelete 删除记录，不存在时 404。
func (s *Server) handleDelete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	t, err := s.store.Get(ctx, id)
	if err == nil {
		err = s.store.Delete(ctx, id)
	}
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("transaction %d not found", id)})
			return
		}
		s.internalError(c, "delete transaction", err)
		return
	}

	s.publish(model.ChangeDeleted, t)
	c.Status(http.StatusNoContent)
}

// handleEvents 回放 seq 大于 since 的变更。
func (s *Server) handleEvents(c *gin.Context) {
	var since int64
	if raw := c.Query("since"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid since %q", raw)})
			return
		}
		since = v
	}
	c.JSON(http.StatusOK, s.changes.Since(since))
}

// handleEventStream 把连接升级为 websocket 并订阅变更广播。
func (s *Server) handleEventStream(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Errorf("[API] failed to upgrade websocket: %v", err)
		return
	}

	conn := &connection{send: make(chan []byte, 256), ws: ws, h: s.hub}
	if !s.hub.join(conn) {
		_ = ws.Close()
		return
	}
	defer s.hub.leave(conn)
	go conn.writer()
	conn.reader()
}

func (s *Server) publish(typ model.ChangeType, t model.Transaction) {
	evt := s.changes.Append(typ, t)
	data, err := json.Marshal(evt)
	if err != nil {
		s.logger.Errorf("[API] marshal change event: %v", err)
		return
	}
	s.hub.publish(data)
}

// cleanName 先解码实体再清洗，返回去掉首尾空白的纯文本。
// 清洗会改变内容（即含 HTML 标记，包括以实体形式转义的标记）时返回 false。
func (s *Server) cleanName(name string) (string, bool) {
	plain := strings.TrimSpace(html.UnescapeString(name))
	if html.UnescapeString(s.sanitizer.Sanitize(plain)) != plain {
		return "", false
	}
	return plain, true
}

func (s *Server) internalError(c *gin.Context, action string, err error) {
	// 详细错误只写服务端日志，响应保持简洁。
	s.logger.WithFields(logrus.Fields{
		"request_id": c.GetString("request_id"),
		"error":      err.Error(),
	}).Errorf("[API] %s failed", action)
	c.JSON(http.StatusInternalServerError, gin.H{"error": action + " failed"})
}

func pathID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid id %q", c.Param("id"))})
		return 0, false
	}
	return id, true
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.ObserveRequest(c.Request.Method, route, c.Writer.Status())
	}
}

func (s *Server) latency() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.delay <= 0 {
			c.Next()
			return
		}
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			c.Next()
		case <-c.Request.Context().Done():
			c.Abort()
		}
	}
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if s.allowedOrigins[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
