package mockapi

import (
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// connection 是一个变更流订阅者；send 带缓冲，由 writer 独占消费。
type connection struct {
	ws   *websocket.Conn
	send chan []byte
	h    *hub
}

// reader 只用于感知对端关闭，变更流不接收客户端消息。
func (c *connection) reader() {
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			break
		}
	}
	_ = c.ws.Close()
}

func (c *connection) writer() {
	for message := range c.send {
		if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
			c.h.logger.Debugf("[Hub] websocket write error: %v", err)
			break
		}
	}
	_ = c.ws.Close()
}

// hub 在单个 goroutine 中串行处理注册、注销与广播。
// 发送缓冲已满的慢订阅者会被直接断开。
type hub struct {
	connections map[*connection]bool
	broadcast   chan []byte
	register    chan *connection
	unregister  chan *connection
	quit        chan struct{}
	stopOnce    sync.Once
	done        chan struct{}
	subscribers atomic.Int64
	logger      logrus.FieldLogger
}

func newHub(logger logrus.FieldLogger) *hub {
	return &hub{
		connections: make(map[*connection]bool),
		broadcast:   make(chan []byte),
		register:    make(chan *connection),
		unregister:  make(chan *connection),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		logger:      logger,
	}
}

func (h *hub) run() {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.connections[c] = true
			h.subscribers.Store(int64(len(h.connections)))
			h.logger.Debug("[Hub] registered websocket connection")
		case c := <-h.unregister:
			h.remove(c)
			h.logger.Debug("[Hub] unregistered websocket connection")
		case m := <-h.broadcast:
			for c := range h.connections {
				select {
				case c.send <- m:
				default:
					h.remove(c)
				}
			}
		case <-h.quit:
			for c := range h.connections {
				h.remove(c)
			}
			return
		}
	}
}

func (h *hub) remove(c *connection) {
	if _, ok := h.connections[c]; ok {
		delete(h.connections, c)
		close(c.send)
	}
	h.subscribers.Store(int64(len(h.connections)))
}

// join 注册连接；hub 已停止时返回 false。
func (h *hub) join(c *connection) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *hub) leave(c *connection) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *hub) publish(message []byte) {
	select {
	case h.broadcast <- message:
	case <-h.done:
	}
}

// stop 可重复、可并发调用；返回时 run 已退出。
func (h *hub) stop() {
	h.stopOnce.Do(func() { close(h.quit) })
	<-h.done
}
