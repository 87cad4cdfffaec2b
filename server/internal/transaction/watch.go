package transaction

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"tx-tour/server/internal/model"
)

// StreamURL 把 REST base URL 换算为变更流的 websocket 地址。
// 例：http://host/api -> ws://host/api/events/stream
func StreamURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/events/stream"
	return u.String(), nil
}

// Watch 订阅后端的变更流。
// 返回的 channel 在 ctx 取消或连接断开时关闭；每条消息是一个 model.ChangeEvent。
func Watch(ctx context.Context, streamURL string, dialer *websocket.Dialer) (<-chan model.ChangeEvent, error) {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial change stream: %w", err)
	}

	events := make(chan model.ChangeEvent)
	done := make(chan struct{})

	// ctx 取消时关闭连接，让阻塞中的 ReadJSON 返回。
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = conn.Close()
	}()

	go func() {
		defer close(events)
		defer close(done)
		for {
			var evt model.ChangeEvent
			if err := conn.ReadJSON(&evt); err != nil {
				return
			}
			select {
			case events <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}
