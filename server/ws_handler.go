package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"sunoman/core/event"
	"sunoman/logger"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

// WSHub 把事件总线桥接到 WebSocket 连接
type WSHub struct {
	bus *event.Bus
}

func NewWSHub(bus *event.Bus) *WSHub {
	return &WSHub{bus: bus}
}

// ServeWS 升级连接并开始推送事件。每个连接独立订阅总线，
// 断开时取消订阅。
func (h *WSHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}

	sub := h.bus.Subscribe()
	logger.Info("websocket 客户端接入",
		logger.String("remote", r.RemoteAddr),
		logger.Int("subscribers", h.bus.SubscriberCount()))

	done := make(chan struct{})
	go h.readPump(conn, done)
	h.writePump(conn, sub, done)

	h.bus.Unsubscribe(sub)
	conn.Close()
	logger.Info("websocket 客户端断开", logger.String("remote", r.RemoteAddr))
}

// readPump 只负责响应 pong 和发现断连，收到的消息直接丢弃
func (h *WSHub) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WSHub) writePump(conn *websocket.Conn, sub *event.Subscriber, done chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
