package httpapi

import (
	"context"
	"net/http"
	"time"

	"qms/shop-queue/internal/hub"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleStream pushes the shop's queue snapshot to a display client on
// connect and after every change until the client goes away.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	shopID, ok := pathUUID(w, r, requestID, "shopID")
	if !ok {
		return
	}
	initial, err := h.initialFrame(r.Context(), shopID)
	if err != nil {
		h.writeMappedError(w, requestID, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithField("shop_id", shopID).WithError(err).Warn("websocket upgrade failed")
		return
	}
	client := &hub.Client{ID: uuid.NewString(), ShopID: shopID, Send: make(chan []byte, sendBuffer)}
	client.Send <- initial
	h.hub.Register(client)

	go writePump(conn, client)
	readPump(conn)
	h.hub.Unregister(client)
}

// initialFrame prefers the last broadcast frame and falls back to reading
// the queue when none is available.
func (h *Handler) initialFrame(ctx context.Context, shopID string) ([]byte, error) {
	if h.latest != nil {
		payload, err := h.latest.Latest(ctx, shopID)
		if err != nil {
			h.logger.WithField("shop_id", shopID).WithError(err).Warn("latest snapshot unavailable")
		}
		if err == nil && payload != nil {
			return payload, nil
		}
	}
	snapshot, err := h.queue.GetQueueSnapshot(ctx, shopID)
	if err != nil {
		return nil, err
	}
	return hub.EncodeSnapshot(snapshot)
}

// readPump discards client frames and returns once the peer is gone.
func readPump(conn *websocket.Conn) {
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(conn *websocket.Conn, client *hub.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case msg, ok := <-client.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
