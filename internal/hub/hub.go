// Package hub fans queue snapshots out to the display clients watching a
// shop.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"qms/shop-queue/internal/queue"

	"github.com/sirupsen/logrus"
)

const EventQueueSnapshot = "queue.snapshot"

type Client struct {
	ID     string
	ShopID string
	Send   chan []byte
}

type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  logrus.FieldLogger
}

var _ queue.Publisher = (*Hub)(nil)

func New(logger logrus.FieldLogger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{clients: make(map[string]*Client), logger: logger}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

// Unregister removes client and closes its Send channel. Unregistering an
// unknown client does nothing.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) Clients(shopID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, client := range h.clients {
		if client.ShopID == shopID {
			n++
		}
	}
	return n
}

// Broadcast hands payload to every client of shopID. A client whose buffer
// is full misses the message rather than stalling the others.
func (h *Hub) Broadcast(shopID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.ShopID != shopID {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			h.logger.WithFields(logrus.Fields{
				"client_id": client.ID,
				"shop_id":   shopID,
			}).Warn("drop message for slow client")
		}
	}
}

func (h *Hub) Name() string { return "hub" }

func (h *Hub) Publish(_ context.Context, snapshot queue.Snapshot) error {
	payload, err := EncodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	h.Broadcast(snapshot.ShopID, payload)
	return nil
}

// EncodeSnapshot wraps snapshot in the envelope sent to display clients.
func EncodeSnapshot(snapshot queue.Snapshot) ([]byte, error) {
	body, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	payload, err := json.Marshal(Envelope{Type: EventQueueSnapshot, Payload: body, CreatedAt: snapshot.GeneratedAt})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return payload, nil
}
