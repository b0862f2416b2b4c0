package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// topicAll receives every accepted event regardless of camera.
const topicAll = "*"

// EventMessage is the JSON frame pushed to subscribers when a
// detection passes the event filters.
type EventMessage struct {
	Type       string    `json:"type"`
	CameraID   string    `json:"camera_id"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewEventMessage(cameraID, label string, confidence float64) *EventMessage {
	return &EventMessage{
		Type:       "detection",
		CameraID:   cameraID,
		Label:      label,
		Confidence: confidence,
		Timestamp:  time.Now(),
	}
}

// Hub fans accepted detection events out to websocket subscribers.
// Subscriptions are keyed by camera; a client may also subscribe to
// all cameras at once.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*websocket.Conn]bool
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*websocket.Conn]bool),
		logger:  logger,
	}
}

func (h *Hub) Register(cameraID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[cameraID] == nil {
		h.clients[cameraID] = make(map[*websocket.Conn]bool)
	}
	h.clients[cameraID][conn] = true
	h.logger.Debug("ws client registered",
		zap.String("camera", cameraID),
		zap.Int("subscribers", len(h.clients[cameraID])))
}

func (h *Hub) Unregister(cameraID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.clients[cameraID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.clients, cameraID)
		}
		h.logger.Debug("ws client unregistered", zap.String("camera", cameraID))
	}
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, conns := range h.clients {
		count += len(conns)
	}
	return count
}

// BroadcastEvent delivers an accepted event to the camera's
// subscribers and to wildcard subscribers. Connections that fail to
// write are dropped.
func (h *Hub) BroadcastEvent(msg *EventMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("marshal event message", zap.Error(err))
		return
	}
	h.broadcast(msg.CameraID, data)
	h.broadcast(topicAll, data)
}

func (h *Hub) broadcast(topic string, data []byte) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients[topic]))
	for conn := range h.clients[topic] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("ws write failed, dropping client",
				zap.String("camera", topic), zap.Error(err))
			h.Unregister(topic, conn)
			conn.Close()
		}
	}
}
