// Package api provides the thin external-facing HTTP/WebSocket server that
// exposes run status and a live event feed (§6, explicitly outside the
// Engine's own component sequence). Grounded on the teacher's
// api.Hub/api.Client channel-based broadcaster (websocket.go), generalized
// from order/position/trade/signal channels to this engine's Event stream
// and risk/system-failure alerts.
package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/basisdesk/engine/internal/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// MessageType is a WebSocket message's kind.
type MessageType string

const (
	MsgTypeEvent         MessageType = "event"
	MsgTypeRiskAlert     MessageType = "risk_alert"
	MsgTypeSystemFailure MessageType = "system_failure"
	MsgTypeSummary       MessageType = "summary"
	MsgTypeHeartbeat     MessageType = "heartbeat"

	MsgTypeSubscribe   MessageType = "subscribe"
	MsgTypeUnsubscribe MessageType = "unsubscribe"
)

// WSMessage is the wire format for every server -> client push.
type WSMessage struct {
	Type      MessageType     `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Client is one WebSocket connection.
type Client struct {
	id            string
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]bool
	mu            sync.RWMutex
}

// Hub fans out published messages to subscribed clients. It runs for the
// lifetime of the process; Run must be started in its own goroutine.
type Hub struct {
	logger     *zap.Logger
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	channels   map[string]map[*Client]bool
	mu         sync.RWMutex
}

// NewHub builds a Hub. Call Run to start its event loop.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger.Named("api.hub"),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		channels:   make(map[string]map[*Client]bool),
	}
}

// Run drives the hub's register/unregister/broadcast/heartbeat loop; it
// never returns.
func (h *Hub) Run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				for channel := range client.subscriptions {
					if clients, ok := h.channels[channel]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.channels, channel)
						}
					}
				}
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
				}
			}
			h.mu.RUnlock()

		case <-ticker.C:
			h.publish("", MsgTypeHeartbeat, nil)
		}
	}
}

func (h *Hub) publish(channel string, msgType MessageType, data interface{}) {
	var dataBytes json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			h.logger.Error("marshal message data failed", zap.Error(err))
			return
		}
		dataBytes = b
	}

	msgBytes, err := json.Marshal(WSMessage{
		Type:      msgType,
		Channel:   channel,
		Data:      dataBytes,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		h.logger.Error("marshal message failed", zap.Error(err))
		return
	}

	if channel == "" {
		select {
		case h.broadcast <- msgBytes:
		default:
			h.logger.Warn("broadcast channel full, dropping message")
		}
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.channels[channel] {
		select {
		case client.send <- msgBytes:
		default:
		}
	}
}

// PublishEvent fans out an Engine Event to the "events" channel (§4.11
// events are append-only and read-only from this server's perspective; it
// never writes to EventLogger).
func (h *Hub) PublishEvent(ev types.Event) {
	h.publish("events", MsgTypeEvent, ev)
	if ev.EventType == types.EventSystemFailure {
		h.publish("alerts", MsgTypeSystemFailure, ev)
	}
}

// PublishRiskAlert fans out a RiskAssessment whose OverallStatus is not
// SAFE to the "alerts" channel.
func (h *Hub) PublishRiskAlert(assessment types.RiskAssessment) {
	if assessment.OverallStatus == types.RiskSafe {
		return
	}
	h.publish("alerts", MsgTypeRiskAlert, assessment)
}

// PublishSummary fans out the run's final Summary once Engine.Run returns.
func (h *Hub) PublishSummary(summary types.Summary) {
	h.publish("summary", MsgTypeSummary, summary)
}

func (h *Hub) subscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*Client]bool)
	}
	h.channels[channel][client] = true
	client.mu.Lock()
	client.subscriptions[channel] = true
	client.mu.Unlock()
}

func (h *Hub) unsubscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.channels[channel]; ok {
		delete(clients, client)
	}
	client.mu.Lock()
	delete(client.subscriptions, channel)
	client.mu.Unlock()
}
