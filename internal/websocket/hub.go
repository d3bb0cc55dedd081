package websocket

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Socket event names understood by the web client.
const (
	EventNewNotification = "newNotification"
	EventReceiveMessage  = "receive-message"
	eventPong            = "pong"
)

// Message is one frame written to a client.
type Message struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// Hub tracks live connections per user.
type Hub struct {
	clients    map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	log        *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run processes registrations until ctx is cancelled, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.UserID] == nil {
				h.clients[client.UserID] = make(map[*Client]bool)
			}
			h.clients[client.UserID][client] = true
			total := len(h.clients[client.UserID])
			h.mu.Unlock()
			h.log.Debug("socket client registered", zap.String("userId", client.UserID), zap.Int("connections", total))

		case client := <-h.unregister:
			h.remove(client)
			h.log.Debug("socket client unregistered", zap.String("userId", client.UserID))

		case <-ctx.Done():
			h.mu.Lock()
			for uid, clients := range h.clients {
				for client := range clients {
					close(client.send)
				}
				delete(h.clients, uid)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.clients[client.UserID]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			close(client.send)
			if len(clients) == 0 {
				delete(h.clients, client.UserID)
			}
		}
	}
}

// Register adds client to the hub. It returns false once the hub stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) drop(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Emit queues event for every live connection of userID and returns how many connections
// accepted it. Connections whose buffer is full are dropped.
func (h *Hub) Emit(userID, event string, payload interface{}) int {
	msg := &Message{Event: event, Payload: payload}

	h.mu.RLock()
	var slow []*Client
	delivered := 0
	for client := range h.clients[userID] {
		select {
		case client.send <- msg:
			delivered++
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.log.Warn("socket client too slow, dropping", zap.String("userId", userID))
		go h.drop(client)
	}
	return delivered
}

// ClientCount returns the number of live connections for userID.
func (h *Hub) ClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// IsOnline reports whether userID has at least one live connection.
func (h *Hub) IsOnline(userID string) bool {
	return h.ClientCount(userID) > 0
}

// OnlineUsers returns how many users have at least one live connection.
func (h *Hub) OnlineUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
