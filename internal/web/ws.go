package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"nhooyr.io/websocket"

	"github.com/sweeney/matter-gpio/internal/node"
)

// ChannelUpdate is the websocket message sent for a committed value.
type ChannelUpdate struct {
	Channel   string     `json:"channel"`
	Endpoint  uint16     `json:"endpoint"`
	Value     node.Value `json:"value"`
	Timestamp string     `json:"timestamp"`
}

// NewChannelUpdate builds a ChannelUpdate stamped with at in UTC.
func NewChannelUpdate(channel string, ep node.EndpointID, v node.Value, at time.Time) ChannelUpdate {
	return ChannelUpdate{Channel: channel, Endpoint: uint16(ep), Value: v, Timestamp: at.UTC().Format(time.RFC3339)}
}

// Hub fans broadcast messages out to websocket clients.
type Hub struct {
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
	log     logr.Logger

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan any

	done     chan struct{}
	stopOnce sync.Once
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub. Call Run to start it.
func NewHub(log logr.Logger) *Hub {
	return &Hub{
		clients:    make(map[*wsClient]struct{}),
		log:        log,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan any, 64),
		done:       make(chan struct{}),
	}
}

// Run is the hub event loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.V(1).Info("ws client connected", "total", total)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.V(1).Info("ws client disconnected", "total", total)

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				h.log.Error(err, "ws marshal")
				continue
			}
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					// Too slow; drop the client rather than block the hub.
					delete(h.clients, c)
					close(c.send)
					h.log.Info("ws client evicted (too slow)")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop shuts the hub down. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast queues msg for every client. Drops it if the hub is backed up.
func (h *Hub) Broadcast(msg any) {
	select {
	case h.broadcast <- msg:
	default:
		h.log.Info("ws broadcast queue full, dropping message")
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Error(err, "ws accept")
		return
	}
	conn.SetReadLimit(4096)

	c := &wsClient{conn: conn, send: make(chan []byte, 16)}
	select {
	case s.hub.register <- c:
	case <-s.hub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go writePump(c)
	s.readPump(c)
}

func writePump(c *wsClient) {
	for msg := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
	c.conn.Close(websocket.StatusNormalClosure, "")
}

// readPump discards client messages and unregisters on disconnect.
func (s *Server) readPump(c *wsClient) {
	defer func() {
		select {
		case s.hub.unregister <- c:
		case <-s.hub.done:
			c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.hub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}
