package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"forex-trading-bot/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 256
)

// Hub fans bus events out to connected websocket clients. Sends never
// block: a client whose buffer is full is evicted.
type Hub struct {
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte

	mu      sync.RWMutex
	clients map[*wsClient]struct{}

	log zerolog.Logger
}

// NewHub returns a hub ready for Run.
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan []byte, 4096),
		clients:    make(map[*wsClient]struct{}),
		log:        log.With().Str("component", "websocket").Logger(),
	}
}

// Attach subscribes the hub to every bus event. Events that do not fit
// the broadcast buffer are dropped rather than stalling a publisher.
func (h *Hub) Attach(bus *events.Bus) {
	bus.SubscribeAll(func(event events.Event) {
		data, err := json.Marshal(event)
		if err != nil {
			h.log.Warn().Err(err).Str("type", string(event.Type)).Msg("failed to marshal event")
			return
		}
		select {
		case h.broadcast <- data:
		default:
			h.log.Warn().Str("type", string(event.Type)).Msg("broadcast buffer full, dropping event")
		}
	})
}

// Run owns the client set. It returns when ctx is cancelled, closing
// every connection.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug().Int("clients", total).Msg("websocket client connected")

		case client := <-h.unregister:
			h.drop(client)

		case data := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Slow client: evict instead of stalling the loop.
					go func(c *wsClient) { h.unregister <- c }(client)
				}
			}
			h.mu.RUnlock()

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) drop(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.log.Debug().Int("clients", len(h.clients)).Msg("websocket client disconnected")
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// wsClient is one dashboard connection.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// writePump drains the send buffer to the socket and keeps the
// connection alive with periodic pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; the feed is one-way. It keeps the
// read side open for pong handling and close detection.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// handleWebSocket upgrades the connection and registers it with the
// hub. The first frame is a CONNECTED greeting.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{hub: s.hub, conn: conn, send: make(chan []byte, wsSendBuffer)}

	// Queue the greeting before the hub can see (and close) the client.
	welcome, err := json.Marshal(events.Event{
		Type:      "CONNECTED",
		Timestamp: time.Now().UTC(),
		Payload:   gin.H{"mode": s.mode},
	})
	if err == nil {
		client.send <- welcome
	}

	s.hub.register <- client
	go client.writePump()
	go client.readPump()
}

func newUpgrader(allowedOrigins string) websocket.Upgrader {
	allowAll := allowedOrigins == "" || allowedOrigins == "*"
	var allowed []string
	for _, origin := range strings.Split(allowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			allowed = append(allowed, origin)
		}
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Non-browser clients send no Origin header.
				return true
			}
			for _, o := range allowed {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
}
