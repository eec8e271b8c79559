package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// WebSocketHub manages WebSocket connections and broadcasts events to
// them. The web process feeds it verifier cycle events picked up from
// the notify directory.
type WebSocketHub struct {
	allowedOrigins map[string]bool
	originPatterns []string

	clients    map[clientInterface]bool
	broadcast  chan interface{}
	register   chan clientInterface
	unregister chan clientInterface
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
}

// clientInterface allows for both real clients and mock clients.
type clientInterface interface {
	getSendChannel() chan []byte
	close()
}

// Client represents a WebSocket connection.
type Client struct {
	hub  *WebSocketHub
	conn *websocket.Conn
	send chan []byte
}

func (c *Client) getSendChannel() chan []byte {
	return c.send
}

func (c *Client) close() {
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}
}

// NewWebSocketHub creates a hub accepting connections from the given
// origin hosts (e.g. "localhost:6470").
func NewWebSocketHub(originHosts ...string) *WebSocketHub {
	ctx, cancel := context.WithCancel(context.Background())
	allowed := make(map[string]bool, len(originHosts)*2)
	for _, h := range originHosts {
		allowed["http://"+h] = true
		allowed["https://"+h] = true
	}
	return &WebSocketHub{
		allowedOrigins: allowed,
		originPatterns: originHosts,
		clients:        make(map[clientInterface]bool),
		broadcast:      make(chan interface{}, 256),
		register:       make(chan clientInterface),
		unregister:     make(chan clientInterface),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Run starts the hub's message processing loop.
func (h *WebSocketHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("handlers: websocket client connected (total: %d)", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.getSendChannel())
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("handlers: websocket client disconnected (total: %d)", count)

		case message := <-h.broadcast:
			// Full Lock because the default branch may delete from the map.
			h.mu.Lock()
			data, err := json.Marshal(message)
			if err != nil {
				log.Printf("handlers: failed to marshal websocket message: %v", err)
				h.mu.Unlock()
				continue
			}

			for client := range h.clients {
				sendChan := client.getSendChannel()
				select {
				case sendChan <- data:
				default:
					// Client's send channel is full, disconnect them
					close(sendChan)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			log.Println("handlers: websocket hub stopping")
			return
		}
	}
}

// Stop gracefully shuts down the hub.
func (h *WebSocketHub) Stop() {
	h.cancel()

	h.mu.Lock()
	for client := range h.clients {
		close(client.getSendChannel())
		client.close()
	}
	h.clients = make(map[clientInterface]bool)
	h.mu.Unlock()
}

// Broadcast sends a message to all connected clients.
func (h *WebSocketHub) Broadcast(message interface{}) {
	select {
	case h.broadcast <- message:
	default:
		log.Println("handlers: websocket broadcast channel full, dropping message")
	}
}

// Register adds a client to the hub.
func (h *WebSocketHub) Register(client clientInterface) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *WebSocketHub) Unregister(client clientInterface) {
	h.unregister <- client
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *WebSocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin != "" && len(h.allowedOrigins) > 0 && !h.allowedOrigins[origin] {
		http.Error(w, "Forbidden: invalid origin", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		log.Printf("handlers: websocket upgrade failed: %v", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}

	h.Register(client)

	go client.writePump()
	go client.readPump()
}

// writePump sends messages to the WebSocket connection.
func (c *Client) writePump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for message := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, message)
		cancel()

		if err != nil {
			log.Printf("handlers: websocket write failed: %v", err)
			return
		}
	}
}

// readPump drains messages from the connection to detect disconnects.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		if _, _, err := c.conn.Read(context.Background()); err != nil {
			return
		}
	}
}

// MockClient is a mock client for testing.
type MockClient struct {
	SendChan chan []byte
}

func (m *MockClient) getSendChannel() chan []byte {
	return m.SendChan
}

func (m *MockClient) close() {}
