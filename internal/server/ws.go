package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"lockstep/internal/tasks"
)

// hub fans task runner events out to websocket clients. Clients only
// listen; the feed is one-way.
type hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*wsClient
	closed  bool
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

func newHub() *hub {
	return &hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*wsClient),
	}
}

// handleTasksWS upgrades the connection and registers the client.
func (h *hub) handleTasksWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Server] websocket upgrade error: %v", err)
		return
	}

	client := &wsClient{
		id:   fmt.Sprintf("client_%d", time.Now().UnixNano()),
		conn: conn,
		send: make(chan []byte, 256),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[client.id] = client
	h.mu.Unlock()

	log.Printf("[Server] task feed client connected: %s", client.id)

	go h.handleClientWrite(client)
	go h.handleClientRead(client)
}

// handleClientRead drains inbound frames so close handshakes work. The
// feed carries no client commands.
func (h *hub) handleClientRead(client *wsClient) {
	defer func() {
		h.mu.Lock()
		if _, ok := h.clients[client.id]; ok {
			delete(h.clients, client.id)
			close(client.send)
		}
		h.mu.Unlock()

		client.conn.Close()
		log.Printf("[Server] task feed client disconnected: %s", client.id)
	}()

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[Server] websocket read error from %s: %v", client.id, err)
			}
			return
		}
	}
}

// handleClientWrite pushes queued events to one client.
func (h *hub) handleClientWrite(client *wsClient) {
	defer client.conn.Close()

	for {
		message, ok := <-client.send
		if !ok {
			client.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
		if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			log.Printf("[Server] websocket write error: %v", err)
			return
		}
	}
}

// run broadcasts runner events until ctx is cancelled or the event
// channel closes.
func (h *hub) run(ctx context.Context, events <-chan tasks.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Printf("[Server] marshal task event: %v", err)
				continue
			}
			h.broadcast(data)
		}
	}
}

func (h *hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for id, client := range h.clients {
		select {
		case client.send <- data:
		default:
			log.Printf("[Server] client %s send buffer full, dropping event", id)
		}
	}
}

// closeAll disconnects every client and refuses new ones.
func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, client := range h.clients {
		close(client.send)
		delete(h.clients, id)
	}
}
