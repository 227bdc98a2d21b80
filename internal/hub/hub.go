package hub

import (
	"sync"

	"github.com/weiawesome/wes-io-live/messenger-service/internal/config"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/presence"
	pkglog "github.com/weiawesome/wes-io-live/messenger-service/pkg/log"
)

// Hub owns every live client, including connections that were superseded in
// the presence registry but have not disconnected yet, and the chat rooms
// they joined.
type Hub struct {
	clients    map[string]*Client
	rooms      map[string]map[string]presence.Conn // chatID -> connID -> conn
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	config     config.WebSocketConfig
}

// NewHub creates a new Hub.
func NewHub(cfg config.WebSocketConfig) *Hub {
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = 256
	}
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]presence.Conn),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		stop:       make(chan struct{}),
		config:     cfg,
	}
}

// Run processes registrations until Stop is called.
func (h *Hub) Run() {
	l := pkglog.L()
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID()] = client
			h.mu.Unlock()
			l.Debug().Str(pkglog.FieldConnID, client.ID()).Str(pkglog.FieldUserID, client.UserID()).Msg("client registered")

		case client := <-h.unregister:
			h.remove(client)
			l.Debug().Str(pkglog.FieldConnID, client.ID()).Msg("client unregistered")

		case <-h.stop:
			return
		}
	}
}

// Stop closes every client and ends Run.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
		h.mu.RLock()
		clients := make([]*Client, 0, len(h.clients))
		for _, c := range h.clients {
			clients = append(clients, c)
		}
		h.mu.RUnlock()
		for _, c := range clients {
			c.Close()
		}
	})
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.stop:
		client.Close()
	}
}

// Unregister removes a client from the hub and all its rooms.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stop:
		h.remove(client)
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for chatID, members := range h.rooms {
		delete(members, client.ID())
		if len(members) == 0 {
			delete(h.rooms, chatID)
		}
	}
	delete(h.clients, client.ID())
}

// JoinRoom adds a connection to a chat room.
func (h *Hub) JoinRoom(chatID string, conn presence.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[chatID]; !ok {
		h.rooms[chatID] = make(map[string]presence.Conn)
	}
	h.rooms[chatID][conn.ID()] = conn
}

// LeaveRoom removes a connection from a chat room.
func (h *Hub) LeaveRoom(chatID string, conn presence.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.rooms[chatID]; ok {
		delete(members, conn.ID())
		if len(members) == 0 {
			delete(h.rooms, chatID)
		}
	}
}

// RoomMembers returns the connections that joined chatID.
func (h *Hub) RoomMembers(chatID string) []presence.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := h.rooms[chatID]
	conns := make([]presence.Conn, 0, len(members))
	for _, c := range members {
		conns = append(conns, c)
	}
	return conns
}

// ConnsOf returns every client of userID, superseded ones included.
func (h *Hub) ConnsOf(userID string) []presence.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var conns []presence.Conn
	for _, c := range h.clients {
		if c.UserID() == userID {
			conns = append(conns, c)
		}
	}
	return conns
}

// ClientCount returns the number of live clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
