package websocket

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"agromarket/pkg/logger"
)

// Client represents one WebSocket connection. A user with two browser tabs
// open holds two clients; room membership is tracked per connection.
type Client struct {
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	mu     sync.Mutex
	closed bool
}

// trySend queues payload without blocking. It reports false when the client
// is already closed or its buffer is full.
func (c *Client) trySend(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.Send <- payload:
		return true
	default:
		return false
	}
}

// closeSend closes the send channel at most once. Sends and the close hold
// the same mutex, so a late event can never hit a closed channel.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// RoomAuthorizer decides whether a user may join a conversation's room.
type RoomAuthorizer interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

// Manager is the in-process broadcast layer: one room per conversation id,
// fan-out to currently connected members only. It is constructed once at
// startup, started with the process context and torn down when that context
// is cancelled. A single Manager serves a single process; running multiple
// instances requires an external pub/sub backplane.
type Manager struct {
	clients    map[*Client]bool
	rooms      map[string]map[*Client]bool
	Register   chan *Client
	Unregister chan *Client
	authorizer RoomAuthorizer
	mutex      sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// SetAuthorizer wires the participant check used on room joins. Set once
// during startup, before any connection is accepted.
func (m *Manager) SetAuthorizer(authorizer RoomAuthorizer) {
	m.authorizer = authorizer
}

// Start runs the manager's main loop in a goroutine until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case client := <-m.Register:
				m.mutex.Lock()
				m.clients[client] = true
				m.mutex.Unlock()
				logger.Info("Client registered: %s", client.UserID)

			case client := <-m.Unregister:
				m.removeClient(client)
				client.closeSend()
				logger.Info("Client unregistered: %s", client.UserID)

			case <-ctx.Done():
				m.mutex.Lock()
				for client := range m.clients {
					client.closeSend()
					delete(m.clients, client)
				}
				m.rooms = make(map[string]map[*Client]bool)
				m.mutex.Unlock()
				return
			}
		}
	}()
}

// JoinRoom adds a connection to a conversation's room. Joining a room twice
// is a no-op.
func (m *Manager) JoinRoom(conversationID string, client *Client) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	room, ok := m.rooms[conversationID]
	if !ok {
		room = make(map[*Client]bool)
		m.rooms[conversationID] = room
	}
	room[client] = true
}

// LeaveRoom removes a connection from a room. Leaving a room the connection
// never joined is a no-op.
func (m *Manager) LeaveRoom(conversationID string, client *Client) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	room, ok := m.rooms[conversationID]
	if !ok {
		return
	}
	delete(room, client)
	if len(room) == 0 {
		delete(m.rooms, conversationID)
	}
}

// RoomSize reports how many connections are joined to a room.
func (m *Manager) RoomSize(conversationID string) int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.rooms[conversationID])
}

// BroadcastToRoom delivers payload to every connection joined to the room.
// Delivery is best-effort: a client whose send buffer is full is dropped
// rather than blocking the broadcast.
func (m *Manager) BroadcastToRoom(conversationID string, payload []byte) {
	m.broadcast(conversationID, payload, nil)
}

// BroadcastToRoomExcept is BroadcastToRoom minus one connection, used for
// transient signals like typing indicators.
func (m *Manager) BroadcastToRoomExcept(conversationID string, except *Client, payload []byte) {
	m.broadcast(conversationID, payload, except)
}

func (m *Manager) broadcast(conversationID string, payload []byte, except *Client) {
	m.mutex.RLock()
	room := m.rooms[conversationID]
	members := make([]*Client, 0, len(room))
	for client := range room {
		if client != except {
			members = append(members, client)
		}
	}
	m.mutex.RUnlock()

	for _, client := range members {
		if !client.trySend(payload) {
			logger.Warn("Client %s send buffer full, dropping connection", client.UserID)
			m.removeClient(client)
			client.closeSend()
		}
	}
}

// removeClient detaches a connection from the manager and every room. The
// send channel is closed separately via closeSend, which is idempotent.
func (m *Manager) removeClient(client *Client) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	delete(m.clients, client)
	for conversationID, room := range m.rooms {
		delete(room, client)
		if len(room) == 0 {
			delete(m.rooms, conversationID)
		}
	}
}

// ReadPump reads inbound events from the connection and dispatches them
// until the peer goes away.
func (c *Client) ReadPump(m *Manager) {
	defer func() {
		m.Unregister <- c
		c.Conn.Close()
	}()

	for {
		_, payload, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("Read error for client %s: %v", c.UserID, err)
			}
			break
		}

		m.HandleClientEvent(c, payload)
	}
}

// WritePump drains the send channel onto the connection.
func (c *Client) WritePump() {
	defer c.Conn.Close()

	for {
		payload, ok := <-c.Send
		if !ok {
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}

		if err := c.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			logger.Warn("Write error for client %s: %v", c.UserID, err)
			return
		}
	}
}
