package websocket

import (
	"context"
	"encoding/json"
	"time"

	"agromarket/internal/domain/entity"
	"agromarket/pkg/logger"
)

// Inbound event names.
const (
	EventJoinRoom   = "join-room"
	EventLeaveRoom  = "leave-room"
	EventTyping     = "typing"
	EventStopTyping = "stop-typing"
	EventPing       = "ping"
)

// Outbound event names. new-message and negotiation-update are distinct so
// clients can tell a plain message apart from a negotiation state change
// without parsing the payload shape.
const (
	EventNewMessage        = "new-message"
	EventNegotiationUpdate = "negotiation-update"
	EventPong              = "pong"
	EventError             = "error"
)

type Event struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"`
}

type roomEventData struct {
	ConversationID string `json:"conversation_id"`
}

type typingEventData struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

type newMessageData struct {
	ConversationID string          `json:"conversation_id"`
	Message        *entity.Message `json:"message"`
}

type negotiationUpdateData struct {
	ConversationID string                   `json:"conversation_id"`
	MessageID      string                   `json:"message_id"`
	Status         entity.NegotiationStatus `json:"status"`
	CounterPrice   float64                  `json:"counter_price,omitempty"`
	Message        *entity.Message          `json:"message"`
}

// HandleClientEvent dispatches one inbound event from a connection.
func (m *Manager) HandleClientEvent(client *Client, payload []byte) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		logger.Warn("Invalid event from client %s: %v", client.UserID, err)
		m.sendError(client, "Invalid event format")
		return
	}

	switch event.Type {
	case EventPing:
		m.sendToClient(client, Event{Type: EventPong, Timestamp: timestamp()})

	case EventJoinRoom:
		m.handleJoinRoom(client, event.Data)

	case EventLeaveRoom:
		m.handleLeaveRoom(client, event.Data)

	case EventTyping:
		m.handleTyping(client, event.Data, EventTyping)

	case EventStopTyping:
		m.handleTyping(client, event.Data, EventStopTyping)

	default:
		logger.Warn("Unknown event type %q from client %s", event.Type, client.UserID)
		m.sendError(client, "Unknown event type")
	}
}

// handleJoinRoom admits the connection only after verifying the user is a
// participant of the target conversation.
func (m *Manager) handleJoinRoom(client *Client, data json.RawMessage) {
	var join roomEventData
	if err := json.Unmarshal(data, &join); err != nil || join.ConversationID == "" {
		m.sendError(client, "Missing conversation_id")
		return
	}

	if m.authorizer != nil {
		ok, err := m.authorizer.IsParticipant(context.Background(), join.ConversationID, client.UserID)
		if err != nil {
			logger.Error("Room authorization failed for user %s on %s: %v", client.UserID, join.ConversationID, err)
			m.sendError(client, "Failed to verify room access")
			return
		}
		if !ok {
			logger.Warn("User %s denied access to room %s", client.UserID, join.ConversationID)
			m.sendError(client, "You are not a participant in this conversation")
			return
		}
	}

	m.JoinRoom(join.ConversationID, client)
	logger.Debug("Client %s joined room %s", client.UserID, join.ConversationID)
}

func (m *Manager) handleLeaveRoom(client *Client, data json.RawMessage) {
	var leave roomEventData
	if err := json.Unmarshal(data, &leave); err != nil || leave.ConversationID == "" {
		m.sendError(client, "Missing conversation_id")
		return
	}

	m.LeaveRoom(leave.ConversationID, client)
	logger.Debug("Client %s left room %s", client.UserID, leave.ConversationID)
}

// handleTyping relays a transient typing signal to the rest of the room.
// Nothing is persisted and the sender never receives its own signal.
func (m *Manager) handleTyping(client *Client, data json.RawMessage, eventType string) {
	var typing roomEventData
	if err := json.Unmarshal(data, &typing); err != nil || typing.ConversationID == "" {
		m.sendError(client, "Missing conversation_id")
		return
	}

	payload, err := marshalEvent(eventType, typingEventData{
		ConversationID: typing.ConversationID,
		UserID:         client.UserID,
	})
	if err != nil {
		return
	}

	m.BroadcastToRoomExcept(typing.ConversationID, client, payload)
}

// BroadcastNewMessage implements usecase.Broadcaster.
func (m *Manager) BroadcastNewMessage(conversationID string, message *entity.Message) {
	payload, err := marshalEvent(EventNewMessage, newMessageData{
		ConversationID: conversationID,
		Message:        message,
	})
	if err != nil {
		logger.Error("Failed to marshal new-message event for %s: %v", conversationID, err)
		return
	}

	m.BroadcastToRoom(conversationID, payload)
}

// BroadcastNegotiationUpdate implements usecase.Broadcaster.
func (m *Manager) BroadcastNegotiationUpdate(conversationID, messageID string, status entity.NegotiationStatus, counterPrice float64, message *entity.Message) {
	payload, err := marshalEvent(EventNegotiationUpdate, negotiationUpdateData{
		ConversationID: conversationID,
		MessageID:      messageID,
		Status:         status,
		CounterPrice:   counterPrice,
		Message:        message,
	})
	if err != nil {
		logger.Error("Failed to marshal negotiation-update event for %s: %v", conversationID, err)
		return
	}

	m.BroadcastToRoom(conversationID, payload)
}

func (m *Manager) sendToClient(client *Client, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}

	if !client.trySend(payload) {
		logger.Warn("Client %s send buffer full, dropping connection", client.UserID)
		m.removeClient(client)
		client.closeSend()
	}
}

func (m *Manager) sendError(client *Client, message string) {
	data, _ := json.Marshal(map[string]string{"error": message})
	m.sendToClient(client, Event{Type: EventError, Data: data, Timestamp: timestamp()})
}

func marshalEvent(eventType string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Event{Type: eventType, Data: raw, Timestamp: timestamp()})
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
