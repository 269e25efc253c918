package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agromarket/internal/domain/entity"
)

// fakeAuthorizer admits only the users listed for each conversation.
type fakeAuthorizer struct {
	rooms map[string][]string
	err   error
}

func (a *fakeAuthorizer) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	if a.err != nil {
		return false, a.err
	}
	for _, id := range a.rooms[conversationID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func newTestClient(userID string) *Client {
	return &Client{UserID: userID, Send: make(chan []byte, 8)}
}

func receiveEvent(t *testing.T, client *Client) Event {
	t.Helper()
	select {
	case payload := <-client.Send:
		var event Event
		require.NoError(t, json.Unmarshal(payload, &event))
		return event
	case <-time.After(time.Second):
		t.Fatal("expected an event, got none")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, client *Client) {
	t.Helper()
	select {
	case payload := <-client.Send:
		t.Fatalf("expected no event, got %s", payload)
	default:
	}
}

func TestJoinRoomIdempotent(t *testing.T) {
	m := NewManager()
	client := newTestClient("alice")

	m.JoinRoom("conv-1", client)
	m.JoinRoom("conv-1", client)

	assert.Equal(t, 1, m.RoomSize("conv-1"))
}

func TestLeaveRoomNonMember(t *testing.T) {
	m := NewManager()
	member := newTestClient("alice")
	stranger := newTestClient("bob")

	m.JoinRoom("conv-1", member)
	m.LeaveRoom("conv-1", stranger)
	m.LeaveRoom("conv-2", stranger)

	assert.Equal(t, 1, m.RoomSize("conv-1"))
}

func TestBroadcastReachesOnlyJoinedConnections(t *testing.T) {
	m := NewManager()
	joined := newTestClient("alice")
	notJoined := newTestClient("bob")

	m.JoinRoom("conv-1", joined)

	m.BroadcastToRoom("conv-1", []byte(`{"type":"new-message"}`))

	event := receiveEvent(t, joined)
	assert.Equal(t, EventNewMessage, event.Type)
	assertNoEvent(t, notJoined)
}

func TestBroadcastToRoomExcept(t *testing.T) {
	m := NewManager()
	sender := newTestClient("alice")
	other := newTestClient("bob")

	m.JoinRoom("conv-1", sender)
	m.JoinRoom("conv-1", other)

	m.BroadcastToRoomExcept("conv-1", sender, []byte(`{"type":"typing"}`))

	event := receiveEvent(t, other)
	assert.Equal(t, EventTyping, event.Type)
	assertNoEvent(t, sender)
}

func TestHandleJoinRoomAuthorization(t *testing.T) {
	m := NewManager()
	m.SetAuthorizer(&fakeAuthorizer{rooms: map[string][]string{
		"conv-1": {"alice", "bob"},
	}})

	payload := func(conversationID string) []byte {
		data, _ := json.Marshal(roomEventData{ConversationID: conversationID})
		raw, _ := json.Marshal(Event{Type: EventJoinRoom, Data: data, Timestamp: timestamp()})
		return raw
	}

	participant := newTestClient("alice")
	m.HandleClientEvent(participant, payload("conv-1"))
	assert.Equal(t, 1, m.RoomSize("conv-1"))
	assertNoEvent(t, participant)

	outsider := newTestClient("mallory")
	m.HandleClientEvent(outsider, payload("conv-1"))
	assert.Equal(t, 1, m.RoomSize("conv-1"), "denied join must not grow the room")

	event := receiveEvent(t, outsider)
	assert.Equal(t, EventError, event.Type)
}

func TestHandleJoinRoomMissingConversationID(t *testing.T) {
	m := NewManager()
	client := newTestClient("alice")

	raw, _ := json.Marshal(Event{Type: EventJoinRoom, Data: json.RawMessage(`{}`), Timestamp: timestamp()})
	m.HandleClientEvent(client, raw)

	event := receiveEvent(t, client)
	assert.Equal(t, EventError, event.Type)
}

func TestHandleTypingExcludesSender(t *testing.T) {
	m := NewManager()
	sender := newTestClient("alice")
	other := newTestClient("bob")
	m.JoinRoom("conv-1", sender)
	m.JoinRoom("conv-1", other)

	data, _ := json.Marshal(roomEventData{ConversationID: "conv-1"})
	raw, _ := json.Marshal(Event{Type: EventTyping, Data: data, Timestamp: timestamp()})
	m.HandleClientEvent(sender, raw)

	event := receiveEvent(t, other)
	assert.Equal(t, EventTyping, event.Type)

	var typing typingEventData
	require.NoError(t, json.Unmarshal(event.Data, &typing))
	assert.Equal(t, "conv-1", typing.ConversationID)
	assert.Equal(t, "alice", typing.UserID)

	assertNoEvent(t, sender)
}

func TestHandlePing(t *testing.T) {
	m := NewManager()
	client := newTestClient("alice")

	m.HandleClientEvent(client, []byte(`{"type":"ping"}`))

	event := receiveEvent(t, client)
	assert.Equal(t, EventPong, event.Type)
	assert.NotEmpty(t, event.Timestamp)
}

func TestHandleUnknownEvent(t *testing.T) {
	m := NewManager()
	client := newTestClient("alice")

	m.HandleClientEvent(client, []byte(`{"type":"self-destruct"}`))

	event := receiveEvent(t, client)
	assert.Equal(t, EventError, event.Type)
}

func TestBroadcastNewMessagePayload(t *testing.T) {
	m := NewManager()
	client := newTestClient("bob")
	m.JoinRoom("conv-1", client)

	message, err := entity.NewTextMessage("conv-1", "alice", "Hello")
	require.NoError(t, err)
	m.BroadcastNewMessage("conv-1", message)

	event := receiveEvent(t, client)
	require.Equal(t, EventNewMessage, event.Type)

	var data newMessageData
	require.NoError(t, json.Unmarshal(event.Data, &data))
	assert.Equal(t, "conv-1", data.ConversationID)
	require.NotNil(t, data.Message)
	assert.Equal(t, "Hello", data.Message.Content)
	assert.Equal(t, "alice", data.Message.SenderID)
}

func TestBroadcastNegotiationUpdatePayload(t *testing.T) {
	m := NewManager()
	client := newTestClient("bob")
	m.JoinRoom("conv-1", client)

	confirmation, err := entity.NewTextMessage("conv-1", "alice", "Counter offer for Tomatoes at 28.00")
	require.NoError(t, err)
	m.BroadcastNegotiationUpdate("conv-1", "msg-1", entity.NegotiationStatusCounter, 28, confirmation)

	event := receiveEvent(t, client)
	require.Equal(t, EventNegotiationUpdate, event.Type)

	var data negotiationUpdateData
	require.NoError(t, json.Unmarshal(event.Data, &data))
	assert.Equal(t, "msg-1", data.MessageID)
	assert.Equal(t, entity.NegotiationStatusCounter, data.Status)
	assert.Equal(t, 28.0, data.CounterPrice)
}

func TestRegisterAndUnregister(t *testing.T) {
	m := NewManager()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	client := newTestClient("alice")
	m.Register <- client

	require.Eventually(t, func() bool {
		m.mutex.RLock()
		defer m.mutex.RUnlock()
		return m.clients[client]
	}, time.Second, 5*time.Millisecond)

	m.JoinRoom("conv-1", client)
	m.Unregister <- client

	require.Eventually(t, func() bool {
		return m.RoomSize("conv-1") == 0
	}, time.Second, 5*time.Millisecond)

	_, open := <-client.Send
	assert.False(t, open, "send channel is closed exactly once on unregister")
}

func TestSlowClientIsDropped(t *testing.T) {
	m := NewManager()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	client := &Client{UserID: "alice", Send: make(chan []byte, 1)}
	m.Register <- client

	require.Eventually(t, func() bool {
		m.mutex.RLock()
		defer m.mutex.RUnlock()
		return m.clients[client]
	}, time.Second, 5*time.Millisecond)

	m.JoinRoom("conv-1", client)

	// Nobody drains the buffer; the second broadcast overflows it.
	for i := 0; i < 2; i++ {
		m.BroadcastToRoom("conv-1", []byte(fmt.Sprintf(`{"type":"new-message","seq":%d}`, i)))
	}

	assert.Equal(t, 0, m.RoomSize("conv-1"))
	<-client.Send
	_, open := <-client.Send
	assert.False(t, open, "overflowing client's channel is closed after the drop")
}

func TestLateEventAfterDropIsIgnored(t *testing.T) {
	m := NewManager()
	client := &Client{UserID: "alice", Send: make(chan []byte, 1)}
	m.JoinRoom("conv-1", client)

	// Overflow the buffer so the broadcast path drops and closes the client.
	m.BroadcastToRoom("conv-1", []byte(`{"type":"new-message"}`))
	m.BroadcastToRoom("conv-1", []byte(`{"type":"new-message"}`))
	assert.Equal(t, 0, m.RoomSize("conv-1"))

	// The read loop may still dispatch events after the drop; they must be
	// discarded, never sent on the closed channel.
	m.HandleClientEvent(client, []byte(`{"type":"ping"}`))
	m.HandleClientEvent(client, []byte(`{"type":"self-destruct"}`))

	<-client.Send
	_, open := <-client.Send
	assert.False(t, open)
}

func TestShutdownClosesAllClients(t *testing.T) {
	m := NewManager()
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)

	client := newTestClient("alice")
	m.Register <- client

	require.Eventually(t, func() bool {
		m.mutex.RLock()
		defer m.mutex.RUnlock()
		return m.clients[client]
	}, time.Second, 5*time.Millisecond)

	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, open := <-client.Send:
			return !open
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}
