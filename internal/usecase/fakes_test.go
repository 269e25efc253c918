package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"agromarket/internal/domain/entity"
	"agromarket/pkg/errors"
)

// eventLog records persistence and broadcast side effects in the order they
// happen, so tests can assert that durable writes precede broadcasts.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) append(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	copy(out, l.events)
	return out
}

type fakeConversationRepo struct {
	mu            sync.Mutex
	conversations map[string]*entity.Conversation
	messages      map[string][]*entity.Message
	log           *eventLog
}

func newFakeConversationRepo(log *eventLog) *fakeConversationRepo {
	return &fakeConversationRepo{
		conversations: make(map[string]*entity.Conversation),
		messages:      make(map[string][]*entity.Message),
		log:           log,
	}
}

func copyMessage(m *entity.Message) *entity.Message {
	clone := *m
	if m.Negotiation != nil {
		neg := *m.Negotiation
		clone.Negotiation = &neg
	}
	if m.ReadAt != nil {
		at := *m.ReadAt
		clone.ReadAt = &at
	}
	return &clone
}

func (r *fakeConversationRepo) GetOrCreate(ctx context.Context, userA, userB string) (*entity.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := entity.PairKey(userA, userB)
	if conversation, ok := r.conversations[key]; ok {
		return conversation, nil
	}

	conversation := entity.NewConversation(userA, userB)
	r.conversations[key] = conversation
	return conversation, nil
}

func (r *fakeConversationRepo) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conversation, ok := r.conversations[id]
	if !ok {
		return nil, errors.NotFound("Conversation", nil)
	}
	return conversation, nil
}

func (r *fakeConversationRepo) ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*entity.Conversation, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*entity.Conversation
	for _, conversation := range r.conversations {
		if conversation.HasParticipant(userID) {
			result = append(result, conversation)
		}
	}
	for i := 0; i < len(result); i++ {
		for j := i + 1; j < len(result); j++ {
			if result[j].LastMessageAt.After(result[i].LastMessageAt) {
				result[i], result[j] = result[j], result[i]
			}
		}
	}
	return result, int64(len(result)), nil
}

func (r *fakeConversationRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conversations[id]; !ok {
		return errors.NotFound("Conversation", nil)
	}
	delete(r.conversations, id)
	delete(r.messages, id)
	return nil
}

func (r *fakeConversationRepo) AppendMessage(ctx context.Context, conversationID string, message *entity.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conversation, ok := r.conversations[conversationID]
	if !ok {
		return errors.NotFound("Conversation", nil)
	}

	r.messages[conversationID] = append(r.messages[conversationID], copyMessage(message))
	conversation.LastMessage = message.Content
	conversation.LastMessageAt = message.CreatedAt
	if message.Type == entity.MessageTypeNegotiation {
		conversation.Type = entity.ConversationTypeNegotiation
	}

	r.log.append("persist:" + message.ID)
	return nil
}

func (r *fakeConversationRepo) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*entity.Message, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := r.messages[conversationID]
	result := make([]*entity.Message, 0, len(stored))
	for _, message := range stored {
		result = append(result, copyMessage(message))
	}
	return result, int64(len(result)), nil
}

func (r *fakeConversationRepo) GetMessageByID(ctx context.Context, conversationID, messageID string) (*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, message := range r.messages[conversationID] {
		if message.ID == messageID {
			return copyMessage(message), nil
		}
	}
	return nil, errors.NotFound("Message", nil)
}

// RespondToMessage mirrors the store's transactional respond: the read, the
// respond callback and both writes happen under one lock, so a concurrent
// response observes the already-applied status.
func (r *fakeConversationRepo) RespondToMessage(ctx context.Context, conversationID, messageID string, respond func(*entity.Message) (*entity.Message, error)) (*entity.Message, *entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, stored := range r.messages[conversationID] {
		if stored.ID == messageID {
			message := copyMessage(stored)
			confirmation, err := respond(message)
			if err != nil {
				return nil, nil, err
			}

			r.messages[conversationID][i] = copyMessage(message)
			r.log.append("persist:" + message.ID)

			r.messages[conversationID] = append(r.messages[conversationID], copyMessage(confirmation))
			if conversation, ok := r.conversations[conversationID]; ok {
				conversation.LastMessage = confirmation.Content
				conversation.LastMessageAt = confirmation.CreatedAt
			}
			r.log.append("persist:" + confirmation.ID)

			return message, confirmation, nil
		}
	}
	return nil, nil, errors.NotFound("Message", nil)
}

func (r *fakeConversationRepo) MarkMessagesRead(ctx context.Context, conversationID, readerID string, readAt time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	marked := 0
	for _, message := range r.messages[conversationID] {
		if message.SenderID == readerID {
			continue
		}
		if message.MarkRead(readAt) {
			marked++
		}
	}
	r.log.append(fmt.Sprintf("markread:%d", marked))
	return marked, nil
}

func (r *fakeConversationRepo) CountUnread(ctx context.Context, conversationID, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, message := range r.messages[conversationID] {
		if !message.Read && message.SenderID != userID {
			count++
		}
	}
	return count, nil
}

type fakeUserRepo struct {
	users map[string]*entity.User
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id string) (*entity.User, error) {
	user, ok := r.users[id]
	if !ok {
		return nil, errors.NotFound("User", nil)
	}
	return user, nil
}

type fakeProductRepo struct {
	products map[string]*entity.Product
}

func (r *fakeProductRepo) GetByID(ctx context.Context, id string) (*entity.Product, error) {
	product, ok := r.products[id]
	if !ok {
		return nil, errors.NotFound("Product", nil)
	}
	return product, nil
}

// recordingBroadcaster captures fan-out calls in the shared event log.
type recordingBroadcaster struct {
	log *eventLog
}

func (b *recordingBroadcaster) BroadcastNewMessage(conversationID string, message *entity.Message) {
	b.log.append("broadcast:new-message:" + message.ID)
}

func (b *recordingBroadcaster) BroadcastNegotiationUpdate(conversationID, messageID string, status entity.NegotiationStatus, counterPrice float64, message *entity.Message) {
	b.log.append(fmt.Sprintf("broadcast:negotiation-update:%s:%s", messageID, status))
}
