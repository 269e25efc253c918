package usecase

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"agromarket/internal/domain/entity"
	"agromarket/internal/domain/repository"
	"agromarket/internal/infrastructure/ratelimit"
	"agromarket/pkg/errors"
	"agromarket/pkg/logger"
)

// Broadcaster fans events out to the room of a conversation. Delivery is
// best-effort at-most-once: disconnected clients recover state by re-fetching
// the conversation, so broadcast failures never fail the originating request.
type Broadcaster interface {
	BroadcastNewMessage(conversationID string, message *entity.Message)
	BroadcastNegotiationUpdate(conversationID, messageID string, status entity.NegotiationStatus, counterPrice float64, message *entity.Message)
}

// ChatUseCase orchestrates the conversation store, the negotiation state
// machine and the broadcast layer. Every durable write completes before the
// corresponding broadcast fires.
type ChatUseCase struct {
	conversationRepo repository.ConversationRepository
	userRepo         repository.UserRepository
	productRepo      repository.ProductRepository
	broadcaster      Broadcaster
	rateLimiter      *ratelimit.RateLimiter
	createGroup      singleflight.Group
}

func NewChatUseCase(
	conversationRepo repository.ConversationRepository,
	userRepo repository.UserRepository,
	productRepo repository.ProductRepository,
	broadcaster Broadcaster,
) *ChatUseCase {
	rateLimiter := ratelimit.NewRateLimiter()
	rateLimiter.StartCleanupRoutine()

	return &ChatUseCase{
		conversationRepo: conversationRepo,
		userRepo:         userRepo,
		productRepo:      productRepo,
		broadcaster:      broadcaster,
		rateLimiter:      rateLimiter,
	}
}

type StartConversationInput struct {
	ParticipantID string
}

type SendMessageInput struct {
	ConversationID string
	Content        string
	Type           entity.MessageType
	AttachmentURL  string
}

type OpenOfferInput struct {
	ConversationID string
	ProductID      string
	ProposedPrice  float64
	Quantity       int
}

type RespondToOfferInput struct {
	ConversationID string
	MessageID      string
	Status         entity.NegotiationStatus
	CounterPrice   float64
}

type ConversationSummary struct {
	*entity.Conversation
	OtherUser   *entity.User `json:"other_user,omitempty"`
	UnreadCount int          `json:"unread_count"`
}

type ConversationDetail struct {
	*entity.Conversation
	Messages  []*entity.Message `json:"messages"`
	OtherUser *entity.User      `json:"other_user,omitempty"`
}

type MessageResponse struct {
	*entity.Message
	Sender *entity.User `json:"sender,omitempty"`
}

// StartConversation returns the singleton conversation between the caller and
// the given participant, creating it when it does not exist. Safe to retry.
func (uc *ChatUseCase) StartConversation(ctx context.Context, userID string, input StartConversationInput) (*ConversationSummary, error) {
	if allowed, wait := uc.rateLimiter.Allow(userID, "start_conversation"); !allowed {
		logger.Warn("StartConversation rate limited: user %s must wait %v", userID, wait)
		return nil, errors.TooManyRequests("Too many new conversations. Please wait before starting another")
	}

	if userID == input.ParticipantID {
		return nil, errors.BadRequest("You cannot start a conversation with yourself", nil)
	}

	other, err := uc.userRepo.GetByID(ctx, input.ParticipantID)
	if err != nil {
		return nil, err
	}

	// singleflight collapses concurrent in-process calls for the same pair;
	// the store's create precondition closes the cross-process race.
	key := entity.PairKey(userID, input.ParticipantID)
	result, err, _ := uc.createGroup.Do(key, func() (interface{}, error) {
		return uc.conversationRepo.GetOrCreate(ctx, userID, input.ParticipantID)
	})
	if err != nil {
		return nil, err
	}
	conversation := result.(*entity.Conversation)

	unread, err := uc.conversationRepo.CountUnread(ctx, conversation.ID, userID)
	if err != nil {
		logger.Warn("StartConversation: failed to count unread for %s: %v", conversation.ID, err)
		unread = 0
	}

	return &ConversationSummary{
		Conversation: conversation,
		OtherUser:    other,
		UnreadCount:  unread,
	}, nil
}

// ListConversations returns the caller's conversations sorted by most recent
// activity, with unread counts computed from message read flags.
func (uc *ChatUseCase) ListConversations(ctx context.Context, userID string, limit, offset int) ([]*ConversationSummary, int64, error) {
	conversations, total, err := uc.conversationRepo.ListByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	summaries := make([]*ConversationSummary, 0, len(conversations))
	for _, conversation := range conversations {
		summary := &ConversationSummary{Conversation: conversation}

		if otherID := conversation.OtherParticipant(userID); otherID != "" {
			if other, err := uc.userRepo.GetByID(ctx, otherID); err == nil {
				summary.OtherUser = other
			}
		}

		unread, err := uc.conversationRepo.CountUnread(ctx, conversation.ID, userID)
		if err != nil {
			logger.Warn("ListConversations: failed to count unread for %s: %v", conversation.ID, err)
		}
		summary.UnreadCount = unread

		summaries = append(summaries, summary)
	}

	return summaries, total, nil
}

// GetConversation fetches a conversation with full history. Read-receipt
// accounting runs first: every unread message not authored by the requester
// is stamped read before the history is returned, so the requester always
// sees the state they just acknowledged.
func (uc *ChatUseCase) GetConversation(ctx context.Context, userID, conversationID string) (*ConversationDetail, error) {
	conversation, err := uc.authorizeParticipant(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	if _, err := uc.conversationRepo.MarkMessagesRead(ctx, conversationID, userID, time.Now()); err != nil {
		return nil, err
	}

	messages, _, err := uc.conversationRepo.ListMessages(ctx, conversationID, 0, 0)
	if err != nil {
		return nil, err
	}

	detail := &ConversationDetail{
		Conversation: conversation,
		Messages:     messages,
	}
	if otherID := conversation.OtherParticipant(userID); otherID != "" {
		if other, err := uc.userRepo.GetByID(ctx, otherID); err == nil {
			detail.OtherUser = other
		}
	}

	return detail, nil
}

func (uc *ChatUseCase) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	if _, err := uc.authorizeParticipant(ctx, userID, conversationID); err != nil {
		return err
	}

	return uc.conversationRepo.Delete(ctx, conversationID)
}

func (uc *ChatUseCase) SendMessage(ctx context.Context, userID string, input SendMessageInput) (*MessageResponse, error) {
	if allowed, wait := uc.rateLimiter.Allow(userID, "send_message"); !allowed {
		logger.Warn("SendMessage rate limited: user %s must wait %v", userID, wait)
		return nil, errors.TooManyRequests("You are sending messages too quickly. Please slow down")
	}

	if _, err := uc.authorizeParticipant(ctx, userID, input.ConversationID); err != nil {
		return nil, err
	}

	var message *entity.Message
	var err error
	switch input.Type {
	case entity.MessageTypeImage:
		message, err = entity.NewImageMessage(input.ConversationID, userID, input.Content, input.AttachmentURL)
	case entity.MessageTypeFile:
		message, err = entity.NewFileMessage(input.ConversationID, userID, input.Content, input.AttachmentURL)
	case "", entity.MessageTypeText:
		message, err = entity.NewTextMessage(input.ConversationID, userID, input.Content)
	default:
		err = errors.Validation("Unsupported message type", nil)
	}
	if err != nil {
		return nil, err
	}

	if err := uc.conversationRepo.AppendMessage(ctx, input.ConversationID, message); err != nil {
		return nil, err
	}

	uc.broadcaster.BroadcastNewMessage(input.ConversationID, message)

	response := &MessageResponse{Message: message}
	if sender, err := uc.userRepo.GetByID(ctx, userID); err == nil {
		response.Sender = sender
	}

	return response, nil
}

// OpenOffer appends a pending negotiation message. Product name and prices
// are copied from the catalog at this moment and frozen into the offer.
func (uc *ChatUseCase) OpenOffer(ctx context.Context, userID string, input OpenOfferInput) (*MessageResponse, error) {
	if allowed, wait := uc.rateLimiter.Allow(userID, "open_offer"); !allowed {
		logger.Warn("OpenOffer rate limited: user %s must wait %v", userID, wait)
		return nil, errors.TooManyRequests("Too many offers. Please wait before making another")
	}

	if _, err := uc.authorizeParticipant(ctx, userID, input.ConversationID); err != nil {
		return nil, err
	}

	product, err := uc.productRepo.GetByID(ctx, input.ProductID)
	if err != nil {
		return nil, err
	}

	negotiation, err := entity.NewNegotiation(product, input.ProposedPrice, input.Quantity)
	if err != nil {
		return nil, err
	}

	message, err := entity.NewNegotiationMessage(input.ConversationID, userID, negotiation)
	if err != nil {
		return nil, err
	}

	if err := uc.conversationRepo.AppendMessage(ctx, input.ConversationID, message); err != nil {
		return nil, err
	}

	uc.broadcaster.BroadcastNewMessage(input.ConversationID, message)

	response := &MessageResponse{Message: message}
	if sender, err := uc.userRepo.GetByID(ctx, userID); err == nil {
		response.Sender = sender
	}

	return response, nil
}

// RespondToOffer applies the single allowed status transition to a pending
// negotiation message and appends a plain-text confirmation authored by the
// responder. The offer message itself is never replaced, so the history
// keeps both the offer and its outcome. The pending check and both writes
// run inside one storage transaction; concurrent responses serialize and
// the loser fails with INVALID_TRANSITION. The mutation is durably
// persisted before any broadcast fires.
func (uc *ChatUseCase) RespondToOffer(ctx context.Context, userID string, input RespondToOfferInput) (*ConversationDetail, error) {
	conversation, err := uc.authorizeParticipant(ctx, userID, input.ConversationID)
	if err != nil {
		return nil, err
	}

	updated, confirmation, err := uc.conversationRepo.RespondToMessage(ctx, input.ConversationID, input.MessageID,
		func(message *entity.Message) (*entity.Message, error) {
			if message.Type != entity.MessageTypeNegotiation || message.Negotiation == nil {
				return nil, errors.NotFound("Negotiation message", nil)
			}
			if message.SenderID == userID {
				return nil, errors.Forbidden("Only the offer recipient can respond to an offer", nil)
			}
			if err := message.Negotiation.Respond(userID, input.Status, input.CounterPrice); err != nil {
				return nil, err
			}
			return entity.NewTextMessage(input.ConversationID, userID, message.Negotiation.ResponseSummary())
		})
	if err != nil {
		return nil, err
	}

	uc.broadcaster.BroadcastNegotiationUpdate(
		input.ConversationID,
		updated.ID,
		updated.Negotiation.Status,
		updated.Negotiation.CounterPrice,
		confirmation,
	)

	messages, _, err := uc.conversationRepo.ListMessages(ctx, input.ConversationID, 0, 0)
	if err != nil {
		return nil, err
	}

	return &ConversationDetail{
		Conversation: conversation,
		Messages:     messages,
	}, nil
}

// IsParticipant reports whether userID belongs to the conversation. The
// realtime layer consults this before admitting a connection to a room.
func (uc *ChatUseCase) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	conversation, err := uc.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, "NOT_FOUND") {
			return false, nil
		}
		return false, err
	}
	return conversation.HasParticipant(userID), nil
}

func (uc *ChatUseCase) authorizeParticipant(ctx context.Context, userID, conversationID string) (*entity.Conversation, error) {
	conversation, err := uc.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if !conversation.HasParticipant(userID) {
		logger.Warn("User %s is not a participant in conversation %s", userID, conversationID)
		return nil, errors.Forbidden("You are not a participant in this conversation", nil)
	}

	return conversation, nil
}
