package repository

import (
	"context"
	"time"

	"agromarket/internal/domain/entity"
)

type ConversationRepository interface {
	// GetOrCreate returns the singleton conversation for an unordered user
	// pair, creating it when absent. Safe under concurrent invocation.
	GetOrCreate(ctx context.Context, userA, userB string) (*entity.Conversation, error)
	GetByID(ctx context.Context, id string) (*entity.Conversation, error)
	ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*entity.Conversation, int64, error)
	Delete(ctx context.Context, id string) error

	// AppendMessage durably records a message, refreshes the conversation's
	// lastMessage preview and flips the conversation type to negotiation when
	// the message carries one. Appends on the same conversation never
	// overwrite each other.
	AppendMessage(ctx context.Context, conversationID string, message *entity.Message) error
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*entity.Message, int64, error)
	GetMessageByID(ctx context.Context, conversationID, messageID string) (*entity.Message, error)

	// RespondToMessage atomically applies respond to the stored message and
	// appends the confirmation it returns in the same commit. The message is
	// re-read inside the transaction, so two concurrent responses serialize
	// and the loser observes the already-applied status. The respond callback
	// may run more than once if the transaction retries.
	RespondToMessage(ctx context.Context, conversationID, messageID string, respond func(*entity.Message) (*entity.Message, error)) (*entity.Message, *entity.Message, error)

	// MarkMessagesRead stamps every unread message not authored by readerID
	// and reports how many were mutated. Idempotent.
	MarkMessagesRead(ctx context.Context, conversationID, readerID string, readAt time.Time) (int, error)
	CountUnread(ctx context.Context, conversationID, userID string) (int, error)
}
