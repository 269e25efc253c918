package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"agromarket/internal/domain/entity"
	"agromarket/internal/domain/repository"
	"agromarket/pkg/errors"
	"agromarket/pkg/logger"
)

// Firestore rejects write batches above this many operations.
const maxBatchWrites = 500

// batchSpans splits n writes into [start, end) spans no larger than
// maxBatchWrites.
func batchSpans(n int) [][2]int {
	var spans [][2]int
	for start := 0; start < n; start += maxBatchWrites {
		end := start + maxBatchWrites
		if end > n {
			end = n
		}
		spans = append(spans, [2]int{start, end})
	}
	return spans
}

type firestoreConversationRepository struct {
	client *firestore.Client
}

func NewFirestoreConversationRepository(client *firestore.Client) repository.ConversationRepository {
	return &firestoreConversationRepository{
		client: client,
	}
}

func (r *firestoreConversationRepository) conversations() *firestore.CollectionRef {
	return r.client.Collection("conversations")
}

func (r *firestoreConversationRepository) messages(conversationID string) *firestore.CollectionRef {
	return r.conversations().Doc(conversationID).Collection("messages")
}

// GetOrCreate relies on the deterministic pair-key document id: Create fails
// with AlreadyExists when another caller won the race, in which case the
// existing document is returned. Two concurrent calls can never produce two
// conversations for the same pair.
func (r *firestoreConversationRepository) GetOrCreate(ctx context.Context, userA, userB string) (*entity.Conversation, error) {
	docRef := r.conversations().Doc(entity.PairKey(userA, userB))

	doc, err := docRef.Get(ctx)
	if err == nil {
		return parseConversation(doc)
	}
	if status.Code(err) != codes.NotFound {
		return nil, errors.StorageFailure("Failed to look up conversation", err)
	}

	conversation := entity.NewConversation(userA, userB)
	if _, err := docRef.Create(ctx, conversation); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			doc, err := docRef.Get(ctx)
			if err != nil {
				return nil, errors.StorageFailure("Failed to fetch conversation after create race", err)
			}
			return parseConversation(doc)
		}
		return nil, errors.StorageFailure("Failed to create conversation", err)
	}

	return conversation, nil
}

func (r *firestoreConversationRepository) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	doc, err := r.conversations().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Conversation", err)
		}
		return nil, errors.StorageFailure("Failed to get conversation", err)
	}

	return parseConversation(doc)
}

func (r *firestoreConversationRepository) ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*entity.Conversation, int64, error) {
	query := r.conversations().
		Where("participants", "array-contains", userID).
		OrderBy("lastMessageAt", firestore.Desc)

	allDocs, err := query.Documents(ctx).GetAll()
	if err != nil {
		logger.Error("Firestore error while fetching conversations for user %s: %v", userID, err)
		return nil, 0, errors.StorageFailure("Failed to fetch conversations", err)
	}

	total := int64(len(allDocs))

	start := offset
	if start > len(allDocs) {
		start = len(allDocs)
	}
	end := len(allDocs)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	var conversations []*entity.Conversation
	for i := start; i < end; i++ {
		conversation, err := parseConversation(allDocs[i])
		if err != nil {
			logger.Warn("Skipping malformed conversation document %s: %v", allDocs[i].Ref.ID, err)
			continue
		}
		conversations = append(conversations, conversation)
	}

	return conversations, total, nil
}

// Delete removes the message subcollection before the conversation document;
// Firestore does not cascade subcollection deletes.
func (r *firestoreConversationRepository) Delete(ctx context.Context, id string) error {
	docs, err := r.messages(id).Documents(ctx).GetAll()
	if err != nil {
		return errors.StorageFailure("Failed to list messages for deletion", err)
	}

	for _, span := range batchSpans(len(docs)) {
		batch := r.client.Batch()
		for _, doc := range docs[span[0]:span[1]] {
			batch.Delete(doc.Ref)
		}
		if _, err := batch.Commit(ctx); err != nil {
			return errors.StorageFailure("Failed to delete conversation messages", err)
		}
	}

	if _, err := r.conversations().Doc(id).Delete(ctx); err != nil {
		return errors.StorageFailure("Failed to delete conversation", err)
	}

	return nil
}

func (r *firestoreConversationRepository) AppendMessage(ctx context.Context, conversationID string, message *entity.Message) error {
	updates := []firestore.Update{
		{Path: "lastMessage", Value: message.Content},
		{Path: "lastMessageAt", Value: message.CreatedAt},
		{Path: "updatedAt", Value: time.Now()},
	}
	if message.Type == entity.MessageTypeNegotiation {
		updates = append(updates, firestore.Update{Path: "type", Value: entity.ConversationTypeNegotiation})
	}

	// Message create and preview update commit together; a failed append
	// leaves no partial state behind.
	batch := r.client.Batch()
	batch.Create(r.messages(conversationID).Doc(message.ID), message)
	batch.Update(r.conversations().Doc(conversationID), updates)

	if _, err := batch.Commit(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return errors.NotFound("Conversation", err)
		}
		return errors.StorageFailure("Failed to append message", err)
	}

	return nil
}

func (r *firestoreConversationRepository) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*entity.Message, int64, error) {
	query := r.messages(conversationID).OrderBy("createdAt", firestore.Asc)

	allDocs, err := query.Documents(ctx).GetAll()
	if err != nil {
		logger.Error("Firestore error while fetching messages for conversation %s: %v", conversationID, err)
		return nil, 0, errors.StorageFailure("Failed to fetch messages", err)
	}

	total := int64(len(allDocs))

	start := offset
	if start > len(allDocs) {
		start = len(allDocs)
	}
	end := len(allDocs)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	var messages []*entity.Message
	for i := start; i < end; i++ {
		var message entity.Message
		if err := allDocs[i].DataTo(&message); err != nil {
			return nil, 0, errors.StorageFailure("Failed to parse message data", err)
		}
		messages = append(messages, &message)
	}

	return messages, total, nil
}

func (r *firestoreConversationRepository) GetMessageByID(ctx context.Context, conversationID, messageID string) (*entity.Message, error) {
	doc, err := r.messages(conversationID).Doc(messageID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Message", err)
		}
		return nil, errors.StorageFailure("Failed to get message", err)
	}

	var message entity.Message
	if err := doc.DataTo(&message); err != nil {
		return nil, errors.StorageFailure("Failed to parse message data", err)
	}
	return &message, nil
}

// RespondToMessage runs the whole response inside a Firestore transaction:
// the message is re-read, mutated and written together with its confirmation
// and the conversation preview. Two concurrent responses can never both
// observe a pending offer, and a failed confirmation write rolls back the
// status change.
func (r *firestoreConversationRepository) RespondToMessage(ctx context.Context, conversationID, messageID string, respond func(*entity.Message) (*entity.Message, error)) (*entity.Message, *entity.Message, error) {
	var updated, confirmation *entity.Message

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		messageRef := r.messages(conversationID).Doc(messageID)
		doc, err := tx.Get(messageRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return errors.NotFound("Message", err)
			}
			return errors.StorageFailure("Failed to get message", err)
		}

		var message entity.Message
		if err := doc.DataTo(&message); err != nil {
			return errors.StorageFailure("Failed to parse message data", err)
		}

		conf, err := respond(&message)
		if err != nil {
			return err
		}

		if err := tx.Set(messageRef, &message); err != nil {
			return errors.StorageFailure("Failed to update message", err)
		}
		if err := tx.Create(r.messages(conversationID).Doc(conf.ID), conf); err != nil {
			return errors.StorageFailure("Failed to append confirmation", err)
		}
		if err := tx.Update(r.conversations().Doc(conversationID), []firestore.Update{
			{Path: "lastMessage", Value: conf.Content},
			{Path: "lastMessageAt", Value: conf.CreatedAt},
			{Path: "updatedAt", Value: time.Now()},
		}); err != nil {
			return errors.StorageFailure("Failed to update conversation preview", err)
		}

		updated = &message
		confirmation = conf
		return nil
	})
	if err != nil {
		if _, ok := err.(*errors.AppError); ok {
			return nil, nil, err
		}
		return nil, nil, errors.StorageFailure("Failed to apply negotiation response", err)
	}

	return updated, confirmation, nil
}

func (r *firestoreConversationRepository) MarkMessagesRead(ctx context.Context, conversationID, readerID string, readAt time.Time) (int, error) {
	iter := r.messages(conversationID).Where("read", "==", false).Documents(ctx)

	batch := r.client.Batch()
	pending := 0
	marked := 0
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return 0, errors.StorageFailure("Failed to iterate unread messages", err)
		}

		var message entity.Message
		if err := doc.DataTo(&message); err != nil {
			return 0, errors.StorageFailure("Failed to parse message data", err)
		}
		if message.SenderID == readerID {
			continue
		}

		batch.Update(doc.Ref, []firestore.Update{
			{Path: "read", Value: true},
			{Path: "readAt", Value: readAt},
		})
		marked++
		pending++

		if pending == maxBatchWrites {
			if _, err := batch.Commit(ctx); err != nil {
				return 0, errors.StorageFailure("Failed to mark messages read", err)
			}
			batch = r.client.Batch()
			pending = 0
		}
	}

	if pending > 0 {
		if _, err := batch.Commit(ctx); err != nil {
			return 0, errors.StorageFailure("Failed to mark messages read", err)
		}
	}

	return marked, nil
}

func (r *firestoreConversationRepository) CountUnread(ctx context.Context, conversationID, userID string) (int, error) {
	docs, err := r.messages(conversationID).Where("read", "==", false).Documents(ctx).GetAll()
	if err != nil {
		return 0, errors.StorageFailure("Failed to count unread messages", err)
	}

	count := 0
	for _, doc := range docs {
		var message entity.Message
		if err := doc.DataTo(&message); err != nil {
			continue
		}
		if message.SenderID != userID {
			count++
		}
	}

	return count, nil
}

func parseConversation(doc *firestore.DocumentSnapshot) (*entity.Conversation, error) {
	var conversation entity.Conversation
	if err := doc.DataTo(&conversation); err != nil {
		return nil, errors.StorageFailure("Failed to parse conversation data", err)
	}
	conversation.ID = doc.Ref.ID
	return &conversation, nil
}
