package entity

import (
	"time"

	"github.com/google/uuid"

	"agromarket/pkg/errors"
)

type MessageType string

const (
	MessageTypeText        MessageType = "text"
	MessageTypeNegotiation MessageType = "negotiation"
	MessageTypeImage       MessageType = "image"
	MessageTypeFile        MessageType = "file"
)

// Message is immutable once created except for the Read/ReadAt pair, which
// only read-receipt accounting touches. Negotiation is set exclusively by
// NewNegotiationMessage; the constructors are the only sanctioned way to
// build a message.
type Message struct {
	ID             string       `json:"id" firestore:"id"`
	ConversationID string       `json:"conversation_id" firestore:"conversationId"`
	SenderID       string       `json:"sender_id" firestore:"senderId"`
	Content        string       `json:"content" firestore:"content"`
	Type           MessageType  `json:"type" firestore:"type"`
	Negotiation    *Negotiation `json:"negotiation,omitempty" firestore:"negotiation,omitempty"`
	AttachmentURL  string       `json:"attachment_url,omitempty" firestore:"attachmentUrl,omitempty"`
	Read           bool         `json:"read" firestore:"read"`
	ReadAt         *time.Time   `json:"read_at,omitempty" firestore:"readAt,omitempty"`
	CreatedAt      time.Time    `json:"created_at" firestore:"createdAt"`
}

func newMessage(conversationID, senderID, content string, messageType MessageType) *Message {
	return &Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Type:           messageType,
		CreatedAt:      time.Now(),
	}
}

func NewTextMessage(conversationID, senderID, content string) (*Message, error) {
	if content == "" {
		return nil, errors.Validation("Message content must not be empty", nil)
	}
	return newMessage(conversationID, senderID, content, MessageTypeText), nil
}

func NewNegotiationMessage(conversationID, senderID string, negotiation *Negotiation) (*Message, error) {
	if negotiation == nil {
		return nil, errors.Validation("Negotiation details are required", nil)
	}

	message := newMessage(conversationID, senderID, negotiation.OfferSummary(), MessageTypeNegotiation)
	message.Negotiation = negotiation
	return message, nil
}

func NewImageMessage(conversationID, senderID, content, attachmentURL string) (*Message, error) {
	if attachmentURL == "" {
		return nil, errors.Validation("Image messages require an attachment URL", nil)
	}
	if content == "" {
		content = "Sent an image"
	}

	message := newMessage(conversationID, senderID, content, MessageTypeImage)
	message.AttachmentURL = attachmentURL
	return message, nil
}

func NewFileMessage(conversationID, senderID, content, attachmentURL string) (*Message, error) {
	if attachmentURL == "" {
		return nil, errors.Validation("File messages require an attachment URL", nil)
	}
	if content == "" {
		content = "Sent a file"
	}

	message := newMessage(conversationID, senderID, content, MessageTypeFile)
	message.AttachmentURL = attachmentURL
	return message, nil
}

// MarkRead applies a read receipt. It reports whether the message changed, so
// the store can skip writes on repeat fetches.
func (m *Message) MarkRead(readAt time.Time) bool {
	if m.Read {
		return false
	}
	m.Read = true
	m.ReadAt = &readAt
	return true
}
