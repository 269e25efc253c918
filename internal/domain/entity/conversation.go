package entity

import (
	"sort"
	"strings"
	"time"
)

type ConversationType string

const (
	ConversationTypeDirect      ConversationType = "direct"
	ConversationTypeNegotiation ConversationType = "negotiation"
	ConversationTypeSupport     ConversationType = "support"
)

// Conversation is the persisted unit of a two-party interaction. Its ID is
// the deterministic pair key of its participants, so a pair of users can
// never own more than one conversation.
type Conversation struct {
	ID            string           `json:"id" firestore:"id"`
	Participants  []string         `json:"participants" firestore:"participants"`
	Type          ConversationType `json:"type" firestore:"type"`
	LastMessage   string           `json:"last_message,omitempty" firestore:"lastMessage,omitempty"`
	LastMessageAt time.Time        `json:"last_message_at" firestore:"lastMessageAt"`
	CreatedAt     time.Time        `json:"created_at" firestore:"createdAt"`
	UpdatedAt     time.Time        `json:"updated_at" firestore:"updatedAt"`
}

// PairKey builds the canonical conversation id for an unordered user pair.
func PairKey(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return strings.Join(pair, "_")
}

// NewConversation builds a direct conversation between two users. The
// participant set is sorted and immutable after creation.
func NewConversation(userA, userB string) *Conversation {
	pair := []string{userA, userB}
	sort.Strings(pair)

	now := time.Now()
	return &Conversation{
		ID:            PairKey(userA, userB),
		Participants:  pair,
		Type:          ConversationTypeDirect,
		LastMessageAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// OtherParticipant returns the counterpart of userID, or "" when userID is
// not a participant.
func (c *Conversation) OtherParticipant(userID string) string {
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}
