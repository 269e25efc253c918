package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"agromarket/internal/domain/entity"
	"agromarket/internal/usecase"
	"agromarket/pkg/response"
	"agromarket/pkg/utils"
)

type ChatHandler struct {
	chatUseCase *usecase.ChatUseCase
}

func NewChatHandler(chatUseCase *usecase.ChatUseCase) *ChatHandler {
	return &ChatHandler{
		chatUseCase: chatUseCase,
	}
}

type startConversationRequest struct {
	ParticipantID string `json:"participant_id" validate:"required"`
}

type sendMessageRequest struct {
	Content       string `json:"content" validate:"required"`
	Type          string `json:"type" validate:"omitempty,oneof=text image file"`
	AttachmentURL string `json:"attachment_url,omitempty" validate:"omitempty,url"`
}

type openOfferRequest struct {
	ProductID     string  `json:"product_id" validate:"required"`
	ProposedPrice float64 `json:"proposed_price" validate:"required,gt=0"`
	Quantity      int     `json:"quantity" validate:"required,gt=0"`
}

type respondToOfferRequest struct {
	MessageID    string  `json:"message_id" validate:"required"`
	Status       string  `json:"status" validate:"required,oneof=accepted rejected counter"`
	CounterPrice float64 `json:"counter_price,omitempty" validate:"omitempty,gt=0"`
}

// StartConversation gets or creates the conversation between the caller and
// another user. Calling it again for the same pair returns the same
// conversation.
func (h *ChatHandler) StartConversation(c echo.Context) error {
	var req startConversationRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)

	conversation, err := h.chatUseCase.StartConversation(c.Request().Context(), userID, usecase.StartConversationInput{
		ParticipantID: req.ParticipantID,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, conversation)
}

// ListConversations lists the caller's conversations, most recent first.
func (h *ChatHandler) ListConversations(c echo.Context) error {
	userID := c.Get("uid").(string)
	params := utils.GetPaginationParams(c, 20)

	conversations, total, err := h.chatUseCase.ListConversations(c.Request().Context(), userID, params.Limit, params.Offset)
	if err != nil {
		return response.Error(c, err)
	}

	page := params.Offset/params.Limit + 1
	return response.Paginated(c, conversations, total, page, params.Limit)
}

// GetConversation returns a conversation with full history. Fetching marks
// the other participant's messages as read.
func (h *ChatHandler) GetConversation(c echo.Context) error {
	conversationID := c.Param("id")
	userID := c.Get("uid").(string)

	conversation, err := h.chatUseCase.GetConversation(c.Request().Context(), userID, conversationID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, conversation)
}

func (h *ChatHandler) DeleteConversation(c echo.Context) error {
	conversationID := c.Param("id")
	userID := c.Get("uid").(string)

	if err := h.chatUseCase.DeleteConversation(c.Request().Context(), userID, conversationID); err != nil {
		return response.Error(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *ChatHandler) SendMessage(c echo.Context) error {
	conversationID := c.Param("id")
	userID := c.Get("uid").(string)

	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	if req.Type == "" {
		req.Type = string(entity.MessageTypeText)
	}

	message, err := h.chatUseCase.SendMessage(c.Request().Context(), userID, usecase.SendMessageInput{
		ConversationID: conversationID,
		Content:        req.Content,
		Type:           entity.MessageType(req.Type),
		AttachmentURL:  req.AttachmentURL,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, message)
}

// OpenOffer opens a price negotiation on a product inside a conversation.
func (h *ChatHandler) OpenOffer(c echo.Context) error {
	conversationID := c.Param("id")
	userID := c.Get("uid").(string)

	var req openOfferRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	message, err := h.chatUseCase.OpenOffer(c.Request().Context(), userID, usecase.OpenOfferInput{
		ConversationID: conversationID,
		ProductID:      req.ProductID,
		ProposedPrice:  req.ProposedPrice,
		Quantity:       req.Quantity,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, message)
}

// RespondToOffer accepts, rejects or counters a pending offer.
func (h *ChatHandler) RespondToOffer(c echo.Context) error {
	conversationID := c.Param("id")
	userID := c.Get("uid").(string)

	var req respondToOfferRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	conversation, err := h.chatUseCase.RespondToOffer(c.Request().Context(), userID, usecase.RespondToOfferInput{
		ConversationID: conversationID,
		MessageID:      req.MessageID,
		Status:         entity.NegotiationStatus(req.Status),
		CounterPrice:   req.CounterPrice,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, conversation)
}
