package router

import (
	"github.com/labstack/echo/v4"

	"agromarket/internal/adapter/api/handler"
	"agromarket/internal/adapter/api/middleware"
)

// SetupChatRouter sets up all conversation routes (excluding WebSocket)
func SetupChatRouter(e *echo.Echo, chatHandler *handler.ChatHandler, authMiddleware *middleware.AuthMiddleware) {
	conversations := e.Group("/v1/conversations")
	conversations.Use(authMiddleware.Authenticate)

	conversations.POST("", chatHandler.StartConversation)
	conversations.GET("", chatHandler.ListConversations)
	conversations.GET("/:id", chatHandler.GetConversation)
	conversations.DELETE("/:id", chatHandler.DeleteConversation)

	conversations.POST("/:id/messages", chatHandler.SendMessage)

	conversations.POST("/:id/negotiations", chatHandler.OpenOffer)
	conversations.POST("/:id/negotiations/respond", chatHandler.RespondToOffer)
}
