package router

import (
	"github.com/labstack/echo/v4"

	"agromarket/internal/adapter/api/handler"
)

// SetupWebSocketRouter sets up the realtime endpoint. Authentication happens
// inside the handler since browsers cannot attach headers to upgrades.
func SetupWebSocketRouter(e *echo.Echo, wsHandler *handler.WebSocketHandler) {
	e.GET("/ws", wsHandler.HandleWebSocket)
}
