package handlers

import (
	"dolphdive/internal/websocket"

	"github.com/gin-gonic/gin"
)

type WSHandler struct {
	dispatcher *websocket.Dispatcher
}

func NewWSHandler(dispatcher *websocket.Dispatcher) *WSHandler {
	return &WSHandler{dispatcher: dispatcher}
}

// HandleWebSocket godoc
// @Summary Open the realtime socket
// @Description Upgrade to WebSocket; the client must follow with an auth event naming its own user id
// @Tags websocket
// @Security BearerAuth
// @Router /ws [get]
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	userID := c.MustGet("user_id").(uint)
	h.dispatcher.Serve(c.Writer, c.Request, userID)
}
