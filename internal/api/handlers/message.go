package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"dolphdive/internal/models"
	"dolphdive/internal/services"

	"github.com/gin-gonic/gin"
)

type MessageHandler struct {
	messageService *services.MessageService
}

func NewMessageHandler(messageService *services.MessageService) *MessageHandler {
	return &MessageHandler{messageService: messageService}
}

// SendMessage godoc
// @Summary Send a direct message
// @Description Persist a message and attempt realtime delivery to the recipient
// @Tags messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.SendMessageRequest true "Message payload"
// @Success 201 {object} models.SendMessageResponse "Persisted message plus delivery outcome"
// @Router /messages [post]
func (h *MessageHandler) SendMessage(c *gin.Context) {
	senderID := c.MustGet("user_id").(uint)

	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Code:    http.StatusBadRequest,
			Message: "Invalid input data",
			Details: err.Error(),
		})
		return
	}
	if req.RecipientID == senderID {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Code:    http.StatusBadRequest,
			Message: "Cannot message yourself",
		})
		return
	}

	resp, err := h.messageService.Send(c.Request.Context(), senderID, &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Code:    http.StatusInternalServerError,
			Message: "Failed to send message",
		})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// SyncMessages godoc
// @Summary Sync a conversation
// @Description Return all messages with the given peer newer than lastSyncTime, marking undelivered ones delivered
// @Tags messages
// @Produce json
// @Security BearerAuth
// @Param conversationWith query int true "Peer user ID"
// @Param lastSyncTime query string false "RFC3339 timestamp of the previous sync"
// @Success 200 {object} models.SyncResponse
// @Router /messages/sync [get]
func (h *MessageHandler) SyncMessages(c *gin.Context) {
	userID := c.MustGet("user_id").(uint)

	peerID, err := strconv.ParseUint(c.Query("conversationWith"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Code:    http.StatusBadRequest,
			Message: "Invalid conversationWith",
		})
		return
	}

	var lastSyncTime *time.Time
	if raw := c.Query("lastSyncTime"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Code:    http.StatusBadRequest,
				Message: "Invalid lastSyncTime",
				Details: "expected an RFC3339 timestamp",
			})
			return
		}
		lastSyncTime = &t
	}

	resp, err := h.messageService.Sync(c.Request.Context(), userID, uint(peerID), lastSyncTime)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Code:    http.StatusInternalServerError,
			Message: "Failed to sync messages",
		})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// MarkMessageRead godoc
// @Summary Mark a message as read
// @Tags messages
// @Produce json
// @Security BearerAuth
// @Param id path string true "Message ID"
// @Success 200 {object} models.Message
// @Router /messages/{id}/read [put]
func (h *MessageHandler) MarkMessageRead(c *gin.Context) {
	readerID := c.MustGet("user_id").(uint)

	msg, err := h.messageService.MarkRead(c.Request.Context(), c.Param("id"), readerID)
	if err != nil {
		if errors.Is(err, services.ErrMessageNotFound) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{
				Code:    http.StatusNotFound,
				Message: "Message not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Code:    http.StatusInternalServerError,
			Message: "Failed to mark message read",
		})
		return
	}

	c.JSON(http.StatusOK, msg)
}

// DeleteConversation godoc
// @Summary Delete a whole conversation
// @Description Bulk-delete every message with the given peer and notify them best-effort
// @Tags messages
// @Produce json
// @Security BearerAuth
// @Param userId path int true "Peer user ID"
// @Success 200 {object} map[string]interface{}
// @Router /messages/conversation/{userId} [delete]
func (h *MessageHandler) DeleteConversation(c *gin.Context) {
	userID := c.MustGet("user_id").(uint)

	peerID, err := strconv.ParseUint(c.Param("userId"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Code:    http.StatusBadRequest,
			Message: "Invalid user ID",
		})
		return
	}

	deleted, err := h.messageService.DeleteConversation(c.Request.Context(), userID, uint(peerID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Code:    http.StatusInternalServerError,
			Message: "Failed to delete conversation",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
