package handlers

import (
	"net/http"

	"dolphdive/internal/database"
	"dolphdive/internal/models"

	"github.com/gin-gonic/gin"
)

const maxAttachmentSize = 10 << 20 // 10 MB

type UploadHandler struct {
	storage *database.MinIOClient
}

func NewUploadHandler(storage *database.MinIOClient) *UploadHandler {
	return &UploadHandler{storage: storage}
}

// UploadAttachment godoc
// @Summary Upload a message attachment
// @Description Store an image and return the URL to reference from a message
// @Tags uploads
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "Attachment file"
// @Success 201 {object} map[string]string
// @Router /uploads [post]
func (h *UploadHandler) UploadAttachment(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Code:    http.StatusBadRequest,
			Message: "Missing file",
		})
		return
	}
	if file.Size > maxAttachmentSize {
		c.JSON(http.StatusRequestEntityTooLarge, models.ErrorResponse{
			Code:    http.StatusRequestEntityTooLarge,
			Message: "File too large",
		})
		return
	}

	url, err := h.storage.UploadAttachment(c.Request.Context(), file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Code:    http.StatusInternalServerError,
			Message: "Upload failed",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"url": url})
}
