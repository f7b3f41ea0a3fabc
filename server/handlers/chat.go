package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/calmify/wellness-backend/server/chat"
	"github.com/calmify/wellness-backend/server/models"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ChatService interface {
	Ask(ctx context.Context, message string) (string, error)
}

type ChatHandler struct {
	assistant ChatService
	logger    *zap.Logger
}

// NewChatHandler accepts a nil assistant; the route then reports that the
// chatbot is unavailable.
func NewChatHandler(assistant ChatService, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{assistant: assistant, logger: logger}
}

func (h *ChatHandler) Chat(c *gin.Context) {
	if h.assistant == nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Chatbot is not initialized properly"})
		return
	}

	var request models.ChatRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "No message provided"})
		return
	}

	answer, err := h.assistant.Ask(c.Request.Context(), request.Message)
	if err != nil {
		if errors.Is(err, chat.ErrEmptyQuestion) {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "No message provided"})
			return
		}
		h.logger.Error("Chat request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to generate response"})
		return
	}

	c.JSON(http.StatusOK, models.ChatResponse{Response: answer})
}
