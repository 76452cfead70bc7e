package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pcbrecon-backend/internal/logger"
	"pcbrecon-backend/internal/models"
	"pcbrecon-backend/internal/services"
)

// maxChatBodyBytes leaves room for a MaxMessageLength message with every
// character JSON-escaped.
const maxChatBodyBytes = 64 << 10

type ChatHandler struct {
	chat *services.ChatService
	log  *logger.Logger
}

func NewChatHandler(chat *services.ChatService, log *logger.Logger) *ChatHandler {
	return &ChatHandler{chat: chat, log: log.With("component", "ChatHandler")}
}

// SendMessage godoc
// @Summary     Send a chat message
// @Description Persists the user message, asks the model about the board and returns the bot reply. Only one turn per project may be in flight.
// @Tags        chat
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       project_id path int true "Project ID"
// @Param       request body models.ChatRequest true "User message"
// @Success     200 {object} models.ChatMessageResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     409 {object} models.ErrorResponse
// @Failure     502 {object} models.ErrorResponse
// @Router      /projects/{project_id}/chat [post]
func (h *ChatHandler) SendMessage(c *gin.Context) {
	id, err := projectIDParam(c)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxChatBodyBytes)

	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.log, badBody(err))
		return
	}

	reply, err := h.chat.SendMessage(c.Request.Context(), id, req.Message)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, models.NewChatMessageResponse(reply))
}

// ListMessages godoc
// @Summary     Get the chat transcript
// @Tags        chat
// @Produce     json
// @Security    Bearer
// @Param       project_id path int true "Project ID"
// @Success     200 {array}  models.ChatMessageResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /projects/{project_id}/chat [get]
func (h *ChatHandler) ListMessages(c *gin.Context) {
	id, err := projectIDParam(c)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	msgs, err := h.chat.ListMessages(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, models.NewChatMessageResponses(msgs))
}
