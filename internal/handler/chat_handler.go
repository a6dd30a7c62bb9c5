package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/learnstack/tutord/internal/model"
	"github.com/learnstack/tutord/internal/pkg/errcode"
	"github.com/learnstack/tutord/internal/pkg/response"
	"github.com/learnstack/tutord/internal/service"
)

type ChatHandler struct {
	chat *service.ChatService
}

func NewChatHandler(chat *service.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

type chatRequest struct {
	ClassID        string               `json:"class_id"`
	ConversationID string               `json:"conversation_id"`
	Message        string               `json:"message"`
	Filters        *model.SourceFilters `json:"filters"`
}

func (h *ChatHandler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	filters := model.AllSources()
	if req.Filters != nil {
		filters = *req.Filters
	}
	resp, err := h.chat.Chat(c.Request.Context(), &service.ChatRequest{
		UserID:         getUserID(c),
		ClassID:        req.ClassID,
		ConversationID: req.ConversationID,
		Message:        req.Message,
		Filters:        filters,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, resp)
}

func (h *ChatHandler) ListConversations(c *gin.Context) {
	convs, err := h.chat.ListConversations(c.Request.Context(), getUserID(c), c.Query("class_id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"conversations": convs})
}

func (h *ChatHandler) GetConversation(c *gin.Context) {
	detail, err := h.chat.GetConversation(c.Request.Context(), getUserID(c), c.Query("class_id"), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, detail)
}

func (h *ChatHandler) DeleteConversation(c *gin.Context) {
	if err := h.chat.DeleteConversation(c.Request.Context(), getUserID(c), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"deleted": true})
}
