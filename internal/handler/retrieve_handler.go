package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/learnstack/tutord/internal/model"
	"github.com/learnstack/tutord/internal/pkg/errcode"
	"github.com/learnstack/tutord/internal/pkg/response"
	"github.com/learnstack/tutord/internal/service"
)

// RetrieveHandler exposes raw retrieval without generation, mainly for
// debugging what a chat turn would be grounded on.
type RetrieveHandler struct {
	retrieval *service.RetrievalService
}

func NewRetrieveHandler(retrieval *service.RetrievalService) *RetrieveHandler {
	return &RetrieveHandler{retrieval: retrieval}
}

type retrieveRequest struct {
	ClassID string               `json:"class_id"`
	Query   string               `json:"query"`
	Filters *model.SourceFilters `json:"filters"`
}

func (h *RetrieveHandler) Retrieve(c *gin.Context) {
	var req retrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	filters := model.AllSources()
	if req.Filters != nil {
		filters = *req.Filters
	}
	result, err := h.retrieval.Retrieve(c.Request.Context(), req.ClassID, req.Query, filters)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{
		"context":   result.ContextText,
		"citations": result.Citations,
		"degraded":  result.Degraded,
	})
}
