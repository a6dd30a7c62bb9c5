package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/learnstack/tutord/internal/model"
	"github.com/learnstack/tutord/internal/pkg/errcode"
	"github.com/learnstack/tutord/internal/pkg/response"
	"github.com/learnstack/tutord/internal/service"
)

type SourceHandler struct {
	ingest *service.IngestService
}

func NewSourceHandler(ingest *service.IngestService) *SourceHandler {
	return &SourceHandler{ingest: ingest}
}

type ingestRequest struct {
	ClassID    string         `json:"class_id"`
	SourceType string         `json:"source_type"`
	SourceID   string         `json:"source_id"`
	Title      string         `json:"title"`
	Text       string         `json:"text"`
	Timestamp  string         `json:"timestamp"`
	Pages      []service.Page `json:"pages"`
}

// Ingest accepts already-extracted text and queues it for chunking and
// indexing. The response only acknowledges the queueing; callers poll
// Status for the outcome.
func (h *SourceHandler) Ingest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	sourceType, err := model.ParseSourceType(req.SourceType)
	if err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid source type")
		return
	}
	if err := h.ingest.Register(c.Request.Context(), &service.IngestRequest{
		UserID:     getUserID(c),
		ClassID:    req.ClassID,
		SourceType: sourceType,
		SourceID:   req.SourceID,
		Title:      req.Title,
		Text:       req.Text,
		Timestamp:  req.Timestamp,
		Pages:      req.Pages,
	}); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"source_id": req.SourceID, "status": string(model.IngestionPending)})
}

func (h *SourceHandler) Status(c *gin.Context) {
	rec, err := h.ingest.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, rec)
}

func (h *SourceHandler) List(c *gin.Context) {
	sources, err := h.ingest.ListSources(c.Request.Context(), c.Query("class_id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"sources": sources})
}

func (h *SourceHandler) Delete(c *gin.Context) {
	err := h.ingest.DeleteSource(c.Request.Context(), getUserID(c), c.Query("class_id"), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"deleted": true})
}
