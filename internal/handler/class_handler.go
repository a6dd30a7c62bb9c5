package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/learnstack/tutord/internal/pkg/response"
	"github.com/learnstack/tutord/internal/service"
)

type ClassHandler struct {
	ingest *service.IngestService
}

func NewClassHandler(ingest *service.IngestService) *ClassHandler {
	return &ClassHandler{ingest: ingest}
}

// Stats reports the size of a class partition.
func (h *ClassHandler) Stats(c *gin.Context) {
	classID := c.Param("id")
	count, err := h.ingest.ClassChunkCount(c.Request.Context(), classID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"class_id": classID, "chunk_count": count})
}

// Wipe drops every indexed chunk of a class, for class deletion upstream.
func (h *ClassHandler) Wipe(c *gin.Context) {
	if err := h.ingest.WipeClass(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"deleted": true})
}
