package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/knograph/knograph-backend/internal/platform/logger"
	"github.com/knograph/knograph-backend/internal/services"
)

type ConceptHandler struct {
	log            *logger.Logger
	conceptService services.ConceptService
	dualWrite      services.DualWriteService
}

func NewConceptHandler(log *logger.Logger, conceptService services.ConceptService, dualWrite services.DualWriteService) *ConceptHandler {
	return &ConceptHandler{
		log:            log.With("handler", "ConceptHandler"),
		conceptService: conceptService,
		dualWrite:      dualWrite,
	}
}

func (h *ConceptHandler) ListConcepts(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	courseID, ok := pathUUID(c, "courseID")
	if !ok {
		return
	}
	names, err := h.conceptService.ListConceptNames(c.Request.Context(), courseID, userID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"concepts": names})
}

// IngestConcepts receives concept/mention facts from the extraction pipeline.
func (h *ConceptHandler) IngestConcepts(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	courseID, ok := pathUUID(c, "courseID")
	if !ok {
		return
	}
	var body struct {
		Facts []services.ConceptFactInput `json:"facts"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	ingested, err := h.dualWrite.IngestConceptFacts(c.Request.Context(), courseID, userID, body.Facts)
	if err != nil {
		h.log.Error("IngestConcepts failed", "error", err, "course_id", courseID)
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"ingested": ingested})
}
