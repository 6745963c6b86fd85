package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/knograph/knograph-backend/internal/platform/logger"
	"github.com/knograph/knograph-backend/internal/repos"
	"github.com/knograph/knograph-backend/internal/services"
	"github.com/knograph/knograph-backend/internal/sse"
)

type NormalizationHandler struct {
	log                  *logger.Logger
	normalizationService services.NormalizationService
	reviewService        services.ReviewService
	applyService         services.ApplyService
}

func NewNormalizationHandler(
	log *logger.Logger,
	normalizationService services.NormalizationService,
	reviewService services.ReviewService,
	applyService services.ApplyService,
) *NormalizationHandler {
	return &NormalizationHandler{
		log:                  log.With("handler", "NormalizationHandler"),
		normalizationService: normalizationService,
		reviewService:        reviewService,
		applyService:         applyService,
	}
}

// StartRun opens the event stream for one normalization run. Closing the
// connection cancels the run through the request context.
func (h *NormalizationHandler) StartRun(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	courseID, ok := pathUUID(c, "courseID")
	if !ok {
		return
	}

	events, err := h.normalizationService.StartRun(c.Request.Context(), courseID, userID)
	if err != nil {
		h.log.Error("StartRun rejected", "error", err, "course_id", courseID)
		RespondServiceError(c, err)
		return
	}

	sse.Stream(c.Writer, c.Request, events, h.log)
}

func (h *NormalizationHandler) GetReview(c *gin.Context) {
	_, ok := callerID(c)
	if !ok {
		return
	}
	courseID, ok := pathUUID(c, "courseID")
	if !ok {
		return
	}
	reviewID, ok := pathUUID(c, "reviewID")
	if !ok {
		return
	}
	review, err := h.reviewService.GetReview(c.Request.Context(), reviewID, courseID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"review": review})
}

func (h *NormalizationHandler) SubmitDecisions(c *gin.Context) {
	_, ok := callerID(c)
	if !ok {
		return
	}
	courseID, ok := pathUUID(c, "courseID")
	if !ok {
		return
	}
	reviewID, ok := pathUUID(c, "reviewID")
	if !ok {
		return
	}
	var body struct {
		Decisions []repos.DecisionUpdate `json:"decisions"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	updated, err := h.reviewService.UpdateDecisions(c.Request.Context(), reviewID, courseID, body.Decisions)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"review_id": reviewID, "updated": updated})
}

func (h *NormalizationHandler) ApplyReview(c *gin.Context) {
	_, ok := callerID(c)
	if !ok {
		return
	}
	courseID, ok := pathUUID(c, "courseID")
	if !ok {
		return
	}
	reviewID, ok := pathUUID(c, "reviewID")
	if !ok {
		return
	}
	result, err := h.applyService.Apply(c.Request.Context(), reviewID, courseID)
	if err != nil {
		h.log.Error("ApplyReview failed", "error", err, "review_id", reviewID)
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, result)
}
