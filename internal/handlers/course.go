package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/knograph/knograph-backend/internal/platform/logger"
	"github.com/knograph/knograph-backend/internal/requestdata"
	"github.com/knograph/knograph-backend/internal/services"
)

type CourseHandler struct {
	log           *logger.Logger
	courseService services.CourseService
	dualWrite     services.DualWriteService
}

func NewCourseHandler(log *logger.Logger, courseService services.CourseService, dualWrite services.DualWriteService) *CourseHandler {
	return &CourseHandler{
		log:           log.With("handler", "CourseHandler"),
		courseService: courseService,
		dualWrite:     dualWrite,
	}
}

func callerID(c *gin.Context) (uuid.UUID, bool) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return uuid.Nil, false
	}
	return rd.UserID, true
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_"+name, err)
		return uuid.Nil, false
	}
	return id, true
}

func (h *CourseHandler) ListCourses(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	courses, err := h.courseService.GetUserCourses(c.Request.Context(), userID)
	if err != nil {
		h.log.Error("ListCourses failed", "error", err, "user_id", userID)
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"courses": courses})
}

func (h *CourseHandler) CreateCourse(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	var body struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	course, err := h.dualWrite.CreateCourse(c.Request.Context(), userID, body.Title, body.Description)
	if err != nil {
		h.log.Error("CreateCourse failed", "error", err, "user_id", userID)
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"course": course})
}

func (h *CourseHandler) UpdateCourse(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	courseID, ok := pathUUID(c, "courseID")
	if !ok {
		return
	}
	var body struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	course, err := h.dualWrite.UpdateCourse(c.Request.Context(), courseID, userID, body.Title, body.Description)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"course": course})
}

func (h *CourseHandler) DeleteCourse(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	courseID, ok := pathUUID(c, "courseID")
	if !ok {
		return
	}
	if err := h.dualWrite.DeleteCourse(c.Request.Context(), courseID, userID); err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"deleted": courseID})
}

func (h *CourseHandler) ListDocuments(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	courseID, ok := pathUUID(c, "courseID")
	if !ok {
		return
	}
	documents, err := h.courseService.GetCourseDocuments(c.Request.Context(), courseID, userID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"documents": documents})
}

func (h *CourseHandler) CreateDocument(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	courseID, ok := pathUUID(c, "courseID")
	if !ok {
		return
	}
	var body struct {
		Title       string `json:"title"`
		ContentType string `json:"content_type"`
		SizeBytes   int64  `json:"size_bytes"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	document, err := h.dualWrite.CreateDocument(c.Request.Context(), courseID, userID, body.Title, body.ContentType, body.SizeBytes)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"document": document})
}

func (h *CourseHandler) DeleteDocument(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	courseID, ok := pathUUID(c, "courseID")
	if !ok {
		return
	}
	documentID, ok := pathUUID(c, "documentID")
	if !ok {
		return
	}
	if err := h.dualWrite.DeleteDocument(c.Request.Context(), courseID, userID, documentID); err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"deleted": documentID})
}
