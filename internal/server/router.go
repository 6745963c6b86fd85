package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/knograph/knograph-backend/internal/handlers"
	"github.com/knograph/knograph-backend/internal/middleware"
	"github.com/knograph/knograph-backend/internal/platform/envutil"
)

type RouterConfig struct {
	AuthMiddleware       *middleware.AuthMiddleware
	CourseHandler        *handlers.CourseHandler
	ConceptHandler       *handlers.ConceptHandler
	NormalizationHandler *handlers.NormalizationHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := envutil.GetEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000,http://localhost:5173", nil)
	router.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Split(origins, ","),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	api.Use(cfg.AuthMiddleware.RequireAuth())

	// Courses + documents (dual-store writes)
	api.GET("/courses", cfg.CourseHandler.ListCourses)
	api.POST("/courses", cfg.CourseHandler.CreateCourse)
	api.PATCH("/courses/:courseID", cfg.CourseHandler.UpdateCourse)
	api.DELETE("/courses/:courseID", cfg.CourseHandler.DeleteCourse)
	api.GET("/courses/:courseID/documents", cfg.CourseHandler.ListDocuments)
	api.POST("/courses/:courseID/documents", cfg.CourseHandler.CreateDocument)
	api.DELETE("/courses/:courseID/documents/:documentID", cfg.CourseHandler.DeleteDocument)

	// Concepts
	api.GET("/courses/:courseID/concepts", cfg.ConceptHandler.ListConcepts)
	api.POST("/courses/:courseID/concepts/ingest", cfg.ConceptHandler.IngestConcepts)

	// Normalization
	api.POST("/courses/:courseID/normalize", cfg.NormalizationHandler.StartRun)
	api.GET("/courses/:courseID/reviews/:reviewID", cfg.NormalizationHandler.GetReview)
	api.POST("/courses/:courseID/reviews/:reviewID/decisions", cfg.NormalizationHandler.SubmitDecisions)
	api.POST("/courses/:courseID/reviews/:reviewID/apply", cfg.NormalizationHandler.ApplyReview)

	return router
}
