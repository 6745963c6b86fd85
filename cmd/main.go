package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/knograph/knograph-backend/internal/db"
	"github.com/knograph/knograph-backend/internal/graph"
	"github.com/knograph/knograph-backend/internal/handlers"
	"github.com/knograph/knograph-backend/internal/middleware"
	"github.com/knograph/knograph-backend/internal/platform/envutil"
	"github.com/knograph/knograph-backend/internal/platform/logger"
	"github.com/knograph/knograph-backend/internal/platform/neo4jdb"
	"github.com/knograph/knograph-backend/internal/repos"
	"github.com/knograph/knograph-backend/internal/server"
	"github.com/knograph/knograph-backend/internal/services"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Env
	jwtSecretKey := envutil.GetEnv("JWT_SECRET_KEY", "", log)
	if jwtSecretKey == "" {
		log.Fatal("JWT_SECRET_KEY is required")
	}
	listenAddr := envutil.GetEnv("LISTEN_ADDR", ":8080", log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	if err := postgresService.AutoMigrateAll(); err != nil {
		log.Fatal("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Neo4j
	neoClient, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Fatal("Neo4j init failed", "error", err)
	}
	if neoClient == nil {
		log.Fatal("NEO4J_URI is required; the graph projection is not optional")
	}
	defer neoClient.Close(context.Background())
	graphStore := graph.NewNeo4jStore(neoClient, log)

	// Repos
	log.Info("Setting up repos...")
	courseRepo := repos.NewCourseRepo(thePG, log)
	documentRepo := repos.NewDocumentRepo(thePG, log)
	conceptRepo := repos.NewConceptRepo(thePG, log)
	reviewRepo := repos.NewReviewRepo(thePG, log)

	// Services
	log.Info("Setting up services...")
	openaiClient, err := services.NewOpenAIClient(log)
	if err != nil {
		log.Fatal("Could not init OpenAIClient", "error", err)
	}
	runLock, err := services.NewRunLockFromEnv(log)
	if err != nil {
		log.Fatal("Could not init run lock", "error", err)
	}
	reviewService := services.NewReviewService(thePG, log, reviewRepo)
	dualWriteService := services.NewDualWriteService(log, courseRepo, documentRepo, conceptRepo, graphStore)
	courseService := services.NewCourseService(log, courseRepo, documentRepo)
	conceptService := services.NewConceptService(log, courseRepo, conceptRepo)
	normalizationService := services.NewNormalizationService(log, conceptRepo, reviewService, openaiClient, runLock)
	applyService := services.NewApplyService(log, reviewService, conceptRepo, graphStore)

	// Handlers
	log.Info("Setting up handlers...")
	authMiddleware := middleware.NewAuthMiddleware(log, jwtSecretKey)
	courseHandler := handlers.NewCourseHandler(log, courseService, dualWriteService)
	conceptHandler := handlers.NewConceptHandler(log, conceptService, dualWriteService)
	normalizationHandler := handlers.NewNormalizationHandler(log, normalizationService, reviewService, applyService)

	router := server.NewRouter(server.RouterConfig{
		AuthMiddleware:       authMiddleware,
		CourseHandler:        courseHandler,
		ConceptHandler:       conceptHandler,
		NormalizationHandler: normalizationHandler,
	})

	log.Info("Server starting", "addr", listenAddr, "time", time.Now().Format(time.RFC3339))
	if err := router.Run(listenAddr); err != nil {
		log.Fatal("Server exited", "error", err)
	}
}
