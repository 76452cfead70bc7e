package server

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"pcbrecon-backend/internal/handlers"
	"pcbrecon-backend/internal/logger"
	"pcbrecon-backend/internal/metrics"
	"pcbrecon-backend/internal/middleware"
)

type RouterConfig struct {
	Log            *logger.Logger
	AllowedOrigins []string
	// AuthJWTSecret protects /projects when set.
	AuthJWTSecret string

	ProjectsHandler *handlers.ProjectsHandler
	ChatHandler     *handlers.ChatHandler
	HealthHandler   *handlers.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(cfg.Log))
	router.Use(middleware.PrometheusMiddleware())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With", middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Health, metrics and docs (no auth)
	router.GET("/health", cfg.HealthHandler.Health)
	router.GET("/ready", cfg.HealthHandler.Ready)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	projects := router.Group("/projects")
	if cfg.AuthJWTSecret != "" {
		projects.Use(middleware.AuthMiddleware(cfg.AuthJWTSecret))
	}

	projects.GET("", cfg.ProjectsHandler.ListProjects)
	projects.POST("", cfg.ProjectsHandler.CreateProject)
	projects.GET("/:project_id", cfg.ProjectsHandler.GetProject)
	projects.DELETE("/:project_id", cfg.ProjectsHandler.DeleteProject)
	projects.POST("/:project_id/analysis", cfg.ProjectsHandler.AnalyzeProject)
	projects.POST("/:project_id/assessment", cfg.ProjectsHandler.AssessProject)

	projects.GET("/:project_id/chat", cfg.ChatHandler.ListMessages)
	projects.POST("/:project_id/chat", cfg.ChatHandler.SendMessage)

	return router
}
