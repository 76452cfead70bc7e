// @title           PCBRecon API
// @version         1.0.0
// @description     Backend API for PCB reverse engineering: upload a board image, get an AI analysis, and chat about the board.

// @host      localhost:8000
// @BasePath  /

// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"pcbrecon-backend/docs"
	"pcbrecon-backend/internal/config"
	"pcbrecon-backend/internal/database"
	"pcbrecon-backend/internal/gemini"
	"pcbrecon-backend/internal/handlers"
	"pcbrecon-backend/internal/logger"
	"pcbrecon-backend/internal/server"
	"pcbrecon-backend/internal/services"
	"pcbrecon-backend/internal/supabase"
	"pcbrecon-backend/internal/turnlock"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pcbrecon: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	configureSwagger(cfg.BaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := database.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	health := handlers.NewHealthHandler()
	health.RegisterChecker(handlers.NewPingChecker("database", store))

	var locker turnlock.Locker = turnlock.NewMemoryLocker()
	if cfg.RedisAddress != "" {
		redisLocker, err := turnlock.NewRedisLocker(ctx, cfg.RedisAddress, cfg.RedisPassword, cfg.GeminiTimeout+30*time.Second, log)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisLocker.Close()
		health.RegisterChecker(redisLocker)
		locker = redisLocker
		log.Info("chat turn guard shared through redis", "address", cfg.RedisAddress)
	}

	var archive services.ImageArchive
	if cfg.ArchiveEnabled() {
		archive = supabase.NewStorageClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket, log)
		log.Info("image archive enabled", "bucket", cfg.SupabaseStorageBucket)
	}

	inference := gemini.NewClient(gemini.Options{
		BaseURL:   cfg.GeminiAPIBaseURL,
		APIKey:    cfg.GeminiAPIKey,
		Timeout:   cfg.GeminiTimeout,
		RateLimit: cfg.GeminiRateLimit,
	}, log)

	projectService := services.NewProjectService(store, inference, archive, services.ProjectServiceConfig{
		AnalysisModel:    cfg.GeminiAnalysisModel,
		AnalysisMode:     cfg.AnalysisMode,
		MaxImageBytes:    cfg.MaxImageBytes,
		MaxImagePixels:   cfg.MaxImagePixels,
		InferenceTimeout: cfg.GeminiTimeout,
	}, log)
	chatService := services.NewChatService(store, inference, locker, services.ChatServiceConfig{
		ChatModel:        cfg.GeminiChatModel,
		InferenceTimeout: cfg.GeminiTimeout,
	}, log)

	router := server.NewRouter(server.RouterConfig{
		Log:             log,
		AllowedOrigins:  cfg.AllowedOrigins,
		AuthJWTSecret:   cfg.AuthJWTSecret,
		ProjectsHandler: handlers.NewProjectsHandler(projectService, cfg.MaxImageBytes, log),
		ChatHandler:     handlers.NewChatHandler(chatService, log),
		HealthHandler:   health,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"analysis_mode", cfg.AnalysisMode,
			"auth", cfg.AuthEnabled(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		log.Info("shutting down")

		// In-flight chat turns finish within the inference timeout.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GeminiTimeout+10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		projectService.Wait()
		return err
	})

	return g.Wait()
}

func configureSwagger(baseURL string) {
	if baseURL == "" {
		return
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return
	}
	docs.SwaggerInfo.Host = u.Host
	if u.Scheme == "https" {
		docs.SwaggerInfo.Schemes = []string{"https", "http"}
	} else {
		docs.SwaggerInfo.Schemes = []string{"http", "https"}
	}
}
