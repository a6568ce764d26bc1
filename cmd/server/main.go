// Shipyard sandbox lifecycle server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Hollayemi/shp-sub005/internal/api"
	"github.com/Hollayemi/shp-sub005/internal/cache"
	"github.com/Hollayemi/shp-sub005/internal/config"
	"github.com/Hollayemi/shp-sub005/internal/db"
	"github.com/Hollayemi/shp-sub005/internal/deploy"
	"github.com/Hollayemi/shp-sub005/internal/logging"
	"github.com/Hollayemi/shp-sub005/internal/middleware"
	"github.com/Hollayemi/shp-sub005/internal/provider"
	"github.com/Hollayemi/shp-sub005/internal/sandbox"
	"github.com/Hollayemi/shp-sub005/internal/store"
	"github.com/Hollayemi/shp-sub005/internal/templates"
)

func main() {
	// Missing .env is fine: production supplies real environment
	// variables.
	_ = godotenv.Load()

	cfg := config.Load()
	logging.Init()
	defer logging.Sync()

	database, err := db.NewDatabase(cfg.Database)
	if err != nil {
		logging.L().Fatal("database init failed", zap.Error(err))
	}
	if err := database.Migrate(); err != nil {
		logging.L().Fatal("migrations failed", zap.Error(err))
	}

	st := store.NewGormStore(database.DB)
	statusCache := cache.NewStatusCache(cache.New(cfg.Redis))

	providerClient := provider.NewHTTPClient(cfg.Provider)
	defer providerClient.Close()

	registry := templates.NewRegistry()
	selector := sandbox.NewImageSelector(st, registry, cfg.Environment)
	provisioner := sandbox.NewProvisioner(st, providerClient, selector, registry)
	devserver := sandbox.NewDevServerController(providerClient, st)
	snapshots := sandbox.NewSnapshotManager(providerClient, st)
	healthLoop := sandbox.NewHealthLoop(st, providerClient, provisioner, devserver, statusCache)
	healthLoop.Start()
	defer healthLoop.Stop()

	uploader := deploy.NewUploader(cfg.Deploy)
	pipeline := deploy.NewPipeline(providerClient, uploader, st)

	router := setupRouter(cfg, database)
	handlers := api.NewHandlers(st, provisioner, devserver, snapshots, healthLoop, pipeline, statusCache)
	handlers.Register(router.Group("/api"))

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logging.L().Info("server starting", zap.String("port", cfg.Port), zap.String("environment", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.L().Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.L().Error("forced shutdown", zap.Error(err))
	}
	if err := database.Close(); err != nil {
		logging.L().Error("database close failed", zap.Error(err))
	}
}

func setupRouter(cfg *config.Config, database *db.Database) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.Recovery())
	router.Use(middleware.NewRateLimiter(50, 100).Middleware())

	router.GET("/health", func(c *gin.Context) {
		if err := database.Health(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().UTC()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
