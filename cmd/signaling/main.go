package main

import (
	"context"
	"log"

	"github.com/mossy-p/call-relay/config"
	"github.com/mossy-p/call-relay/internal/handlers"
	"github.com/mossy-p/call-relay/internal/lifecycle"
	"github.com/mossy-p/call-relay/internal/liveness"
	"github.com/mossy-p/call-relay/internal/middleware"
	"github.com/mossy-p/call-relay/internal/redis"
	"github.com/mossy-p/call-relay/internal/registry"
	"github.com/mossy-p/call-relay/internal/signaling"

	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Connect to Redis (presence mirror)
	if err := redis.Connect(cfg.Redis); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()

	log.Println("Redis connection established")

	// Core components: one registry per process, torn down with it
	reg := registry.New(registry.SystemClock())
	router := signaling.New(reg)
	life := lifecycle.New(reg)
	ws := handlers.NewSignalingHandler(reg, router, life)

	// Liveness monitor sweeps in the background until shutdown
	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	monitor := liveness.New(reg, cfg.Liveness, registry.SystemClock())
	go monitor.Run(monitorCtx)

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.Default()

	// Global CORS middleware (runs before routing)
	engine.Use(handlers.OriginFilter(cfg.AllowedOrigins))

	// Health check endpoint
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	apiGroup := engine.Group("/api")
	{
		// Login endpoint (public)
		apiGroup.POST("/auth/login", handlers.Login(cfg.JWTSecret))

		// Presence snapshot (requires JWT)
		apiGroup.GET("/presence", middleware.JWTAuth(cfg.JWTSecret), handlers.Presence(reg))
	}

	// WebSocket signaling endpoint (JWT supplies the channel's identity)
	wsGroup := engine.Group("/ws")
	{
		wsGroup.GET("/signal", middleware.JWTAuth(cfg.JWTSecret), ws.Handle)
	}

	// Start server
	log.Printf("Starting call signaling server on port %s", cfg.Port)
	if err := engine.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
