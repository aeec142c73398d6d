package main

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roomhub/groupcall/config"
	"github.com/roomhub/groupcall/internal/engine"
	"github.com/roomhub/groupcall/internal/handlers"
	"github.com/roomhub/groupcall/internal/logger"
	"github.com/roomhub/groupcall/internal/middleware"
	"github.com/roomhub/groupcall/internal/redis"
	"github.com/roomhub/groupcall/internal/room"
	"github.com/roomhub/groupcall/internal/signaling"
)

func main() {
	cfg := config.Load()
	log := logger.Init(cfg.Environment)
	defer log.Sync()

	if err := redis.Connect(cfg.Redis); err != nil {
		log.Fatalw("failed to connect to Redis", "error", err)
	}
	defer redis.Close()
	log.Infow("Redis connection established")

	ctx := context.Background()
	eng, err := engine.Dial(ctx, cfg.Engine.URI, cfg.Engine.Timeout, log)
	if err != nil {
		log.Fatalw("failed to connect to media engine", "uri", cfg.Engine.URI, "error", err)
	}
	defer eng.Close()
	log.Infow("media engine connected", "uri", cfg.Engine.URI)

	registry := room.NewRegistry(eng, cfg.OverlayNameURI, log)
	go registry.DispatchCandidates(ctx)

	store := redis.NewStore(redis.GetClient())
	roomAPI := handlers.NewRoomAPI(store, log)
	router := signaling.NewRouter(registry, store, log)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(handlers.OriginFilter(cfg.AllowedOrigins, log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := r.Group("/api")
	{
		apiGroup.POST("/auth/login", handlers.Login(cfg.JWTSecret))
		apiGroup.POST("/rooms", middleware.JWTAuth(cfg.JWTSecret), roomAPI.Create)
		apiGroup.GET("/rooms/:roomId", roomAPI.Get)
		apiGroup.DELETE("/rooms/:roomId", middleware.JWTAuth(cfg.JWTSecret), roomAPI.Delete)
	}

	wsGroup := r.Group("/ws")
	{
		wsGroup.GET("/groupcall", handlers.Signaling(router, log))
	}

	log.Infow("starting group-call signaling server", "port", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalw("server exited", "error", err)
	}
}
