package ginserver

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type Config struct {
	Addr           string
	Mode           string // debug, test or release
	AllowedOrigins []string
}

type Handlers struct {
	Conversations  ConversationHTTP
	WS             *WSHandler
	Health         HealthHandlers
	Metrics        http.Handler
	AuthMiddleware gin.HandlerFunc
}

func NewServer(cfg Config, log *slog.Logger, h Handlers) *http.Server {
	mode := configureGinMode(cfg.Mode)
	log.Info("gin initialized", "mode", mode)
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(cfg, log, h),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func NewRouter(cfg Config, log *slog.Logger, h Handlers) *gin.Engine {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestID())
	router.Use(Logger(log))
	router.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{"Content-Length", "Content-Type", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}))
	if h.AuthMiddleware != nil {
		router.Use(h.AuthMiddleware)
	}

	router.GET("/healthz", h.Health.Livez)
	router.GET("/readyz", h.Health.Readyz)
	if h.Metrics != nil {
		router.GET("/metrics", gin.WrapH(h.Metrics))
	}
	if h.WS != nil {
		router.GET("/ws", h.WS.Connect)
	}

	if h.Conversations != nil {
		api := router.Group("/api/conversations")
		api.GET("", h.Conversations.List)
		api.POST("", h.Conversations.Open)
		api.GET("/:id", h.Conversations.Get)
		api.GET("/:id/messages", h.Conversations.Messages)
		api.POST("/:id/messages", h.Conversations.Send)
		api.POST("/:id/read", h.Conversations.MarkRead)
		api.POST("/:id/archive", h.Conversations.Archive)
		api.GET("/:id/search", h.Conversations.Search)
	}
	return router
}

func configureGinMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test", "testing":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}
	return gin.Mode()
}
