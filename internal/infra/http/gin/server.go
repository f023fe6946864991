package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"lettz/internal/infra/config"
	"lettz/internal/infra/obs"
)

type ListingHTTP interface {
	Remove(c *gin.Context)
}

type ConversationHTTP interface {
	Contact(c *gin.Context)
	ListMine(c *gin.Context)
}

type NotificationHTTP interface {
	Get(c *gin.Context)
	Stream(c *gin.Context)
	Raise(c *gin.Context)
	Clear(c *gin.Context)
}

type LiveHTTP interface {
	Conversation(c *gin.Context)
}

type Handlers struct {
	Listing        ListingHTTP
	Conversation   ConversationHTTP
	Notification   NotificationHTTP
	Live           LiveHTTP
	AuthMiddleware gin.HandlerFunc
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	return &http.Server{Addr: cfg.HTTPAddr, Handler: NewRouter(cfg.Env, obsMW, health, h)}
}

// NewRouter builds the gin engine on its own so tests can drive it through
// httptest.
func NewRouter(env string, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *gin.Engine {
	mode := configureGinMode(env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "Idempotency-Key"},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			"X-Request-ID",
		},
		MaxAge: 12 * time.Hour,
	}))
	if h.AuthMiddleware != nil {
		router.Use(h.AuthMiddleware)
	}

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)

	api := router.Group("/api/v1")
	if h.Listing != nil {
		api.DELETE("/listings/:id", h.Listing.Remove)
	}
	if h.Conversation != nil {
		api.POST("/listings/:id/conversations", h.Conversation.Contact)
		api.GET("/me/conversations", h.Conversation.ListMine)
	}
	if h.Notification != nil {
		meGroup := api.Group("/me/notifications")
		meGroup.GET("", h.Notification.Get)
		meGroup.GET("/stream", h.Notification.Stream)
		meGroup.PUT("/:category", h.Notification.Raise)
		meGroup.DELETE("/:category", h.Notification.Clear)
	}
	if h.Live != nil {
		router.GET("/ws/conversations/:id", h.Live.Conversation)
	}
	return router
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
