package routes

import (
	"time"

	"dolphdive/internal/api/handlers"
	"dolphdive/internal/api/middleware"
	"dolphdive/internal/database"
	"dolphdive/internal/services"
	"dolphdive/internal/websocket"

	"github.com/gin-gonic/gin"
)

type Router struct {
	engine         *gin.Engine
	wsHandler      *handlers.WSHandler
	authHandler    *handlers.AuthHandler
	userHandler    *handlers.UserHandler
	messageHandler *handlers.MessageHandler
	uploadHandler  *handlers.UploadHandler
	rateLimitMW    *middleware.RateLimitMiddleware
	authMW         *middleware.AuthMiddleware
}

func NewRouter(
	dispatcher *websocket.Dispatcher,
	userService *services.UserService,
	messageService *services.MessageService,
	redisService *services.RedisService,
	storage *database.MinIOClient,
	jwtSecret string,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS())
	engine.Use(middleware.LogApi())

	return &Router{
		engine:         engine,
		wsHandler:      handlers.NewWSHandler(dispatcher),
		authHandler:    handlers.NewAuthHandler(userService),
		userHandler:    handlers.NewUserHandler(userService),
		messageHandler: handlers.NewMessageHandler(messageService),
		uploadHandler:  handlers.NewUploadHandler(storage),
		rateLimitMW:    middleware.NewRateLimitMiddleware(redisService),
		authMW:         middleware.NewAuthMiddleware(jwtSecret),
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := r.engine.Group("/api/v1")

	// WebSocket endpoint; token accepted via query parameter for browsers.
	api.GET("/ws",
		r.authMW.RequireAuth(),
		r.wsHandler.HandleWebSocket,
	)

	auth := api.Group("/")
	auth.Use(r.authMW.RequireAuth())
	{
		users := auth.Group("/users")
		users.Use(r.rateLimitMW.RateLimit(100, time.Minute))
		{
			users.GET("/profile", r.userHandler.GetProfile)
			users.PUT("/profile", r.userHandler.UpdateProfile)
		}

		messages := auth.Group("/messages")
		messages.Use(r.rateLimitMW.RateLimit(200, time.Minute))
		{
			messages.POST("", r.messageHandler.SendMessage)
			messages.GET("/sync", r.messageHandler.SyncMessages)
			messages.PUT("/:id/read", r.messageHandler.MarkMessageRead)
			messages.DELETE("/conversation/:userId", r.messageHandler.DeleteConversation)
		}

		uploads := auth.Group("/uploads")
		uploads.Use(r.rateLimitMW.RateLimit(30, time.Minute))
		{
			uploads.POST("", r.uploadHandler.UploadAttachment)
		}
	}

	public := api.Group("/auth")
	public.Use(r.rateLimitMW.RateLimitIP(50, time.Minute))
	{
		public.POST("/register", r.authHandler.Register)
		public.POST("/login", r.authHandler.Login)
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
