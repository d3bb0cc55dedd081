package router

import (
	"github.com/labstack/echo/v4"
	"github.com/sraws/backend/internal/handlers"
	"github.com/sraws/backend/internal/middleware"
	"github.com/sraws/backend/internal/websocket"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Routes groups everything SetupRoutes mounts.
type Routes struct {
	fx.In

	Auth          *handlers.AuthHandler
	Notifications *handlers.NotificationHandler
	Posts         *handlers.PostHandler
	Likes         *handlers.LikeHandler
	Comments      *handlers.CommentHandler
	Messages      *handlers.MessageHandler
	Authenticator *middleware.Authenticator
	Hub           *websocket.Hub
	InternalKey   string `name:"internalKey"`
	Log           *zap.Logger
}

// SetupRoutes configures all application routes
func SetupRoutes(e *echo.Echo, r Routes) {
	e.GET("/health", handlers.HealthCheck(r.Hub))
	e.GET("/ws", websocket.ServeWS(r.Hub, r.Authenticator))

	api := e.Group("/api")
	r.Auth.RegisterAuthRoutes(api.Group("/auth"))

	// Service-to-service routes authenticate with the shared key, not a user token.
	r.Notifications.RegisterInternalRoutes(api.Group("", middleware.InternalKey(r.InternalKey)))

	protected := api.Group("", r.Authenticator.RequireUser())
	r.Notifications.RegisterNotificationRoutes(protected)
	r.Posts.RegisterPostRoutes(protected)
	r.Likes.RegisterLikeRoutes(protected)
	r.Comments.RegisterCommentRoutes(protected)
	r.Messages.RegisterMessageRoutes(protected)

	r.Log.Info("routes configured", zap.Int("count", len(e.Routes())))
}
