package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/macroscope/macroscope/internal/app"
	"github.com/macroscope/macroscope/internal/handlers"
	"github.com/macroscope/macroscope/internal/middleware"
)

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(db *gorm.DB, cfg *app.Config, infra *Infrastructure, svcs *Services) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if infra == nil || infra.JWT == nil || infra.Resolver == nil || infra.Health == nil {
		return nil, fmt.Errorf("infrastructure with jwt, identity resolver and health manager must be provided")
	}
	if svcs == nil {
		return nil, fmt.Errorf("services must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.RequestActor())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins...))

	registerHealthRoutes(r, infra.Health)
	registerMetricsRoutes(r, cfg)

	if infra.Local != nil {
		r.GET("/files/:bucket/*path", handlers.NewFileServer(infra.Local).Serve)
	}

	public := r.Group("/api")
	requireAuth := middleware.Auth(infra.JWT, infra.Resolver)
	api := r.Group("/api")
	api.Use(requireAuth)

	var throttle []gin.HandlerFunc
	if cfg.Server.RateLimit.Enabled && infra.RateStore != nil {
		requests, window := cfg.Server.RateLimit.Limits()
		throttle = append(throttle, middleware.RateLimit(infra.RateStore, requests, window))
	}

	registerAuthRoutes(public, api, handlers.NewAuthHandler(svcs.Auth), throttle)
	registerProfileRoutes(api, handlers.NewProfileHandler(svcs.Profiles))
	registerGroupRoutes(api, handlers.NewGroupHandler(svcs.Groups, svcs.Invitations))
	registerProjectRoutes(api, handlers.NewProjectHandler(svcs.Projects, svcs.Files))
	registerInvitationRoutes(public, api, handlers.NewInvitationHandler(svcs.Invitations))
	registerNotificationRoutes(api, handlers.NewNotificationHandler(svcs.Notifications))
	registerAccountRoutes(api, handlers.NewAccountHandler(svcs.Accounts))

	if infra.Hub != nil {
		// Browsers cannot set headers on websocket upgrades.
		realtimeAuth := middleware.Auth(infra.JWT, infra.Resolver, middleware.AllowQueryToken())
		r.GET("/api/realtime", realtimeAuth, handlers.NewRealtimeHandler(infra.Hub).Stream)
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
