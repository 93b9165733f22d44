package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"geoinsight/api/internal/cache"
	"geoinsight/api/internal/config"
	"geoinsight/api/internal/eventbus"
	"geoinsight/api/internal/handler"
	"geoinsight/api/internal/index"
	"geoinsight/api/internal/ingest"
	"geoinsight/api/internal/middleware"
	"geoinsight/api/internal/ratelimit"
	"geoinsight/api/internal/service"
	"geoinsight/api/internal/store"
	"geoinsight/api/internal/tracker"
	"geoinsight/api/internal/webhook"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Server wires the HTTP surface over the shared plumbing: store, cache,
// NATS, the in-memory geofence index and the ingest pipeline.
type Server struct {
	router *gin.Engine
	config *config.Config
	store  *store.Store
	cache  *cache.Cache
	nats   *nats.Conn
	clock  clockwork.Clock

	bus        *eventbus.Bus
	index      *index.Index
	tracker    *tracker.Tracker
	tiers      *ratelimit.Tiers
	limiter    *ratelimit.Limiter
	pipeline   *ingest.Pipeline
	subs       *webhook.Subscriptions
	dispatcher *webhook.Dispatcher
	users      *service.UserService
	wsHub      *handler.WSHub
}

// NewServer creates a new server instance.
func NewServer(cfg *config.Config, st *store.Store, c *cache.Cache, natsConn *nats.Conn, clock clockwork.Clock) *Server {
	return &Server{
		config: cfg,
		store:  st,
		cache:  c,
		nats:   natsConn,
		clock:  clock,
	}
}

// Setup builds services, handlers and routes, and starts the background
// loops (index listener, webhook dispatcher, websocket hub) under ctx.
func (s *Server) Setup(ctx context.Context) {
	// Tier table with operator overrides.
	s.tiers = ratelimit.NewTiers()
	for tier, o := range s.config.TierOverrides {
		s.tiers.Override(tier, o.PerMinute, o.PerHour, o.PerDay)
	}

	s.limiter = ratelimit.New(s.cache.Client(), s.tiers, s.clock)

	// Event fanout and the in-memory containment index.
	s.bus = eventbus.New(s.cache, s.nats)
	s.index = index.New(s.store)
	go s.index.Listen(ctx, s.cache)

	s.tracker = tracker.New(s.index, s.cache)
	s.pipeline = ingest.NewPipeline(ingest.NewSQLStore(s.store), s.tracker, s.bus, s.cache, s.clock, s.config.GapThreshold)

	// Webhook subscriptions and the delivery dispatcher.
	s.subs = webhook.NewSubscriptions(s.cache)
	s.dispatcher = webhook.NewDispatcher(s.subs, s.cache, s.config, s.clock)
	go s.dispatcher.Run(ctx, s.bus)

	// Websocket hub before the handlers that feed it.
	s.wsHub = handler.NewWSHub(s.bus)
	go s.wsHub.Run(ctx)
	log.Println("[Server] WebSocket hub started")

	// Services.
	s.users = service.NewUserService(s.store, s.cache)
	deviceService := service.NewDeviceService(s.store, s.cache, s.tracker, s.tiers)
	geofenceService := service.NewGeofenceService(s.store, s.cache, s.index, s.subs, s.tiers, s.config.CircleVertices)
	reportService := service.NewReportService(s.store)
	spatialService := service.NewSpatialService(s.store, s.tiers)

	// Handlers.
	deviceHandler := handler.NewDeviceHandler(deviceService, reportService, s.pipeline)
	geofenceHandler := handler.NewGeofenceHandler(geofenceService)
	webhookHandler := handler.NewWebhookHandler(geofenceService, s.subs, s.dispatcher)
	accountHandler := handler.NewAccountHandler(s.cache, s.tiers)
	spatialHandler := handler.NewSpatialHandler(spatialService)

	// Setup Gin router
	s.router = gin.Default()

	// CORS middleware
	s.router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-API-Key")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	// Swagger UI
	s.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Public routes
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.Auth(s.config.JWTSecret, s.users)

	// Event stream: authenticated, outside the rate-limited group so a
	// long-lived socket does not consume request quota.
	s.router.GET("/ws/events", auth, s.wsHub.Serve)

	// Protected routes
	api := s.router.Group("/api/v1")
	api.Use(auth)
	api.Use(middleware.Admission(s.limiter, s.config.RateLimitEnabled))
	api.Use(middleware.Usage(s.cache))
	{
		// Devices
		api.GET("/devices", deviceHandler.List)
		api.POST("/devices", deviceHandler.Create)
		api.POST("/devices/nearby", deviceHandler.Nearby)
		api.POST("/devices/locations/bulk", deviceHandler.BulkLocations)
		api.GET("/devices/:id", deviceHandler.Get)
		api.DELETE("/devices/:id", deviceHandler.Delete)
		api.PUT("/devices/:id/location", deviceHandler.UpdateLocation)
		api.GET("/devices/:id/location", deviceHandler.Location)
		api.GET("/devices/:id/stats", deviceHandler.Stats)
		api.GET("/devices/:id/trajectory", deviceHandler.Trajectories)
		api.GET("/devices/:id/trajectory/export", deviceHandler.Export)
		api.GET("/trajectories/:id/points", deviceHandler.TrajectoryPoints)

		// Geofences
		api.GET("/geofences", geofenceHandler.List)
		api.POST("/geofences", geofenceHandler.Create)
		api.POST("/geofences/check", geofenceHandler.Check)
		api.GET("/geofences/containing/point", geofenceHandler.Containing)
		api.GET("/geofences/nearby/point", geofenceHandler.Nearby)
		api.GET("/geofences/:id", geofenceHandler.Get)
		api.PUT("/geofences/:id", geofenceHandler.Update)
		api.DELETE("/geofences/:id", geofenceHandler.Delete)

		// Spatial utilities
		api.POST("/routes/distances", spatialHandler.RouteDistances)

		// Webhooks
		api.POST("/geofences/:id/webhook", webhookHandler.Register)
		api.GET("/geofences/:id/webhook", webhookHandler.Get)
		api.DELETE("/geofences/:id/webhook", webhookHandler.Remove)
		api.GET("/webhooks/deliveries", webhookHandler.Deliveries)

		// Account
		api.GET("/account/usage", accountHandler.Usage)
		api.GET("/events/recent", accountHandler.RecentEvents)
	}
}

// handleHealth reports component reachability. The service is unhealthy
// only when the store is down; cache and NATS degrade gracefully.
func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()
	components := gin.H{}
	status := http.StatusOK

	if err := s.store.Ping(ctx); err != nil {
		components["database"] = "down"
		status = http.StatusServiceUnavailable
	} else {
		components["database"] = "ok"
	}

	if err := s.cache.Ping(ctx); err != nil {
		components["redis"] = "degraded"
	} else {
		components["redis"] = "ok"
	}

	if s.nats != nil && s.nats.IsConnected() {
		components["nats"] = "ok"
	} else {
		components["nats"] = "degraded"
	}

	body := gin.H{
		"status":     "ok",
		"version":    config.ServiceVersion,
		"components": components,
	}
	if status != http.StatusOK {
		body["status"] = "unavailable"
	}
	c.JSON(status, body)
}

// Pipeline returns the ingest pipeline for the NATS bridge.
func (s *Server) Pipeline() *ingest.Pipeline { return s.pipeline }

// Users returns the user service for the NATS bridge.
func (s *Server) Users() *service.UserService { return s.users }

// Limiter returns the admission controller for the NATS bridge.
func (s *Server) Limiter() *ratelimit.Limiter { return s.limiter }

// GetRouter returns the gin router for testing.
func (s *Server) GetRouter() *gin.Engine { return s.router }

// Run starts the HTTP server.
func (s *Server) Run() error {
	addr := fmt.Sprintf(":%d", s.config.APIPort)
	log.Printf("[Server] HTTP server listening on %s", addr)
	return s.router.Run(addr)
}
