package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"geoinsight/api/internal/cache"
	"geoinsight/api/internal/config"
	"geoinsight/api/internal/ingest"
	"geoinsight/api/internal/server"
	"geoinsight/api/internal/store"
)

// @title GeoInsight API
// @version 1.0
// @description Multi-tenant geospatial telemetry and geofence evaluation API

// @contact.name API Support
// @contact.email support@geoinsight.local

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:3000
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	log.Println("[API] Starting GeoInsight API Server...")

	// Load configuration
	cfg := config.Load()

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatalf("[API] Failed to connect to database: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
	log.Println("[API] Connected to database")

	if err := store.Migrate(db); err != nil {
		log.Fatalf("[API] Failed to migrate database: %v", err)
	}
	log.Println("[API] Database migrated")

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisURL,
		DB:   0,
	})

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()

	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Fatalf("[API] Failed to connect to Redis: %v", err)
	}
	log.Println("[API] Connected to Redis")
	defer redisClient.Close()

	// Connect to NATS
	natsConn, err := nats.Connect(cfg.NATSURL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		log.Fatalf("[API] Failed to connect to NATS: %v", err)
	}
	log.Println("[API] Connected to NATS")
	defer natsConn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create and setup server
	srv := server.NewServer(cfg, store.New(db), cache.New(redisClient), natsConn, clockwork.NewRealClock())
	srv.Setup(ctx)

	// Bridge NATS location updates into the ingest pipeline.
	bridge := ingest.NewBridge(natsConn, srv.Pipeline(), srv.Users(), srv.Limiter())
	if err := bridge.Start(ctx); err != nil {
		log.Fatalf("[API] Failed to start NATS bridge: %v", err)
	}
	log.Println("[API] NATS ingest bridge started")

	// Start HTTP server
	go func() {
		if err := srv.Run(); err != nil {
			log.Fatalf("[API] Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Println("[API] Shutting down...")

	bridge.Stop()
	cancel()
	if err := natsConn.Drain(); err != nil {
		log.Printf("[API] NATS drain failed: %v", err)
	}
	log.Println("[API] Server stopped")
}
