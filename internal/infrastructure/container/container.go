package container

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/codepair/matching-service/internal/config"
	httpdelivery "github.com/codepair/matching-service/internal/delivery/http"
	"github.com/codepair/matching-service/internal/delivery/http/handler"
	"github.com/codepair/matching-service/internal/delivery/http/middleware"
	"github.com/codepair/matching-service/internal/infrastructure/collab"
	"github.com/codepair/matching-service/internal/infrastructure/database"
	"github.com/codepair/matching-service/internal/infrastructure/logger"
	"github.com/codepair/matching-service/internal/infrastructure/metrics"
	"github.com/codepair/matching-service/internal/infrastructure/server"
	"github.com/codepair/matching-service/internal/repository"
	"github.com/codepair/matching-service/internal/repository/postgres"
	"github.com/codepair/matching-service/internal/repository/redisstore"
	"github.com/codepair/matching-service/internal/usecase/matching"
)

// Container holds all application dependencies
type Container struct {
	Config   *config.Config
	Log      *zap.Logger
	Redis    *redis.Client
	DB       *sqlx.DB
	Metrics  *metrics.Metrics
	Matching *matching.Service
	Server   *server.Server
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *config.Config) (*Container, error) {
	log, err := logger.New(&cfg.Logging, cfg.Server.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Initialize Redis (the shared store)
	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	// Initialize the optional match-history archive
	var db *sqlx.DB
	var history repository.HistoryRepository
	if cfg.HistoryEnabled() {
		db, err = database.NewPostgresDB(&cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		history = postgres.NewHistoryRepository(db)
	} else {
		log.Info("match history archive disabled, no database configured")
	}

	m := metrics.New()

	// Initialize repositories
	store := redisstore.NewRequestStore(redisClient, cfg.Match.RequestTTL+cfg.Match.RetentionGrace)
	queue := redisstore.NewMatchQueue(redisClient)
	deadlines := redisstore.NewDeadlineIndex(redisClient)
	markers := redisstore.NewMarkerStore(redisClient)
	bus := redisstore.NewEventBus(redisClient, log)

	// Initialize collaborator client
	collabClient := collab.NewClient(&cfg.Collab)

	// Initialize the matching engine
	matchingService := matching.NewService(
		store,
		queue,
		deadlines,
		markers,
		bus,
		collabClient,
		history,
		clock.New(),
		log,
		m,
		cfg.Match,
	)

	// Initialize handlers and middleware
	matchHandler := handler.NewMatchHandler(matchingService, log)
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.AccessSecret)

	// Initialize router
	router := httpdelivery.NewRouter(matchHandler, authMiddleware, m)
	ginRouter := router.Setup()

	// Initialize server
	srv := server.NewServer(&cfg.Server, ginRouter, log)

	return &Container{
		Config:   cfg,
		Log:      log,
		Redis:    redisClient,
		DB:       db,
		Metrics:  m,
		Matching: matchingService,
		Server:   srv,
	}, nil
}

// StartBackground launches the matcher trigger loop and the timeout sweeper.
// Both stop when ctx is cancelled.
func (c *Container) StartBackground(ctx context.Context) {
	go func() {
		if err := c.Matching.RunMatchLoop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.Log.Error("match loop exited", zap.Error(err))
		}
	}()
	go c.Matching.RunSweeper(ctx)
}

// Close closes all connections
func (c *Container) Close() error {
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Log.Error("error closing redis", zap.Error(err))
		}
	}

	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}

	_ = c.Log.Sync()
	return nil
}
