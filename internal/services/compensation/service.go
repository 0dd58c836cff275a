package compensation

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"realty-network/config"
	"realty-network/internal/database"
	"realty-network/internal/services/compensation/handler"
	"realty-network/internal/services/compensation/rules"
	"realty-network/internal/services/compensation/store"
)

// Service owns the long-lived resources of one compensation process.
type Service struct {
	DB         *gorm.DB
	Redis      *redis.Client
	Registry   *rules.Registry
	Dispatcher *handler.Dispatcher
	Handler    *handler.CompensationHandler

	log *logrus.Logger
}

// New connects to postgres and redis, migrates the schema, seeds the rank
// table from the configured plan and builds the facade.
func New(cfg config.Config, logger *logrus.Logger) (*Service, error) {
	plan, err := cfg.Compensation.Plan()
	if err != nil {
		return nil, fmt.Errorf("invalid compensation plan: %w", err)
	}

	db, err := database.NewConnection(cfg.DB.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}
	if err := database.MigrateCompensationDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate compensation database: %w", err)
	}
	if err := database.SeedRanks(db, plan.RankRows()); err != nil {
		return nil, fmt.Errorf("failed to seed ranks: %w", err)
	}

	redisClient, err := config.NewRedisClient(cfg.Redis, logger)
	if err != nil {
		return nil, err
	}

	repo := store.New(db)
	registry := rules.NewRegistry(plan, repo, logger)
	if _, err := registry.Reload(context.Background()); err != nil {
		logger.WithError(err).Warn("Initial rule load failed, using configured plan")
	}

	dispatcher := handler.NewDispatcher(cfg.Compensation.DispatchWorkers, cfg.Compensation.DispatchQueue, cfg.Compensation.SettleTimeout, logger)
	h := handler.NewCompensationHandler(repo, registry, dispatcher, redisClient, handler.Options{
		VolumeMaxNodes:   cfg.Compensation.VolumeMaxNodes,
		SweepConcurrency: cfg.Compensation.SweepConcurrency,
		CacheTTL:         cfg.Compensation.SummaryCacheTTL,
	}, logger)

	return &Service{
		DB:         db,
		Redis:      redisClient,
		Registry:   registry,
		Dispatcher: dispatcher,
		Handler:    h,
		log:        logger,
	}, nil
}

// Ping reports whether postgres and redis are both reachable.
func (s *Service) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if err := s.Redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// Close drains queued settlements before releasing connections.
func (s *Service) Close() {
	s.Dispatcher.Stop()
	if err := s.Redis.Close(); err != nil {
		s.log.WithError(err).Warn("Failed to close redis client")
	}
	if sqlDB, err := s.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
