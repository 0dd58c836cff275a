package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"realty-network/internal/database/models"
)

func NewConnection(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("DSN is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}

	return db, nil
}

func MigrateCompensationDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Participant{},
		&models.Investment{},
		&models.Installment{},
		&models.CommissionRule{},
		&models.LedgerEntry{},
		&models.Wallet{},
		&models.Rank{},
		&models.RankAssignment{},
		&models.RankReward{},
	)
}

// SeedRanks upserts the rank table by name so persisted ids exist for every
// tier of the plan.
func SeedRanks(db *gorm.DB, ranks []models.Rank) error {
	if len(ranks) == 0 {
		return nil
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"target_volume", "display_order", "reward", "updated_at"}),
	}).Create(&ranks).Error
}
