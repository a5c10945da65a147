package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"film-forge-server/config"
	"film-forge-server/models"
	pkgLogger "film-forge-server/pkg/logger"
)

var DB *gorm.DB

func InitDatabase(cfg *config.Config) error {
	var err error

	gormLogger := logger.New(
		pkgLogger.Logger,
		logger.Config{
			SlowThreshold: time.Second,
			LogLevel:      logger.Warn,
			Colorful:      false,
		},
	)

	DB, err = gorm.Open(postgres.Open(cfg.GetDSN()), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := AutoMigrate(DB); err != nil {
		return fmt.Errorf("failed to auto-migrate models: %w", err)
	}

	pkgLogger.Info("Database connected successfully")
	return nil
}

// AutoMigrate creates or updates the schema for every pipeline model. Also
// used by tests against an in-memory database.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Film{},
		&models.StoryFramework{},
		&models.Chapter{},
		&models.GeneratedVideo{},
	)
}

func GetDB() *gorm.DB {
	return DB
}
