package services

import (
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"learnhub_payments/internal/models"
)

// InitDB initializes the database connection with connection pooling.
// Unique violations are translated to gorm.ErrDuplicatedKey.
func InitDB(dsn string, log *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Info("Database connection established")
	return db, nil
}

// AutoMigrate runs database migrations for all models
func AutoMigrate(db *gorm.DB, log *zap.Logger) error {
	log.Info("Running database migrations...")

	err := db.AutoMigrate(
		&models.PaymentOrder{},
		&models.GatewayTransaction{},
		&models.PaymentCallbackHistory{},
		&models.InstallmentPlan{},
		&models.Installment{},
		&models.RevenueEntry{},
		&models.TeacherBalance{},
		&models.PayoutRequest{},
		&models.PayoutAllocation{},
		&models.ScheduledTask{},
		&models.ScheduledTaskHistory{},
	)
	if err != nil {
		return err
	}

	log.Info("Database migrations completed")
	return nil
}
