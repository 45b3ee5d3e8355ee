package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hugh/go-tenant/internal/database/models"
	"github.com/hugh/go-tenant/pkg/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func Connect(cfg *config.DatabaseConfig, log *slog.Logger) (*gorm.DB, error) {
	gormLogger := logger.Default.LogMode(logger.Warn)
	if cfg.SSLMode == "disable" {
		gormLogger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying db: %w", err)
	}

	// Connection pool settings
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)

	log.Info("connected to database", "host", cfg.Host, "database", cfg.Name)

	return db, nil
}

// Models lists every table the service owns, in dependency order.
func Models() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Organization{},
		&models.Member{},
		&models.RolePermission{},
		&models.Product{},
		&models.ProductPrice{},
		&models.Subscription{},
		&models.Transaction{},
		&models.Coupon{},
	}
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

// CreateOrganization creates an organization together with its owner
// membership so an organization never exists without an owner.
func CreateOrganization(ctx context.Context, db *gorm.DB, org *models.Organization, owner *models.User) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		org.OwnerUserID = owner.ID
		if err := tx.Create(org).Error; err != nil {
			return fmt.Errorf("creating organization: %w", err)
		}
		member := &models.Member{
			OrganizationID: org.ID,
			UserID:         owner.ID,
			Role:           models.RoleOwner,
		}
		if err := tx.Create(member).Error; err != nil {
			return fmt.Errorf("creating owner membership: %w", err)
		}
		return nil
	})
}
