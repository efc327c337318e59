// internal/database/connection.go
package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/javajoker/billing-backend/internal/billing"
	"github.com/javajoker/billing-backend/internal/config"
	"github.com/javajoker/billing-backend/internal/models"
)

func Initialize(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel(cfg.LogLevel)),
		TranslateError: true,
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pool
	if cfg.Driver == "sqlite" {
		// one writer at a time; concurrent checkouts queue on the pool
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)

	// Test connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logrus.WithField("driver", cfg.Driver).Info("Database connection established successfully")
	return db, nil
}

func logLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		logrus.WithError(err).Error("Error getting underlying sql.DB")
		return
	}

	if err := sqlDB.Close(); err != nil {
		logrus.WithError(err).Error("Error closing database connection")
	} else {
		logrus.Info("Database connection closed successfully")
	}
}

// Models lists every table owned by the service, in migration order.
func Models() []interface{} {
	return []interface{}{
		&models.Product{},
		&models.Denomination{},
		&models.Purchase{},
		&models.PurchaseItem{},
		&models.AdminUser{},
	}
}

func RunMigrations(db *gorm.DB) error {
	logrus.Info("Running database migrations...")

	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Create indexes
	if err := createIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	if err := backfillReportingKeys(db); err != nil {
		return fmt.Errorf("failed to backfill reporting keys: %w", err)
	}

	logrus.Info("Database migrations completed successfully")
	return nil
}

func createIndexes(db *gorm.DB) error {
	indexes := []string{
		// superseded by the customer_key and product_key columns
		"DROP INDEX IF EXISTS idx_purchases_customer_norm",
		"DROP INDEX IF EXISTS idx_purchase_items_product_norm",
		"CREATE INDEX IF NOT EXISTS idx_products_name ON products (name)",
	}

	for _, index := range indexes {
		if err := db.Exec(index).Error; err != nil {
			logrus.WithError(err).WithField("statement", index).Warn("Failed to create index")
			// Continue with other indexes instead of failing completely
		}
	}

	return nil
}

// backfillReportingKeys fills customer_key and product_key on rows written
// before those columns existed.
func backfillReportingKeys(db *gorm.DB) error {
	writer := db.Session(&gorm.Session{NewDB: true})

	var purchases []models.Purchase
	err := db.Select("id", "customer_identifier").Where("customer_key = ''").
		FindInBatches(&purchases, 500, func(_ *gorm.DB, _ int) error {
			for _, p := range purchases {
				key := billing.NormalizeIdentifier(p.CustomerIdentifier)
				if err := writer.Model(&models.Purchase{}).Where("id = ?", p.ID).UpdateColumn("customer_key", key).Error; err != nil {
					return err
				}
			}
			return nil
		}).Error
	if err != nil {
		return err
	}

	var items []models.PurchaseItem
	return db.Select("id", "product_name").Where("product_key = ''").
		FindInBatches(&items, 500, func(_ *gorm.DB, _ int) error {
			for _, item := range items {
				key := billing.NormalizeIdentifier(item.ProductName)
				if err := writer.Model(&models.PurchaseItem{}).Where("id = ?", item.ID).UpdateColumn("product_key", key).Error; err != nil {
					return err
				}
			}
			return nil
		}).Error
}

// SeedInitialData inserts the starter catalog, the denomination table and the
// bootstrap admin in one transaction. Every step is skipped when its table
// already has rows.
func SeedInitialData(db *gorm.DB, admin config.AdminConfig) error {
	logrus.Info("Seeding initial data...")

	if err := WithTransaction(db, func(tx *gorm.DB) error {
		return seed(tx, admin)
	}); err != nil {
		return err
	}

	logrus.Info("Initial data seeding completed")
	return nil
}

func seed(db *gorm.DB, admin config.AdminConfig) error {
	var productCount int64
	if err := db.Model(&models.Product{}).Count(&productCount).Error; err != nil {
		return fmt.Errorf("failed to count products: %w", err)
	}
	if productCount == 0 {
		products := []models.Product{
			{ProductID: "P1001", Name: "Pen", AvailableStock: 100, PricePerUnit: 10.0, TaxPercentage: 5.0},
			{ProductID: "P1002", Name: "Notebook", AvailableStock: 50, PricePerUnit: 50.0, TaxPercentage: 12.0},
			{ProductID: "P1003", Name: "Eraser", AvailableStock: 200, PricePerUnit: 5.0, TaxPercentage: 0.0},
		}
		if err := db.Create(&products).Error; err != nil {
			return fmt.Errorf("failed to seed products: %w", err)
		}
		logrus.WithField("count", len(products)).Info("Seeded products")
	}

	var denominationCount int64
	if err := db.Model(&models.Denomination{}).Count(&denominationCount).Error; err != nil {
		return fmt.Errorf("failed to count denominations: %w", err)
	}
	if denominationCount == 0 {
		denominations := make([]models.Denomination, 0, len(billing.DefaultDenominations))
		for _, v := range billing.DefaultDenominations {
			denominations = append(denominations, models.Denomination{Value: v})
		}
		if err := db.Create(&denominations).Error; err != nil {
			return fmt.Errorf("failed to seed denominations: %w", err)
		}
	}

	if admin.Password != "" {
		var existing models.AdminUser
		err := db.Where("username = ?", admin.Username).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			user := &models.AdminUser{Username: admin.Username, Role: models.AdminRoleOwner}
			if err := user.SetPassword(admin.Password); err != nil {
				return fmt.Errorf("failed to set admin password: %w", err)
			}
			if err := db.Create(user).Error; err != nil {
				return fmt.Errorf("failed to create admin user: %w", err)
			}
			logrus.WithField("username", admin.Username).Info("Default admin user created successfully")
		} else if err != nil {
			return fmt.Errorf("failed to look up admin user: %w", err)
		}
	}

	return nil
}

// WithTransaction runs fn in a transaction, rolling back on error or panic.
func WithTransaction(db *gorm.DB, fn func(*gorm.DB) error) error {
	tx := db.Begin()
	if tx.Error != nil {
		return tx.Error
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}
