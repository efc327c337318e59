package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/javajoker/billing-backend/internal/config"
	"github.com/javajoker/billing-backend/internal/models"
)

func TestSeedInitialDataIsIdempotent(t *testing.T) {
	db, err := OpenInMemory(strings.ReplaceAll(t.Name(), "/", "_"))
	require.NoError(t, err)

	admin := config.AdminConfig{Username: "owner", Password: "Secret123!"}
	require.NoError(t, SeedInitialData(db, admin))
	require.NoError(t, SeedInitialData(db, admin))

	var products, denominations, admins int64
	db.Model(&models.Product{}).Count(&products)
	db.Model(&models.Denomination{}).Count(&denominations)
	db.Model(&models.AdminUser{}).Count(&admins)
	assert.EqualValues(t, 3, products)
	assert.EqualValues(t, 10, denominations)
	assert.EqualValues(t, 1, admins)

	var pen models.Product
	require.NoError(t, db.Where("product_id = ?", "P1001").First(&pen).Error)
	assert.Equal(t, "Pen", pen.Name)
	assert.Equal(t, 100, pen.AvailableStock)

	var user models.AdminUser
	require.NoError(t, db.Where("username = ?", "owner").First(&user).Error)
	assert.NoError(t, user.CheckPassword("Secret123!"))
	assert.NotEqual(t, "Secret123!", user.PasswordHash)
}

func TestSeedWithoutAdminPassword(t *testing.T) {
	db, err := OpenInMemory(strings.ReplaceAll(t.Name(), "/", "_"))
	require.NoError(t, err)

	require.NoError(t, SeedInitialData(db, config.AdminConfig{Username: "admin"}))

	var admins int64
	db.Model(&models.AdminUser{}).Count(&admins)
	assert.Zero(t, admins)
}

func TestWithTransactionRollsBack(t *testing.T) {
	db, err := OpenInMemory(strings.ReplaceAll(t.Name(), "/", "_"))
	require.NoError(t, err)

	err = WithTransaction(db, func(tx *gorm.DB) error {
		if err := tx.Create(&models.Product{ProductID: "X1", Name: "Temp", PricePerUnit: 1}).Error; err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	var count int64
	db.Model(&models.Product{}).Where("product_id = ?", "X1").Count(&count)
	assert.Zero(t, count)
}
