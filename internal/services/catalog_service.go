// internal/services/catalog_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/billing-backend/internal/billing"
	"github.com/javajoker/billing-backend/internal/models"
	"github.com/javajoker/billing-backend/internal/utils"
)

type CatalogService struct {
	db *gorm.DB
}

type ProductRequest struct {
	ProductID      string  `json:"product_id" validate:"required,product_code"`
	Name           string  `json:"name" validate:"required,notblank,max=255"`
	AvailableStock int     `json:"available_stock"`
	PricePerUnit   float64 `json:"price_per_unit"`
	TaxPercentage  float64 `json:"tax_percentage"`
}

type ProductSearchParams struct {
	utils.PaginationParams
	InStock *bool `json:"in_stock,omitempty"`
}

func NewCatalogService(db *gorm.DB) *CatalogService {
	return &CatalogService{db: db}
}

func (s *CatalogService) ListProducts(ctx context.Context, params ProductSearchParams) ([]models.Product, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Product{})

	if params.Search != "" {
		searchTerm := "%" + strings.ToLower(params.Search) + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(product_id) LIKE ?", searchTerm, searchTerm)
	}

	if params.InStock != nil && *params.InStock {
		query = query.Where("available_stock > 0")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count products: %w", err)
	}

	allowedSortFields := []string{"name", "product_id", "price_per_unit", "available_stock", "created_at"}
	query = utils.ApplySort(query, params.PaginationParams, allowedSortFields)
	query = utils.ApplyPagination(query, params.PaginationParams)

	var products []models.Product
	if err := query.Find(&products).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch products: %w", err)
	}

	return products, total, nil
}

func (s *CatalogService) GetProduct(ctx context.Context, id uint) (*models.Product, error) {
	var product models.Product
	if err := s.db.WithContext(ctx).First(&product, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &billing.NotFoundError{Message: "product not found", Identifier: fmt.Sprint(id)}
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &product, nil
}

func (s *CatalogService) GetProductByCode(ctx context.Context, code string) (*models.Product, error) {
	var product models.Product
	if err := s.db.WithContext(ctx).Where("product_id = ?", strings.TrimSpace(code)).First(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &billing.NotFoundError{Message: "product not found", Identifier: code}
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &product, nil
}

func (s *CatalogService) CreateProduct(ctx context.Context, req *ProductRequest) (*models.Product, error) {
	product, err := productFromRequest(req)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureCodeAvailable(tx, product.ProductID, 0); err != nil {
			return err
		}
		return tx.Create(product).Error
	})
	if err != nil {
		return nil, translateWriteError(err, "failed to create product")
	}

	return product, nil
}

func (s *CatalogService) UpdateProduct(ctx context.Context, id uint, req *ProductRequest) (*models.Product, error) {
	changes, err := productFromRequest(req)
	if err != nil {
		return nil, err
	}

	var product models.Product
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&product, id).Error; err != nil {
			return err
		}
		// keep product_id unique
		if err := ensureCodeAvailable(tx, changes.ProductID, id); err != nil {
			return err
		}
		return tx.Model(&product).Updates(map[string]interface{}{
			"product_id":      changes.ProductID,
			"name":            changes.Name,
			"available_stock": changes.AvailableStock,
			"price_per_unit":  changes.PricePerUnit,
			"tax_percentage":  changes.TaxPercentage,
		}).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &billing.NotFoundError{Message: "product not found", Identifier: fmt.Sprint(id)}
		}
		return nil, translateWriteError(err, "failed to update product")
	}

	return &product, nil
}

// DeleteProduct removes the product. Ledger lines keep their snapshot.
func (s *CatalogService) DeleteProduct(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.Product{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete product: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &billing.NotFoundError{Message: "product not found", Identifier: fmt.Sprint(id)}
	}
	return nil
}

// ListDenominations returns the change table, largest first.
func (s *CatalogService) ListDenominations(ctx context.Context) ([]int, error) {
	return loadDenominations(s.db.WithContext(ctx))
}

func loadDenominations(db *gorm.DB) ([]int, error) {
	var values []int
	if err := db.Model(&models.Denomination{}).Order("value DESC").Pluck("value", &values).Error; err != nil {
		return nil, fmt.Errorf("failed to load denominations: %w", err)
	}
	if len(values) == 0 {
		return billing.SortDenominations(billing.DefaultDenominations), nil
	}
	return billing.SortDenominations(values), nil
}

func productFromRequest(req *ProductRequest) (*models.Product, error) {
	if err := utils.ValidateStruct(req); err != nil {
		message := "product_id and name are required"
		if errs := utils.GetValidationErrors(err); len(errs) > 0 {
			message = errs[0].Message
		}
		return nil, &billing.ValidationError{Message: message}
	}

	return &models.Product{
		ProductID:      strings.TrimSpace(req.ProductID),
		Name:           strings.TrimSpace(req.Name),
		AvailableStock: max(0, req.AvailableStock),
		PricePerUnit:   max(0, req.PricePerUnit),
		TaxPercentage:  max(0, req.TaxPercentage),
	}, nil
}

func ensureCodeAvailable(tx *gorm.DB, code string, exceptID uint) error {
	query := tx.Model(&models.Product{}).Where("product_id = ?", code)
	if exceptID != 0 {
		query = query.Where("id <> ?", exceptID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check product_id: %w", err)
	}
	if count > 0 {
		return &billing.ConflictError{Message: "product_id already exists"}
	}
	return nil
}

func translateWriteError(err error, op string) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return &billing.ConflictError{Message: "product_id already exists"}
	}
	if billing.IsConflict(err) || billing.IsValidation(err) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

// gormCatalog serves engine lookups from inside the checkout transaction.
type gormCatalog struct {
	tx *gorm.DB
}

func (c *gormCatalog) ProductByCode(ctx context.Context, code string) (*billing.Product, error) {
	query := c.tx.WithContext(ctx)
	if c.tx.Dialector.Name() == "postgres" {
		// serialize concurrent checkouts of the same product
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var product models.Product
	if err := query.Where("product_id = ?", code).First(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.ErrProductNotFound
		}
		return nil, err
	}

	return &billing.Product{
		ID:             product.ID,
		Code:           product.ProductID,
		Name:           product.Name,
		AvailableStock: product.AvailableStock,
		PricePerUnit:   product.PricePerUnit,
		TaxPercentage:  product.TaxPercentage,
	}, nil
}
