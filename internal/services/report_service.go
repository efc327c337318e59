// internal/services/report_service.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/javajoker/billing-backend/internal/billing"
	"github.com/javajoker/billing-backend/internal/models"
)

// Grouping runs on keys written through billing.NormalizeIdentifier.
const (
	customerKey = "customer_key"
	productKey  = "purchase_items.product_key"
)

// ReportService aggregates the ledger. Every query is read-only.
type ReportService struct {
	db *gorm.DB
}

type Overview struct {
	TotalRevenue    float64 `json:"total_revenue"`
	UniqueCustomers int64   `json:"unique_customers"`
	PurchaseCount   int64   `json:"purchase_count"`
}

type CustomerSummary struct {
	Customer string  `json:"customer"`
	Orders   int64   `json:"orders"`
	Revenue  float64 `json:"revenue"`
}

type PurchaseRow struct {
	ID                 uint      `json:"id"`
	CustomerIdentifier string    `json:"customer_identifier"`
	PurchasedAt        time.Time `json:"purchased_at"`
	TotalAmount        float64   `json:"total_amount"`
	PaidAmount         float64   `json:"paid_amount"`
	Balance            float64   `json:"balance"`
	ItemsCount         int       `json:"items_count"`
}

type CustomerHistory struct {
	Customer     string        `json:"customer"`
	Purchases    []PurchaseRow `json:"purchases"`
	TotalRevenue float64       `json:"total_revenue"`
}

type ProductSummary struct {
	Product  string `json:"product"`
	Orders   int64  `json:"orders"`
	TotalQty int64  `json:"total_qty"`
}

type ProductPurchaseRow struct {
	PurchaseRow
	QtyForProduct     int     `json:"qty_for_product"`
	RevenueForProduct float64 `json:"revenue_for_product"`
}

type ProductHistory struct {
	Product      string               `json:"product"`
	Purchases    []ProductPurchaseRow `json:"purchases"`
	TotalQty     int                  `json:"total_qty"`
	TotalRevenue float64              `json:"total_revenue"`
}

func NewReportService(db *gorm.DB) *ReportService {
	return &ReportService{db: db}
}

func (s *ReportService) Overview(ctx context.Context) (*Overview, error) {
	var row struct {
		Revenue   float64
		Customers int64
		Purchases int64
	}
	err := s.db.WithContext(ctx).Model(&models.Purchase{}).
		Select("COALESCE(SUM(total_amount), 0) AS revenue, COUNT(DISTINCT " + customerKey + ") AS customers, COUNT(*) AS purchases").
		Scan(&row).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load overview: %w", err)
	}

	return &Overview{
		TotalRevenue:    roundMoney(row.Revenue),
		UniqueCustomers: row.Customers,
		PurchaseCount:   row.Purchases,
	}, nil
}

// CustomerSummaries groups purchases by normalized identifier, busiest first.
func (s *ReportService) CustomerSummaries(ctx context.Context) ([]CustomerSummary, error) {
	var rows []CustomerSummary
	err := s.db.WithContext(ctx).Model(&models.Purchase{}).
		Select(customerKey + " AS customer, COUNT(*) AS orders, COALESCE(SUM(total_amount), 0) AS revenue").
		Group(customerKey).
		Order("orders DESC, customer ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to summarize customers: %w", err)
	}

	for i := range rows {
		rows[i].Revenue = roundMoney(rows[i].Revenue)
	}
	return rows, nil
}

func (s *ReportService) CustomerHistory(ctx context.Context, customer string) (*CustomerHistory, error) {
	norm := billing.NormalizeIdentifier(customer)
	if norm == "" {
		return nil, &billing.ValidationError{Message: "customer required"}
	}

	var purchases []models.Purchase
	err := s.db.WithContext(ctx).
		Preload("Items").
		Where(customerKey+" = ?", norm).
		Order("purchased_at DESC, id DESC").
		Find(&purchases).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load customer history: %w", err)
	}

	history := &CustomerHistory{Customer: norm, Purchases: make([]PurchaseRow, 0, len(purchases))}
	total := decimal.Zero
	for i := range purchases {
		history.Purchases = append(history.Purchases, purchaseRow(&purchases[i]))
		total = total.Add(decimal.NewFromFloat(purchases[i].TotalAmount))
	}
	history.TotalRevenue, _ = total.Round(2).Float64()
	return history, nil
}

// ProductSummaries groups sold lines by normalized product name.
func (s *ReportService) ProductSummaries(ctx context.Context) ([]ProductSummary, error) {
	var rows []ProductSummary
	err := s.db.WithContext(ctx).Model(&models.PurchaseItem{}).
		Joins("JOIN purchases ON purchases.id = purchase_items.purchase_id").
		Select(productKey + " AS product, COUNT(DISTINCT purchase_items.purchase_id) AS orders, COALESCE(SUM(purchase_items.quantity), 0) AS total_qty").
		Group(productKey).
		Order("orders DESC, product ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to summarize products: %w", err)
	}
	return rows, nil
}

// ProductHistory lists purchases containing the product with that product's share of each.
func (s *ReportService) ProductHistory(ctx context.Context, product string) (*ProductHistory, error) {
	norm := billing.NormalizeIdentifier(product)
	if norm == "" {
		return nil, &billing.ValidationError{Message: "product required"}
	}

	matching := s.db.Model(&models.PurchaseItem{}).
		Select("purchase_id").
		Where("product_key = ?", norm)

	var purchases []models.Purchase
	err := s.db.WithContext(ctx).
		Preload("Items").
		Where("id IN (?)", matching).
		Order("purchased_at DESC, id DESC").
		Find(&purchases).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load product history: %w", err)
	}

	history := &ProductHistory{Product: norm, Purchases: make([]ProductPurchaseRow, 0, len(purchases))}
	grand := decimal.Zero
	for i := range purchases {
		p := &purchases[i]
		row := ProductPurchaseRow{PurchaseRow: purchaseRow(p)}
		revenue := decimal.Zero
		for _, item := range p.Items {
			if item.ProductKey != norm {
				continue
			}
			row.QtyForProduct += item.Quantity
			revenue = revenue.Add(decimal.NewFromFloat(item.LineTotal))
		}
		row.RevenueForProduct, _ = revenue.Round(2).Float64()

		history.Purchases = append(history.Purchases, row)
		history.TotalQty += row.QtyForProduct
		grand = grand.Add(revenue)
	}
	history.TotalRevenue, _ = grand.Round(2).Float64()
	return history, nil
}

func purchaseRow(p *models.Purchase) PurchaseRow {
	return PurchaseRow{
		ID:                 p.ID,
		CustomerIdentifier: p.CustomerIdentifier,
		PurchasedAt:        p.PurchasedAt,
		TotalAmount:        p.TotalAmount,
		PaidAmount:         p.PaidAmount,
		Balance:            p.Balance,
		ItemsCount:         len(p.Items),
	}
}

func roundMoney(f float64) float64 {
	out, _ := decimal.NewFromFloat(f).Round(2).Float64()
	return out
}
