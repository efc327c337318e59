// internal/models/purchase.go
package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/javajoker/billing-backend/internal/billing"
)

type Purchase struct {
	BaseModel
	CustomerIdentifier string    `json:"customer_identifier" gorm:"size:255;not null"`
	CustomerKey        string    `json:"-" gorm:"size:255;not null;default:'';index"`
	PurchasedAt        time.Time `json:"purchased_at" gorm:"not null;index"`
	TotalAmount        float64   `json:"total_amount" gorm:"not null"`
	PaidAmount         float64   `json:"paid_amount" gorm:"not null"`
	Balance            float64   `json:"balance" gorm:"not null"`

	// Relationships
	Items []PurchaseItem `json:"items,omitempty" gorm:"foreignKey:PurchaseID;constraint:OnDelete:CASCADE"`
}

// PurchaseItem keeps a sale-time snapshot of the product. ProductRef is a weak
// reference: the product may be renamed, repriced or deleted afterwards.
type PurchaseItem struct {
	ID            uint    `json:"id" gorm:"primaryKey;autoIncrement"`
	PurchaseID    uint    `json:"purchase_id" gorm:"not null;index"`
	ProductRef    *uint   `json:"product_ref" gorm:"index"`
	ProductCode   string  `json:"product_code" gorm:"size:64;not null"`
	ProductName   string  `json:"product_name" gorm:"size:255;not null"`
	ProductKey    string  `json:"-" gorm:"size:255;not null;default:'';index"`
	Quantity      int     `json:"quantity" gorm:"not null"`
	PricePerUnit  float64 `json:"price_per_unit" gorm:"not null"`
	TaxPercentage float64 `json:"tax_percentage" gorm:"not null"`
	Amount        float64 `json:"amount" gorm:"not null"`
	TaxAmount     float64 `json:"tax_amount" gorm:"not null"`
	LineTotal     float64 `json:"line_total" gorm:"not null"`
}

// BeforeSave derives the reporting key so grouping never depends on SQL string functions.
func (p *Purchase) BeforeSave(tx *gorm.DB) error {
	p.CustomerKey = billing.NormalizeIdentifier(p.CustomerIdentifier)
	return nil
}

func (i *PurchaseItem) BeforeSave(tx *gorm.DB) error {
	i.ProductKey = billing.NormalizeIdentifier(i.ProductName)
	return nil
}
