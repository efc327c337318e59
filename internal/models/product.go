// internal/models/product.go
package models

type Product struct {
	BaseModel
	ProductID      string  `json:"product_id" gorm:"size:64;not null;uniqueIndex"`
	Name           string  `json:"name" gorm:"size:255;not null"`
	AvailableStock int     `json:"available_stock" gorm:"not null;default:0"`
	PricePerUnit   float64 `json:"price_per_unit" gorm:"not null"`
	TaxPercentage  float64 `json:"tax_percentage" gorm:"not null;default:0"`
}

type Denomination struct {
	ID    uint `json:"id" gorm:"primaryKey;autoIncrement"`
	Value int  `json:"value" gorm:"not null;uniqueIndex"`
}
