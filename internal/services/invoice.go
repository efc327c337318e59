// internal/services/invoice.go
package services

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/javajoker/billing-backend/internal/models"
)

// Invoice is the printable view of a committed purchase, built from its snapshot lines.
type Invoice struct {
	PurchaseID         uint                  `json:"purchase_id"`
	CustomerIdentifier string                `json:"customer_identifier"`
	PurchasedAt        time.Time             `json:"purchased_at"`
	Lines              []models.PurchaseItem `json:"lines"`
	SubtotalBeforeTax  float64               `json:"subtotal_before_tax"`
	TotalTax           float64               `json:"total_tax"`
	NetTotal           float64               `json:"net_total"`
	RoundedDown        float64               `json:"rounded_down"`
	PaidAmount         float64               `json:"paid_amount"`
	Balance            float64               `json:"balance"`
}

func BuildInvoice(p *models.Purchase) *Invoice {
	subtotal := decimal.Zero
	for _, item := range p.Items {
		subtotal = subtotal.Add(decimal.NewFromFloat(item.Amount))
	}
	subtotal = subtotal.Round(2)
	net := decimal.NewFromFloat(p.TotalAmount).Round(2)

	s, _ := subtotal.Float64()
	tax, _ := net.Sub(subtotal).Float64()
	n, _ := net.Float64()
	floor, _ := net.Floor().Float64()

	return &Invoice{
		PurchaseID:         p.ID,
		CustomerIdentifier: p.CustomerIdentifier,
		PurchasedAt:        p.PurchasedAt,
		Lines:              p.Items,
		SubtotalBeforeTax:  s,
		TotalTax:           tax,
		NetTotal:           n,
		RoundedDown:        floor,
		PaidAmount:         p.PaidAmount,
		Balance:            p.Balance,
	}
}
