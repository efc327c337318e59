// internal/billing/engine.go
package billing

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

const (
	// MaxQuantity bounds a single line so stock arithmetic cannot overflow.
	MaxQuantity = 1_000_000
	// MaxPaidAmount keeps the balance within the range change is computed in.
	MaxPaidAmount = 1e12
)

// Product is the catalog snapshot the engine prices against.
type Product struct {
	ID             uint
	Code           string
	Name           string
	AvailableStock int
	PricePerUnit   float64
	TaxPercentage  float64
}

// Catalog gives point lookups by product code. Unknown codes yield ErrProductNotFound.
type Catalog interface {
	ProductByCode(ctx context.Context, code string) (*Product, error)
}

type LineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Request is checked by Compute, which reports the offending row.
type Request struct {
	CustomerIdentifier string        `json:"customer_identifier"`
	PaidAmount         float64       `json:"paid_amount"`
	Items              []LineRequest `json:"items"`
}

type Line struct {
	ProductRef  uint    `json:"product_ref"`
	ProductCode string  `json:"product_code"`
	Name        string  `json:"name"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	TaxPercent  float64 `json:"tax_percent"`
	Amount      float64 `json:"amount"`
	TaxAmount   float64 `json:"tax_amount"`
	LineTotal   float64 `json:"line_total"`
}

// StockDecrement is applied in the same unit of work as the ledger insert.
type StockDecrement struct {
	ProductRef  uint   `json:"product_ref"`
	ProductCode string `json:"product_code"`
	Quantity    int    `json:"quantity"`
}

type Result struct {
	CustomerIdentifier string           `json:"customer_identifier"`
	Lines              []Line           `json:"lines"`
	SubtotalBeforeTax  float64          `json:"subtotal_before_tax"`
	TotalTax           float64          `json:"total_tax"`
	NetTotal           float64          `json:"net_total"`
	RoundedDown        float64          `json:"rounded_down"`
	PaidAmount         float64          `json:"paid_amount"`
	Balance            float64          `json:"balance"`
	Change             Change           `json:"change"`
	Decrements         []StockDecrement `json:"stock_decrements"`
}

// Engine prices a billing request against a catalog snapshot. It never writes.
type Engine struct {
	catalog       Catalog
	denominations []int
}

func NewEngine(catalog Catalog, denominations []int) *Engine {
	return &Engine{
		catalog:       catalog,
		denominations: SortDenominations(denominations),
	}
}

func (e *Engine) Compute(ctx context.Context, req Request) (*Result, error) {
	customer := strings.TrimSpace(req.CustomerIdentifier)
	if customer == "" {
		return nil, &ValidationError{Message: "customer required"}
	}
	if len(req.Items) == 0 {
		return nil, &ValidationError{Message: "no items"}
	}
	for i, item := range req.Items {
		if strings.TrimSpace(item.ProductID) == "" || item.Quantity <= 0 || item.Quantity > MaxQuantity {
			return nil, &ValidationError{Message: "invalid row", Row: i + 1}
		}
	}
	if math.IsNaN(req.PaidAmount) || req.PaidAmount < 0 || req.PaidAmount > MaxPaidAmount {
		return nil, &ValidationError{Message: "invalid paid amount"}
	}

	var (
		lines      = make([]Line, 0, len(req.Items))
		decrements = make([]StockDecrement, 0, len(req.Items))
		position   = make(map[string]int, len(req.Items))
		subtotal   = decimal.Zero
		totalTax   = decimal.Zero
	)

	for _, item := range req.Items {
		code := strings.TrimSpace(item.ProductID)
		product, err := e.catalog.ProductByCode(ctx, code)
		if err != nil {
			if errors.Is(err, ErrProductNotFound) {
				return nil, &NotFoundError{Message: "unknown product", Identifier: code}
			}
			return nil, &PersistenceError{Op: "load product " + code, Err: err}
		}

		// Repeated lines for one product draw on the same stock.
		idx, seen := position[code]
		already := 0
		if seen {
			already = decrements[idx].Quantity
		}
		if item.Quantity > product.AvailableStock-already {
			return nil, &InsufficientStockError{
				ProductID: code,
				Name:      product.Name,
				Have:      product.AvailableStock,
				Need:      already + item.Quantity,
			}
		}
		if seen {
			decrements[idx].Quantity = already + item.Quantity
		} else {
			position[code] = len(decrements)
			decrements = append(decrements, StockDecrement{
				ProductRef:  product.ID,
				ProductCode: code,
				Quantity:    item.Quantity,
			})
		}

		unit := decimal.NewFromFloat(product.PricePerUnit)
		amount := unit.Mul(decimal.NewFromInt(int64(item.Quantity)))
		tax := amount.Mul(decimal.NewFromFloat(product.TaxPercentage)).Div(hundred)
		subtotal = subtotal.Add(amount)
		totalTax = totalTax.Add(tax)

		lines = append(lines, Line{
			ProductRef:  product.ID,
			ProductCode: code,
			Name:        product.Name,
			Quantity:    item.Quantity,
			UnitPrice:   product.PricePerUnit,
			TaxPercent:  product.TaxPercentage,
			Amount:      toFloat(amount),
			TaxAmount:   toFloat(tax),
			LineTotal:   toFloat(amount.Add(tax)),
		})
	}

	// Round only the aggregates; the tax figure is derived so that
	// subtotal + tax always equals the net total to the cent.
	net := subtotal.Add(totalTax).Round(2)
	roundedSubtotal := subtotal.Round(2)
	displayTax := net.Sub(roundedSubtotal)

	paid := decimal.NewFromFloat(req.PaidAmount)
	if paid.LessThan(net) {
		return nil, &PaymentError{Paid: req.PaidAmount, Total: toFloat(net)}
	}
	balance := paid.Sub(net).Round(2)

	return &Result{
		CustomerIdentifier: customer,
		Lines:              lines,
		SubtotalBeforeTax:  toFloat(roundedSubtotal),
		TotalTax:           toFloat(displayTax),
		NetTotal:           toFloat(net),
		RoundedDown:        toFloat(net.Floor()),
		PaidAmount:         req.PaidAmount,
		Balance:            toFloat(balance),
		Change:             MakeChange(int(balance.Floor().IntPart()), e.denominations),
		Decrements:         decrements,
	}, nil
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
