// internal/billing/errors.go
package billing

import (
	"errors"
	"fmt"
)

// ErrProductNotFound is returned by Catalog implementations for unknown product codes.
var ErrProductNotFound = errors.New("product not found")

// ValidationError reports malformed input. Row is 1-based, 0 when not tied to a line.
type ValidationError struct {
	Message string
	Row     int
}

func (e *ValidationError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("%s at row %d", e.Message, e.Row)
	}
	return e.Message
}

type NotFoundError struct {
	Message    string
	Identifier string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Identifier)
}

type InsufficientStockError struct {
	ProductID string
	Name      string
	Have      int
	Need      int
}

func (e *InsufficientStockError) Error() string {
	label := e.ProductID
	if e.Name != "" {
		label = e.Name
	}
	return fmt.Sprintf("insufficient stock for %s (have %d, need %d)", label, e.Have, e.Need)
}

type PaymentError struct {
	Paid  float64
	Total float64
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("insufficient payment: paid %.2f is less than total %.2f", e.Paid, e.Total)
}

// Shortfall is the amount still owed.
func (e *PaymentError) Shortfall() float64 {
	return round2(e.Total - e.Paid)
}

// PersistenceError means the checkout unit of work did not commit. Nothing was applied.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NotificationError is a delivery failure after the purchase committed.
type NotificationError struct {
	PurchaseID uint
	Recipient  string
	Err        error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("invoice #%d to %s not delivered: %v", e.PurchaseID, e.Recipient, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// ConflictError is raised by catalog writes that would break product code uniqueness.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsInsufficientStock(err error) bool {
	var target *InsufficientStockError
	return errors.As(err, &target)
}

func IsPayment(err error) bool {
	var target *PaymentError
	return errors.As(err, &target)
}

func IsPersistence(err error) bool {
	var target *PersistenceError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}
