// internal/services/billing_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/billing-backend/internal/billing"
	"github.com/javajoker/billing-backend/internal/events"
	"github.com/javajoker/billing-backend/internal/models"
	"github.com/javajoker/billing-backend/internal/utils"
)

var errStockRace = errors.New("stock changed during checkout")

// InvoiceNotifier delivers the invoice of a committed purchase.
type InvoiceNotifier interface {
	SendInvoice(ctx context.Context, recipient string, purchaseID uint) error
}

type Notice struct {
	Status    models.NoticeStatus `json:"status"`
	Recipient string              `json:"recipient,omitempty"`
	Error     string              `json:"error,omitempty"`
}

type CheckoutResult struct {
	PurchaseID  uint            `json:"purchase_id"`
	PurchasedAt time.Time       `json:"purchased_at"`
	Bill        *billing.Result `json:"bill"`
	Notice      Notice          `json:"notice"`
}

type BillingOptions struct {
	Retries       int
	AsyncNotify   bool
	NotifyTimeout time.Duration
}

type BillingService struct {
	db        *gorm.DB
	notifier  InvoiceNotifier
	publisher events.Publisher
	metrics   *BillingMetrics
	opts      BillingOptions
	pending   sync.WaitGroup
	now       func() time.Time
}

func NewBillingService(db *gorm.DB, notifier InvoiceNotifier, publisher events.Publisher, metrics *BillingMetrics, opts BillingOptions) *BillingService {
	if opts.Retries < 1 {
		opts.Retries = 1
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 30 * time.Second
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &BillingService{
		db:        db,
		notifier:  notifier,
		publisher: publisher,
		metrics:   metrics,
		opts:      opts,
		now:       time.Now,
	}
}

// Checkout prices the request, decrements stock and records the purchase in one
// transaction. A conditional decrement that loses a race restarts the whole unit.
func (s *BillingService) Checkout(ctx context.Context, req billing.Request) (*CheckoutResult, error) {
	var (
		result   *billing.Result
		purchase *models.Purchase
		err      error
	)

	for attempt := 1; attempt <= s.opts.Retries; attempt++ {
		result, purchase, err = s.checkoutOnce(ctx, req)
		if !errors.Is(err, errStockRace) {
			break
		}
		s.metrics.observeRetry()
		logrus.WithFields(logrus.Fields{
			"customer": req.CustomerIdentifier,
			"attempt":  attempt,
		}).Warn("Stock changed during checkout, retrying")
	}

	if err != nil {
		if errors.Is(err, errStockRace) {
			err = &billing.PersistenceError{Op: "checkout", Err: fmt.Errorf("%w after %d attempts", errStockRace, s.opts.Retries)}
		} else if !isBillingError(err) {
			err = &billing.PersistenceError{Op: "checkout", Err: err}
		}
		s.metrics.observeCheckout(outcomeOf(err), 0)
		return nil, err
	}

	s.metrics.observeCheckout("success", purchase.TotalAmount)
	logrus.WithFields(logrus.Fields{
		"purchase_id": purchase.ID,
		"customer":    purchase.CustomerIdentifier,
		"total":       purchase.TotalAmount,
		"lines":       len(purchase.Items),
		"change":      result.Change.Total(),
		"pieces":      result.Change.Pieces(),
	}).Info("Purchase recorded")

	if err := s.publisher.Publish(ctx, events.TopicPurchaseCompleted, events.PurchaseCompleted{
		PurchaseID:         purchase.ID,
		CustomerIdentifier: purchase.CustomerIdentifier,
		TotalAmount:        purchase.TotalAmount,
		PaidAmount:         purchase.PaidAmount,
		Balance:            purchase.Balance,
		Items:              len(purchase.Items),
		PurchasedAt:        purchase.PurchasedAt,
	}); err != nil {
		logrus.WithError(err).WithField("purchase_id", purchase.ID).Warn("Failed to publish purchase event")
	}

	return &CheckoutResult{
		PurchaseID:  purchase.ID,
		PurchasedAt: purchase.PurchasedAt,
		Bill:        result,
		Notice:      s.notify(ctx, purchase),
	}, nil
}

func (s *BillingService) checkoutOnce(ctx context.Context, req billing.Request) (*billing.Result, *models.Purchase, error) {
	var (
		result   *billing.Result
		purchase *models.Purchase
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		denominations, err := loadDenominations(tx)
		if err != nil {
			return err
		}

		engine := billing.NewEngine(&gormCatalog{tx: tx}, denominations)
		res, err := engine.Compute(ctx, req)
		if err != nil {
			return err
		}

		for _, d := range res.Decrements {
			if err := decrementStock(tx, d); err != nil {
				return err
			}
		}

		p := purchaseFromResult(res, s.now())
		if err := tx.Create(p).Error; err != nil {
			return fmt.Errorf("failed to insert purchase: %w", err)
		}

		result, purchase = res, p
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result, purchase, nil
}

// decrementStock applies one conditional decrement. Zero affected rows means
// another checkout took the stock first.
func decrementStock(tx *gorm.DB, d billing.StockDecrement) error {
	if d.Quantity <= 0 {
		return fmt.Errorf("invalid decrement of %d for %s", d.Quantity, d.ProductCode)
	}
	res := tx.Model(&models.Product{}).
		Where("id = ? AND available_stock >= ?", d.ProductRef, d.Quantity).
		UpdateColumn("available_stock", gorm.Expr("available_stock - ?", d.Quantity))
	if res.Error != nil {
		return fmt.Errorf("failed to decrement stock for %s: %w", d.ProductCode, res.Error)
	}
	if res.RowsAffected == 0 {
		return errStockRace
	}
	return nil
}

func purchaseFromResult(res *billing.Result, at time.Time) *models.Purchase {
	items := make([]models.PurchaseItem, 0, len(res.Lines))
	for _, line := range res.Lines {
		ref := line.ProductRef
		items = append(items, models.PurchaseItem{
			ProductRef:    &ref,
			ProductCode:   line.ProductCode,
			ProductName:   line.Name,
			Quantity:      line.Quantity,
			PricePerUnit:  line.UnitPrice,
			TaxPercentage: line.TaxPercent,
			Amount:        line.Amount,
			TaxAmount:     line.TaxAmount,
			LineTotal:     line.LineTotal,
		})
	}

	return &models.Purchase{
		CustomerIdentifier: res.CustomerIdentifier,
		PurchasedAt:        at.UTC(),
		TotalAmount:        res.NetTotal,
		PaidAmount:         res.PaidAmount,
		Balance:            res.Balance,
		Items:              items,
	}
}

func (s *BillingService) notify(ctx context.Context, purchase *models.Purchase) Notice {
	recipient := purchase.CustomerIdentifier
	if s.notifier == nil {
		return s.notice(Notice{Status: models.NoticeStatusSkipped})
	}
	addr, err := mail.ParseAddress(recipient)
	if err != nil {
		return s.notice(Notice{Status: models.NoticeStatusSkipped, Recipient: recipient})
	}
	// "Bob <bob@x.com>" is mailed to the bare address
	recipient = addr.Address

	if s.opts.AsyncNotify {
		s.pending.Add(1)
		go func(id uint) {
			defer s.pending.Done()
			sendCtx, cancel := context.WithTimeout(context.Background(), s.opts.NotifyTimeout)
			defer cancel()
			if err := s.notifier.SendInvoice(sendCtx, recipient, id); err != nil {
				s.metrics.observeNotice(string(models.NoticeStatusError))
				logrus.WithError(err).WithField("purchase_id", id).Error("Failed to send invoice")
				return
			}
			s.metrics.observeNotice(string(models.NoticeStatusSuccess))
		}(purchase.ID)
		return Notice{Status: models.NoticeStatusQueued, Recipient: recipient}
	}

	// the purchase is committed; a cancelled request must not abort the mail
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.NotifyTimeout)
	defer cancel()
	if err := s.notifier.SendInvoice(sendCtx, recipient, purchase.ID); err != nil {
		logrus.WithError(err).WithField("purchase_id", purchase.ID).Error("Failed to send invoice")
		return s.notice(Notice{Status: models.NoticeStatusError, Recipient: recipient, Error: err.Error()})
	}
	return s.notice(Notice{Status: models.NoticeStatusSuccess, Recipient: recipient})
}

func (s *BillingService) notice(n Notice) Notice {
	s.metrics.observeNotice(string(n.Status))
	return n
}

// Wait blocks until queued invoice mails have been attempted.
func (s *BillingService) Wait() {
	s.pending.Wait()
}

func (s *BillingService) GetPurchase(ctx context.Context, id uint) (*models.Purchase, error) {
	return loadPurchase(s.db.WithContext(ctx), id)
}

func loadPurchase(db *gorm.DB, id uint) (*models.Purchase, error) {
	var purchase models.Purchase
	err := db.
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&purchase, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &billing.NotFoundError{Message: "purchase not found", Identifier: fmt.Sprint(id)}
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &purchase, nil
}

func (s *BillingService) ListPurchases(ctx context.Context, params utils.PaginationParams) ([]models.Purchase, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Purchase{})

	if params.Search != "" {
		query = query.Where("customer_key = ?", billing.NormalizeIdentifier(params.Search))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count purchases: %w", err)
	}

	allowedSortFields := []string{"purchased_at", "total_amount", "customer_identifier", "id"}
	query = utils.ApplySort(query, params, allowedSortFields)
	query = utils.ApplyPagination(query, params)

	var purchases []models.Purchase
	if err := query.Preload("Items").Find(&purchases).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch purchases: %w", err)
	}

	return purchases, total, nil
}

// DeletePurchase removes the header and its lines. Stock is not restored.
func (s *BillingService) DeletePurchase(ctx context.Context, id uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("purchase_id = ?", id).Delete(&models.PurchaseItem{}).Error; err != nil {
			return fmt.Errorf("failed to delete purchase items: %w", err)
		}
		res := tx.Delete(&models.Purchase{}, id)
		if res.Error != nil {
			return fmt.Errorf("failed to delete purchase: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return &billing.NotFoundError{Message: "purchase not found", Identifier: fmt.Sprint(id)}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.publisher.Publish(ctx, events.TopicPurchaseDeleted, events.PurchaseDeleted{PurchaseID: id}); err != nil {
		logrus.WithError(err).WithField("purchase_id", id).Warn("Failed to publish purchase event")
	}
	return nil
}

func isBillingError(err error) bool {
	return billing.IsValidation(err) || billing.IsNotFound(err) || billing.IsInsufficientStock(err) ||
		billing.IsPayment(err) || billing.IsPersistence(err)
}

func outcomeOf(err error) string {
	switch {
	case billing.IsValidation(err):
		return "validation"
	case billing.IsNotFound(err):
		return "not_found"
	case billing.IsInsufficientStock(err):
		return "insufficient_stock"
	case billing.IsPayment(err):
		return "payment"
	default:
		return "persistence"
	}
}
