package services

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	"github.com/javajoker/billing-backend/internal/billing"
	"github.com/javajoker/billing-backend/internal/events"
	"github.com/javajoker/billing-backend/internal/models"
	"github.com/javajoker/billing-backend/internal/utils"
)

type BillingServiceTestSuite struct {
	suite.Suite
	db        *gorm.DB
	notifier  *fakeNotifier
	publisher *events.Recorder
	metrics   *BillingMetrics
	service   *BillingService
	ctx       context.Context
}

func (suite *BillingServiceTestSuite) SetupTest() {
	suite.db = newTestDB(suite.T())
	suite.notifier = &fakeNotifier{}
	suite.publisher = &events.Recorder{}
	suite.metrics = NewBillingMetrics(prometheus.NewRegistry())
	suite.service = NewBillingService(suite.db, suite.notifier, suite.publisher, suite.metrics, BillingOptions{Retries: 3})
	suite.ctx = context.Background()
}

func (suite *BillingServiceTestSuite) stock(code string) int {
	var product models.Product
	require.NoError(suite.T(), suite.db.Where("product_id = ?", code).First(&product).Error)
	return product.AvailableStock
}

func (suite *BillingServiceTestSuite) purchaseCount() int64 {
	var count int64
	suite.db.Model(&models.Purchase{}).Count(&count)
	return count
}

func (suite *BillingServiceTestSuite) TestCheckoutExactPayment() {
	res, err := suite.service.Checkout(suite.ctx, billing.Request{
		CustomerIdentifier: "buyer@example.com",
		PaidAmount:         21,
		Items:              []billing.LineRequest{{ProductID: "P1001", Quantity: 2}},
	})
	require.NoError(suite.T(), err)

	assert.InDelta(suite.T(), 21.0, res.Bill.NetTotal, 0.001)
	assert.InDelta(suite.T(), 0.0, res.Bill.Balance, 0.001)
	assert.Empty(suite.T(), res.Bill.Change.Denominations)
	assert.Equal(suite.T(), 98, suite.stock("P1001"))

	purchase, err := suite.service.GetPurchase(suite.ctx, res.PurchaseID)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), purchase.Items, 1)
	assert.Equal(suite.T(), "Pen", purchase.Items[0].ProductName)
	assert.Equal(suite.T(), "P1001", purchase.Items[0].ProductCode)
	assert.InDelta(suite.T(), 21.0, purchase.TotalAmount, 0.001)

	assert.Equal(suite.T(), models.NoticeStatusSuccess, res.Notice.Status)
	assert.Equal(suite.T(), []sentInvoice{{Recipient: "buyer@example.com", PurchaseID: res.PurchaseID}}, suite.notifier.Sent())
	assert.Equal(suite.T(), []string{events.TopicPurchaseCompleted}, suite.publisher.Topics())
	assert.Equal(suite.T(), 1.0, testutil.ToFloat64(suite.metrics.checkouts.WithLabelValues("success")))
	assert.Equal(suite.T(), 21.0, testutil.ToFloat64(suite.metrics.revenue))
}

func (suite *BillingServiceTestSuite) TestCheckoutChangeBreakdown() {
	res, err := suite.service.Checkout(suite.ctx, billing.Request{
		CustomerIdentifier: "walk-in",
		PaidAmount:         100,
		Items: []billing.LineRequest{
			{ProductID: "P1002", Quantity: 1},
			{ProductID: "P1003", Quantity: 1},
		},
	})
	require.NoError(suite.T(), err)

	// 56 + 5 = 61, change 39
	assert.InDelta(suite.T(), 61.0, res.Bill.NetTotal, 0.001)
	assert.InDelta(suite.T(), 39.0, res.Bill.Balance, 0.001)
	assert.Equal(suite.T(), map[int]int{20: 1, 10: 1, 5: 1, 2: 2}, res.Bill.Change.Denominations)
	assert.Equal(suite.T(), models.NoticeStatusSkipped, res.Notice.Status)
	assert.Empty(suite.T(), suite.notifier.Sent())
}

func (suite *BillingServiceTestSuite) TestCheckoutFailuresApplyNothing() {
	_, err := suite.service.Checkout(suite.ctx, billing.Request{
		CustomerIdentifier: "buyer@example.com",
		PaidAmount:         15,
		Items:              []billing.LineRequest{{ProductID: "P1001", Quantity: 2}},
	})
	assert.True(suite.T(), billing.IsPayment(err))

	_, err = suite.service.Checkout(suite.ctx, billing.Request{
		CustomerIdentifier: "buyer@example.com",
		PaidAmount:         10000,
		Items: []billing.LineRequest{
			{ProductID: "P1003", Quantity: 1},
			{ProductID: "P1001", Quantity: 150},
		},
	})
	var stockErr *billing.InsufficientStockError
	require.ErrorAs(suite.T(), err, &stockErr)
	assert.Equal(suite.T(), 100, stockErr.Have)
	assert.Equal(suite.T(), 150, stockErr.Need)

	_, err = suite.service.Checkout(suite.ctx, billing.Request{
		CustomerIdentifier: "buyer@example.com",
		PaidAmount:         100,
		Items:              []billing.LineRequest{{ProductID: "NOPE", Quantity: 1}},
	})
	assert.True(suite.T(), billing.IsNotFound(err))

	assert.Equal(suite.T(), 100, suite.stock("P1001"))
	assert.Equal(suite.T(), 200, suite.stock("P1003"))
	assert.EqualValues(suite.T(), 0, suite.purchaseCount())
	assert.Empty(suite.T(), suite.publisher.Topics())
	assert.Equal(suite.T(), 1.0, testutil.ToFloat64(suite.metrics.checkouts.WithLabelValues("payment")))
	assert.Equal(suite.T(), 1.0, testutil.ToFloat64(suite.metrics.checkouts.WithLabelValues("insufficient_stock")))
}

func (suite *BillingServiceTestSuite) TestConcurrentCheckoutsNeverOversell() {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		outOfStk int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := suite.service.Checkout(suite.ctx, billing.Request{
				CustomerIdentifier: "rush",
				PaidAmount:         10000,
				Items:              []billing.LineRequest{{ProductID: "P1002", Quantity: 20}},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case billing.IsInsufficientStock(err):
				outOfStk++
			default:
				suite.T().Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(suite.T(), 2, success)
	assert.Equal(suite.T(), 2, outOfStk)
	assert.Equal(suite.T(), 10, suite.stock("P1002"))
	assert.EqualValues(suite.T(), 2, suite.purchaseCount())
}

func (suite *BillingServiceTestSuite) TestConditionalDecrement() {
	var eraser models.Product
	require.NoError(suite.T(), suite.db.Where("product_id = ?", "P1003").First(&eraser).Error)

	err := decrementStock(suite.db, billing.StockDecrement{ProductRef: eraser.ID, ProductCode: "P1003", Quantity: 201})
	assert.ErrorIs(suite.T(), err, errStockRace)
	assert.Equal(suite.T(), 200, suite.stock("P1003"))

	require.NoError(suite.T(), decrementStock(suite.db, billing.StockDecrement{ProductRef: eraser.ID, ProductCode: "P1003", Quantity: 200}))
	assert.Equal(suite.T(), 0, suite.stock("P1003"))
}

// drainStockBeforeDecrement zeroes all stock inside the checkout transaction
// right before the next `times` product updates, so the conditional decrement
// finds less stock than the engine read.
func (suite *BillingServiceTestSuite) drainStockBeforeDecrement(times int) *int {
	drained := 0
	err := suite.db.Callback().Update().Before("gorm:update").Register("test:drain_stock", func(tx *gorm.DB) {
		if tx.Statement.Table != "products" || drained >= times {
			return
		}
		drained++
		if _, err := tx.Statement.ConnPool.ExecContext(context.Background(), "UPDATE products SET available_stock = 0"); err != nil {
			tx.AddError(err)
		}
	})
	require.NoError(suite.T(), err)
	return &drained
}

func (suite *BillingServiceTestSuite) TestLostRaceRetriesThenFails() {
	drained := suite.drainStockBeforeDecrement(100)

	_, err := suite.service.Checkout(suite.ctx, billing.Request{
		CustomerIdentifier: "buyer@example.com",
		PaidAmount:         100,
		Items:              []billing.LineRequest{{ProductID: "P1001", Quantity: 2}},
	})
	require.Error(suite.T(), err)
	assert.True(suite.T(), billing.IsPersistence(err))
	assert.ErrorIs(suite.T(), err, errStockRace)

	assert.Equal(suite.T(), 3, *drained)
	assert.Equal(suite.T(), 3.0, testutil.ToFloat64(suite.metrics.retries))
	assert.Equal(suite.T(), 1.0, testutil.ToFloat64(suite.metrics.checkouts.WithLabelValues("persistence")))
	assert.Equal(suite.T(), 100, suite.stock("P1001"))
	assert.EqualValues(suite.T(), 0, suite.purchaseCount())
	assert.Empty(suite.T(), suite.publisher.Topics())
	assert.Empty(suite.T(), suite.notifier.Sent())
}

func (suite *BillingServiceTestSuite) TestLostRaceRetrySucceeds() {
	drained := suite.drainStockBeforeDecrement(1)

	res, err := suite.service.Checkout(suite.ctx, billing.Request{
		CustomerIdentifier: "buyer@example.com",
		PaidAmount:         21,
		Items:              []billing.LineRequest{{ProductID: "P1001", Quantity: 2}},
	})
	require.NoError(suite.T(), err)
	assert.NotZero(suite.T(), res.PurchaseID)

	assert.Equal(suite.T(), 1, *drained)
	assert.Equal(suite.T(), 1.0, testutil.ToFloat64(suite.metrics.retries))
	assert.Equal(suite.T(), 98, suite.stock("P1001"))
	assert.Equal(suite.T(), 50, suite.stock("P1002"))
	assert.EqualValues(suite.T(), 1, suite.purchaseCount())
}

func (suite *BillingServiceTestSuite) TestOverflowingRepeatedLinesAreRejected() {
	_, err := suite.service.Checkout(suite.ctx, billing.Request{
		CustomerIdentifier: "buyer@example.com",
		PaidAmount:         1e9,
		Items: []billing.LineRequest{
			{ProductID: "P1001", Quantity: 1},
			{ProductID: "P1001", Quantity: math.MaxInt},
		},
	})
	assert.True(suite.T(), billing.IsValidation(err))
	assert.Equal(suite.T(), 100, suite.stock("P1001"))
	assert.EqualValues(suite.T(), 0, suite.purchaseCount())

	err = decrementStock(suite.db, billing.StockDecrement{ProductRef: 1, ProductCode: "P1001", Quantity: -5})
	assert.Error(suite.T(), err)
	assert.Equal(suite.T(), 100, suite.stock("P1001"))
}

func (suite *BillingServiceTestSuite) TestDisplayNameIsMailedToBareAddress() {
	res, err := suite.service.Checkout(suite.ctx, billing.Request{
		CustomerIdentifier: "Bob <bob@example.com>",
		PaidAmount:         10,
		Items:              []billing.LineRequest{{ProductID: "P1003", Quantity: 1}},
	})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.NoticeStatusSuccess, res.Notice.Status)
	assert.Equal(suite.T(), "bob@example.com", res.Notice.Recipient)
	assert.Equal(suite.T(), []sentInvoice{{Recipient: "bob@example.com", PurchaseID: res.PurchaseID}}, suite.notifier.Sent())
}

func (suite *BillingServiceTestSuite) TestNotificationFailureKeepsPurchase() {
	suite.notifier.err = errSMTPDown

	res, err := suite.service.Checkout(suite.ctx, billing.Request{
		CustomerIdentifier: "buyer@example.com",
		PaidAmount:         50,
		Items:              []billing.LineRequest{{ProductID: "P1003", Quantity: 2}},
	})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.NoticeStatusError, res.Notice.Status)
	assert.Contains(suite.T(), res.Notice.Error, "smtp down")
	assert.EqualValues(suite.T(), 1, suite.purchaseCount())
	assert.Equal(suite.T(), 198, suite.stock("P1003"))
}

func (suite *BillingServiceTestSuite) TestAsyncNotificationIsQueued() {
	suite.service.opts.AsyncNotify = true

	res, err := suite.service.Checkout(suite.ctx, billing.Request{
		CustomerIdentifier: "buyer@example.com",
		PaidAmount:         50,
		Items:              []billing.LineRequest{{ProductID: "P1003", Quantity: 2}},
	})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.NoticeStatusQueued, res.Notice.Status)

	suite.service.Wait()
	assert.Len(suite.T(), suite.notifier.Sent(), 1)
}

func (suite *BillingServiceTestSuite) TestLedgerListAndDelete() {
	at := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	suite.service.now = func() time.Time { at = at.Add(time.Minute); return at }

	var ids []uint
	for _, customer := range []string{" Alice@Example.com ", "bob", "alice@example.com"} {
		res, err := suite.service.Checkout(suite.ctx, billing.Request{
			CustomerIdentifier: customer,
			PaidAmount:         100,
			Items:              []billing.LineRequest{{ProductID: "P1001", Quantity: 1}, {ProductID: "P1003", Quantity: 1}},
		})
		require.NoError(suite.T(), err)
		ids = append(ids, res.PurchaseID)
	}

	params := utils.NormalizePagination(utils.PaginationParams{Sort: "purchased_at", Order: "desc"})
	purchases, total, err := suite.service.ListPurchases(suite.ctx, params)
	require.NoError(suite.T(), err)
	assert.EqualValues(suite.T(), 3, total)
	assert.Equal(suite.T(), ids[2], purchases[0].ID)
	assert.Len(suite.T(), purchases[0].Items, 2)

	params.Search = "ALICE@example.com"
	_, total, err = suite.service.ListPurchases(suite.ctx, params)
	require.NoError(suite.T(), err)
	assert.EqualValues(suite.T(), 2, total)

	require.NoError(suite.T(), suite.service.DeletePurchase(suite.ctx, ids[0]))
	var items int64
	suite.db.Model(&models.PurchaseItem{}).Where("purchase_id = ?", ids[0]).Count(&items)
	assert.Zero(suite.T(), items)

	_, err = suite.service.GetPurchase(suite.ctx, ids[0])
	assert.True(suite.T(), billing.IsNotFound(err))
	assert.True(suite.T(), billing.IsNotFound(suite.service.DeletePurchase(suite.ctx, ids[0])))
	assert.Contains(suite.T(), suite.publisher.Topics(), events.TopicPurchaseDeleted)

	// stock is not restored by deleting a purchase
	assert.Equal(suite.T(), 97, suite.stock("P1001"))
}

func (suite *BillingServiceTestSuite) TestInvoiceKeepsSnapshotAfterCatalogChange() {
	res, err := suite.service.Checkout(suite.ctx, billing.Request{
		CustomerIdentifier: "walk-in",
		PaidAmount:         100,
		Items:              []billing.LineRequest{{ProductID: "P1002", Quantity: 1}},
	})
	require.NoError(suite.T(), err)

	catalog := NewCatalogService(suite.db)
	notebook, err := catalog.GetProductByCode(suite.ctx, "P1002")
	require.NoError(suite.T(), err)
	require.NoError(suite.T(), catalog.DeleteProduct(suite.ctx, notebook.ID))

	purchase, err := suite.service.GetPurchase(suite.ctx, res.PurchaseID)
	require.NoError(suite.T(), err)
	invoice := BuildInvoice(purchase)
	assert.Equal(suite.T(), "Notebook", invoice.Lines[0].ProductName)
	assert.InDelta(suite.T(), 50.0, invoice.SubtotalBeforeTax, 0.001)
	assert.InDelta(suite.T(), 6.0, invoice.TotalTax, 0.001)
	assert.InDelta(suite.T(), 56.0, invoice.NetTotal, 0.001)
	assert.InDelta(suite.T(), 44.0, invoice.Balance, 0.001)
}

func TestBillingServiceTestSuite(t *testing.T) {
	suite.Run(t, new(BillingServiceTestSuite))
}
