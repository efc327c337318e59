package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/javajoker/billing-backend/internal/config"
	"github.com/javajoker/billing-backend/internal/database"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenInMemory(strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()))
	require.NoError(t, err)
	require.NoError(t, database.SeedInitialData(db, config.AdminConfig{}))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

type sentInvoice struct {
	Recipient  string
	PurchaseID uint
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentInvoice
	err  error
}

func (f *fakeNotifier) SendInvoice(_ context.Context, recipient string, purchaseID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentInvoice{Recipient: recipient, PurchaseID: purchaseID})
	return nil
}

func (f *fakeNotifier) Sent() []sentInvoice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentInvoice(nil), f.sent...)
}

var errSMTPDown = errors.New("smtp down")
