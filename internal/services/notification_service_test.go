package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/billing-backend/internal/billing"
	"github.com/javajoker/billing-backend/internal/config"
)

type fakeMailer struct {
	mu       sync.Mutex
	messages []*EmailMessage
	err      error
}

func (m *fakeMailer) Send(_ context.Context, msg *EmailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msg)
	return nil
}

type fakeArchive struct {
	keys []string
}

func (a *fakeArchive) ArchiveInvoice(_ context.Context, purchaseID uint, body []byte) (string, error) {
	key := "invoices/test.html"
	a.keys = append(a.keys, key)
	return key, nil
}

var emailConfig = config.EmailConfig{
	Enabled:   true,
	SMTPHost:  "smtp.example.com",
	SMTPPort:  "465",
	FromEmail: "billing@example.com",
	FromName:  "Mini Billing",
	UseSSL:    true,
}

func TestSendInvoiceRendersAndArchives(t *testing.T) {
	db := newTestDB(t)
	ids := seedLedger(t, db)

	mailer := &fakeMailer{}
	archive := &fakeArchive{}
	svc := NewNotificationService(db, emailConfig, mailer, archive)

	require.NoError(t, svc.SendInvoice(context.Background(), "bob@example.com", ids[2]))
	require.Len(t, mailer.messages, 1)

	msg := mailer.messages[0]
	assert.Equal(t, "bob@example.com", msg.To)
	assert.Contains(t, msg.Subject, "Invoice #")
	assert.Contains(t, msg.From, "billing@example.com")
	assert.Contains(t, msg.HTML, "P1002")
	assert.Contains(t, msg.HTML, "Notebook")
	assert.Contains(t, msg.HTML, "Net: 66.50")
	assert.Contains(t, msg.HTML, "Tax: 6.50")
	assert.Contains(t, msg.HTML, "Rounded down: 66.00")
	assert.Len(t, archive.keys, 1)
}

func TestSendInvoiceFailures(t *testing.T) {
	db := newTestDB(t)
	ids := seedLedger(t, db)

	svc := NewNotificationService(db, emailConfig, &fakeMailer{}, nil)
	err := svc.SendInvoice(context.Background(), "x@example.com", 9999)
	var notifyErr *billing.NotificationError
	require.ErrorAs(t, err, &notifyErr)
	assert.EqualValues(t, 9999, notifyErr.PurchaseID)
	assert.True(t, billing.IsNotFound(err))

	svc = NewNotificationService(db, emailConfig, &fakeMailer{err: errors.New("550 mailbox unavailable")}, nil)
	err = svc.SendInvoice(context.Background(), "x@example.com", ids[0])
	require.ErrorAs(t, err, &notifyErr)
	assert.Contains(t, err.Error(), "550")
}

func TestEmailMessageBytes(t *testing.T) {
	msg := &EmailMessage{
		From:    "billing@example.com",
		To:      "bob@example.com",
		Subject: "Invoice #7",
		Text:    "Please view the invoice in HTML format.",
		HTML:    "<p>Net: 10.00</p>",
	}
	raw, err := msg.Bytes()
	require.NoError(t, err)

	body := string(raw)
	assert.Contains(t, body, "To: bob@example.com\r\n")
	assert.Contains(t, body, "MIME-Version: 1.0\r\n")
	assert.Contains(t, body, "multipart/alternative")
	assert.Contains(t, body, "text/plain")
	assert.Contains(t, body, "text/html")
	assert.Contains(t, body, "Content-Transfer-Encoding: quoted-printable")
}

func TestSMTPMailerRequiresHost(t *testing.T) {
	err := NewSMTPMailer(config.EmailConfig{}).Send(context.Background(), &EmailMessage{To: "a@example.com"})
	assert.Error(t, err)
}

func TestNewInvoiceNotifier(t *testing.T) {
	db := newTestDB(t)
	assert.Nil(t, NewInvoiceNotifier(db, config.EmailConfig{Enabled: false, SMTPHost: "smtp.example.com"}, nil))
	assert.Nil(t, NewInvoiceNotifier(db, config.EmailConfig{Enabled: true}, nil))
	assert.NotNil(t, NewInvoiceNotifier(db, emailConfig, nil))
}

func TestEnvelopeAddress(t *testing.T) {
	for in, want := range map[string]string{
		"bob@example.com":          "bob@example.com",
		"Bob <bob@example.com>":    "bob@example.com",
		`"Doe, J" <j@example.com>`: "j@example.com",
	} {
		got, err := envelopeAddress(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := envelopeAddress("walk-in")
	assert.Error(t, err)
}
