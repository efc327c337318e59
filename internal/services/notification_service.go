// internal/services/notification_service.go
package services

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/billing-backend/internal/billing"
	"github.com/javajoker/billing-backend/internal/config"
)

// Mailer delivers one composed message.
type Mailer interface {
	Send(ctx context.Context, msg *EmailMessage) error
}

// InvoiceArchiver stores a rendered invoice and returns its key.
type InvoiceArchiver interface {
	ArchiveInvoice(ctx context.Context, purchaseID uint, body []byte) (string, error)
}

type EmailMessage struct {
	From    string
	To      string
	Subject string
	Text    string
	HTML    string
}

type NotificationService struct {
	db       *gorm.DB
	mailer   Mailer
	archive  InvoiceArchiver
	cfg      config.EmailConfig
	template *template.Template
}

var invoiceTemplate = template.Must(template.New("invoice").Funcs(template.FuncMap{
	"money": func(f float64) string { return fmt.Sprintf("%.2f", f) },
	"date":  func(t time.Time) string { return t.Format("2006-01-02 15:04") },
}).Parse(`<!DOCTYPE html>
<html>
<body>
	<h2>Invoice #{{.PurchaseID}}</h2>
	<p>Customer: {{.CustomerIdentifier}}<br>
	   Date: {{date .PurchasedAt}}</p>
	<table border="1" cellpadding="6" cellspacing="0" style="border-collapse:collapse;">
		<thead>
			<tr>
				<th>Product ID</th><th>Product</th><th>Unit Price</th><th>Qty</th>
				<th>Purchase Price</th><th>Tax %</th><th>Tax Amount</th><th>Total</th>
			</tr>
		</thead>
		<tbody>
		{{- range .Lines}}
			<tr>
				<td>{{.ProductCode}}</td>
				<td>{{.ProductName}}</td>
				<td>{{money .PricePerUnit}}</td>
				<td>{{.Quantity}}</td>
				<td>{{money .Amount}}</td>
				<td>{{money .TaxPercentage}}</td>
				<td>{{money .TaxAmount}}</td>
				<td>{{money .LineTotal}}</td>
			</tr>
		{{- end}}
		</tbody>
	</table>
	<p>Total (no tax): {{money .SubtotalBeforeTax}}<br>
	   Tax: {{money .TotalTax}}<br>
	   Net: {{money .NetTotal}}<br>
	   Rounded down: {{money .RoundedDown}}<br>
	   Paid: {{money .PaidAmount}}<br>
	   Balance: {{money .Balance}}</p>
	<p>Thank you for your purchase!</p>
</body>
</html>`))

// NewNotificationService builds the invoice mailer. archive may be nil.
func NewNotificationService(db *gorm.DB, cfg config.EmailConfig, mailer Mailer, archive InvoiceArchiver) *NotificationService {
	return &NotificationService{
		db:       db,
		mailer:   mailer,
		archive:  archive,
		cfg:      cfg,
		template: invoiceTemplate,
	}
}

// SendInvoice mails the invoice of a committed purchase.
func (s *NotificationService) SendInvoice(ctx context.Context, recipient string, purchaseID uint) error {
	fail := func(err error) error {
		return &billing.NotificationError{PurchaseID: purchaseID, Recipient: recipient, Err: err}
	}

	purchase, err := loadPurchase(s.db.WithContext(ctx), purchaseID)
	if err != nil {
		return fail(err)
	}

	invoice := BuildInvoice(purchase)
	html, err := s.RenderInvoice(invoice)
	if err != nil {
		return fail(err)
	}

	if s.archive != nil {
		if key, err := s.archive.ArchiveInvoice(ctx, purchaseID, []byte(html)); err != nil {
			logrus.WithError(err).WithField("purchase_id", purchaseID).Warn("Failed to archive invoice")
		} else if key != "" {
			logrus.WithFields(logrus.Fields{"purchase_id": purchaseID, "key": key}).Debug("Invoice archived")
		}
	}

	msg := &EmailMessage{
		From:    formatFrom(s.cfg.FromName, s.cfg.FromEmail),
		To:      recipient,
		Subject: fmt.Sprintf("Invoice #%d", purchaseID),
		Text:    fmt.Sprintf("Please view the invoice in HTML format.\r\nNet: %.2f\r\nPaid: %.2f\r\nBalance: %.2f\r\n", invoice.NetTotal, invoice.PaidAmount, invoice.Balance),
		HTML:    html,
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return fail(err)
	}

	logrus.WithFields(logrus.Fields{
		"purchase_id": purchaseID,
		"recipient":   recipient,
	}).Info("Invoice sent")
	return nil
}

func (s *NotificationService) RenderInvoice(invoice *Invoice) (string, error) {
	var buf bytes.Buffer
	if err := s.template.Execute(&buf, invoice); err != nil {
		return "", fmt.Errorf("failed to render invoice: %w", err)
	}
	return buf.String(), nil
}

func formatFrom(name, address string) string {
	if name == "" {
		return address
	}
	return fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", name), address)
}

// Bytes renders the message as multipart/alternative with quoted-printable parts.
func (m *EmailMessage) Bytes() ([]byte, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	parts := []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=\"UTF-8\"", m.Text},
		{"text/html; charset=\"UTF-8\"", m.HTML},
	}
	for _, p := range parts {
		header := textproto.MIMEHeader{}
		header.Set("Content-Type", p.contentType)
		header.Set("Content-Transfer-Encoding", "quoted-printable")
		pw, err := writer.CreatePart(header)
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(pw)
		if _, err := qp.Write([]byte(p.content)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", m.From)
	fmt.Fprintf(&msg, "To: %s\r\n", m.To)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.Subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&msg, "Message-ID: <%s@billing>\r\n", uuid.NewString())
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", writer.Boundary())
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

// SMTPMailer speaks SMTP over implicit TLS, or plain TCP upgraded with STARTTLS.
type SMTPMailer struct {
	cfg config.EmailConfig
}

func NewSMTPMailer(cfg config.EmailConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) Send(ctx context.Context, msg *EmailMessage) error {
	if m.cfg.SMTPHost == "" {
		return errors.New("SMTP host not configured")
	}

	timeout := m.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	addr := net.JoinHostPort(m.cfg.SMTPHost, m.cfg.SMTPPort)
	tlsConfig := &tls.Config{ServerName: m.cfg.SMTPHost, MinVersion: tls.VersionTLS12}
	dialer := &net.Dialer{Deadline: deadline}

	var (
		conn net.Conn
		err  error
	)
	if m.cfg.UseSSL {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return err
	}

	client, err := smtp.NewClient(conn, m.cfg.SMTPHost)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake failed: %w", err)
	}
	defer client.Close()

	if !m.cfg.UseSSL {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			return errors.New("smtp server does not support STARTTLS")
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("starttls failed: %w", err)
		}
	}

	if m.cfg.SMTPUsername != "" {
		auth := smtp.PlainAuth("", m.cfg.SMTPUsername, m.cfg.SMTPPassword, m.cfg.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth failed: %w", err)
		}
	}

	body, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("failed to compose message: %w", err)
	}

	if err := client.Mail(m.cfg.FromEmail); err != nil {
		return err
	}
	rcpt, err := envelopeAddress(msg.To)
	if err != nil {
		return err
	}
	if err := client.Rcpt(rcpt); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

// envelopeAddress strips any display name for the SMTP envelope.
func envelopeAddress(s string) (string, error) {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return "", fmt.Errorf("invalid recipient %q: %w", s, err)
	}
	return addr.Address, nil
}

// NewInvoiceNotifier returns nil when email is disabled or unconfigured, which
// checkout reports as a skipped notice.
func NewInvoiceNotifier(db *gorm.DB, cfg config.EmailConfig, archive InvoiceArchiver) InvoiceNotifier {
	if !cfg.Enabled || cfg.SMTPHost == "" {
		logrus.Info("Email not configured, invoice mails disabled")
		return nil
	}
	return NewNotificationService(db, cfg, NewSMTPMailer(cfg), archive)
}
