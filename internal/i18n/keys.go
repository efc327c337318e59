// internal/i18n/keys.go
package i18n

// Translation keys constants
const (
	// Authentication
	KeyAuthRequired           = "auth.required"
	KeyAuthInvalidToken       = "auth.invalid_token"
	KeyAuthTokenExpired       = "auth.token_expired"
	KeyAuthInvalidCredentials = "auth.invalid_credentials"
	KeyAuthLoginSuccess       = "auth.login_success"

	// Admin
	KeyAdminAccessDenied = "admin.access_denied"

	// Products
	KeyProductCreated  = "product.created"
	KeyProductUpdated  = "product.updated"
	KeyProductDeleted  = "product.deleted"
	KeyProductNotFound = "product.not_found"
	KeyProductExists   = "product.exists"

	// Billing
	KeyBillGenerated        = "bill.generated"
	KeyBillInsufficientPaid = "bill.insufficient_payment"
	KeyBillOutOfStock       = "bill.out_of_stock"
	KeyBillUnavailable      = "bill.unavailable"
	KeyBillUnknownProduct   = "bill.unknown_product"

	// Purchases
	KeyPurchaseNotFound = "purchase.not_found"
	KeyPurchaseDeleted  = "purchase.deleted"

	// Validation
	KeyValidationInvalid = "validation.invalid"

	// Notifications
	KeyInvoiceSent    = "invoice.sent"
	KeyInvoiceFailed  = "invoice.failed"
	KeyInvoiceQueued  = "invoice.queued"
	KeyInvoiceSkipped = "invoice.skipped"
	KeyInvoiceNoEmail = "invoice.no_email"
)
