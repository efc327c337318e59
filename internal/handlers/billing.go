// internal/handlers/billing.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/billing-backend/internal/billing"
	"github.com/javajoker/billing-backend/internal/i18n"
	"github.com/javajoker/billing-backend/internal/models"
	"github.com/javajoker/billing-backend/internal/services"
	"github.com/javajoker/billing-backend/internal/utils"
)

type BillingHandler struct {
	billingService *services.BillingService
}

func NewBillingHandler(billingService *services.BillingService) *BillingHandler {
	return &BillingHandler{
		billingService: billingService,
	}
}

// POST /bills
func (h *BillingHandler) GenerateBill(c *gin.Context) {
	lang := utils.GetLangFromContext(c)

	// Field rules are enforced by the engine so row numbers survive.
	var req billing.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	result, err := h.billingService.Checkout(c.Request.Context(), req)
	if err != nil {
		respondError(c, err, "product")
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message":      i18n.T(lang, i18n.KeyBillGenerated),
		"purchase_id":  result.PurchaseID,
		"purchased_at": result.PurchasedAt,
		"bill":         result.Bill,
		"notice": gin.H{
			"status":  result.Notice.Status,
			"message": noticeMessage(lang, result.Notice),
		},
	})
}

func noticeMessage(lang string, n services.Notice) string {
	switch n.Status {
	case models.NoticeStatusSuccess:
		return i18n.T(lang, i18n.KeyInvoiceSent, n.Recipient)
	case models.NoticeStatusQueued:
		return i18n.T(lang, i18n.KeyInvoiceQueued, n.Recipient)
	case models.NoticeStatusError:
		return i18n.T(lang, i18n.KeyInvoiceFailed, n.Error)
	default:
		if n.Recipient != "" {
			return i18n.T(lang, i18n.KeyInvoiceNoEmail, n.Recipient)
		}
		return i18n.T(lang, i18n.KeyInvoiceSkipped)
	}
}
