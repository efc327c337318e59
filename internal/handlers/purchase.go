// internal/handlers/purchase.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/billing-backend/internal/i18n"
	"github.com/javajoker/billing-backend/internal/services"
	"github.com/javajoker/billing-backend/internal/utils"
)

type PurchaseHandler struct {
	billingService *services.BillingService
}

func NewPurchaseHandler(billingService *services.BillingService) *PurchaseHandler {
	return &PurchaseHandler{
		billingService: billingService,
	}
}

// GET /purchases
func (h *PurchaseHandler) GetPurchases(c *gin.Context) {
	params := utils.GetPaginationParams(c, "purchased_at")
	if customer := c.Query("customer"); customer != "" {
		params.Search = customer
	}

	purchases, total, err := h.billingService.ListPurchases(c.Request.Context(), params)
	if err != nil {
		utils.InternalErrorResponse(c, err.Error())
		return
	}

	rows := make([]services.PurchaseRow, 0, len(purchases))
	for i := range purchases {
		rows = append(rows, services.PurchaseRow{
			ID:                 purchases[i].ID,
			CustomerIdentifier: purchases[i].CustomerIdentifier,
			PurchasedAt:        purchases[i].PurchasedAt,
			TotalAmount:        purchases[i].TotalAmount,
			PaidAmount:         purchases[i].PaidAmount,
			Balance:            purchases[i].Balance,
			ItemsCount:         len(purchases[i].Items),
		})
	}

	result := utils.CreatePaginationResult(rows, total, params)
	utils.PaginatedResponse(c, result)
}

// GET /purchases/:id
func (h *PurchaseHandler) GetPurchase(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	purchase, err := h.billingService.GetPurchase(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "purchase")
		return
	}

	utils.SuccessResponse(c, services.BuildInvoice(purchase))
}

// DELETE /admin/purchases/:id
func (h *PurchaseHandler) DeletePurchase(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.billingService.DeletePurchase(c.Request.Context(), id); err != nil {
		respondError(c, err, "purchase")
		return
	}

	adminID, _ := utils.GetUserIDFromContext(c)
	logrus.WithFields(logrus.Fields{
		"purchase_id": id,
		"admin_id":    adminID,
	}).Info("Purchase deleted")

	utils.SuccessResponse(c, gin.H{"message": i18n.T(lang, i18n.KeyPurchaseDeleted)})
}
