// internal/handlers/errors.go
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/billing-backend/internal/billing"
	"github.com/javajoker/billing-backend/internal/i18n"
	"github.com/javajoker/billing-backend/internal/utils"
)

// respondError maps the billing error taxonomy onto HTTP responses.
// resource names the i18n namespace used for not-found messages.
func respondError(c *gin.Context, err error, resource string) {
	lang := utils.GetLangFromContext(c)

	var (
		validationErr *billing.ValidationError
		notFoundErr   *billing.NotFoundError
		stockErr      *billing.InsufficientStockError
		paymentErr    *billing.PaymentError
		conflictErr   *billing.ConflictError
		persistErr    *billing.PersistenceError
	)

	switch {
	case errors.As(err, &validationErr):
		var details interface{}
		if validationErr.Row > 0 {
			details = gin.H{"row": validationErr.Row}
		}
		utils.BadRequestResponse(c, validationErr.Error(), details)
	case errors.As(err, &stockErr):
		label := stockErr.ProductID
		if stockErr.Name != "" {
			label = stockErr.Name
		}
		utils.UnprocessableResponse(c, "INSUFFICIENT_STOCK",
			i18n.T(lang, i18n.KeyBillOutOfStock, label, stockErr.Have, stockErr.Need),
			gin.H{"product_id": stockErr.ProductID, "have": stockErr.Have, "need": stockErr.Need})
	case errors.As(err, &paymentErr):
		utils.UnprocessableResponse(c, "INSUFFICIENT_PAYMENT",
			i18n.T(lang, i18n.KeyBillInsufficientPaid, paymentErr.Paid, paymentErr.Total),
			gin.H{"paid": paymentErr.Paid, "total": paymentErr.Total, "shortfall": paymentErr.Shortfall()})
	case errors.As(err, &notFoundErr):
		if notFoundErr.Message == "unknown product" {
			utils.ErrorResponse(c, http.StatusNotFound, "NOT_FOUND",
				i18n.T(lang, i18n.KeyBillUnknownProduct, notFoundErr.Identifier),
				gin.H{"product_id": notFoundErr.Identifier})
			return
		}
		utils.NotFoundResponse(c, resource, gin.H{"id": notFoundErr.Identifier})
	case errors.As(err, &conflictErr):
		utils.ConflictResponse(c, i18n.T(lang, i18n.KeyProductExists))
	case errors.As(err, &persistErr):
		logrus.WithError(err).WithField("path", c.FullPath()).Error("Persistence failure")
		utils.ServiceUnavailableResponse(c, i18n.T(lang, i18n.KeyBillUnavailable))
	default:
		logrus.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
		utils.InternalErrorResponse(c, "")
	}
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		lang := utils.GetLangFromContext(c)
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "id"), nil)
		return 0, false
	}
	return uint(id), true
}
