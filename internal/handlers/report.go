// internal/handlers/report.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/billing-backend/internal/services"
	"github.com/javajoker/billing-backend/internal/utils"
)

type ReportHandler struct {
	reportService *services.ReportService
}

func NewReportHandler(reportService *services.ReportService) *ReportHandler {
	return &ReportHandler{
		reportService: reportService,
	}
}

// GET /reports/overview
func (h *ReportHandler) GetOverview(c *gin.Context) {
	overview, err := h.reportService.Overview(c.Request.Context())
	if err != nil {
		respondError(c, err, "purchase")
		return
	}
	utils.SuccessResponse(c, overview)
}

// GET /reports/customers[?customer=]
func (h *ReportHandler) GetCustomers(c *gin.Context) {
	ctx := c.Request.Context()

	summaries, err := h.reportService.CustomerSummaries(ctx)
	if err != nil {
		respondError(c, err, "purchase")
		return
	}

	data := gin.H{"customers": summaries}
	if customer, ok := c.GetQuery("customer"); ok {
		history, err := h.reportService.CustomerHistory(ctx, customer)
		if err != nil {
			respondError(c, err, "purchase")
			return
		}
		data["selected"] = history
	}

	utils.SuccessResponse(c, data)
}

// GET /reports/products[?product=]
func (h *ReportHandler) GetProducts(c *gin.Context) {
	ctx := c.Request.Context()

	summaries, err := h.reportService.ProductSummaries(ctx)
	if err != nil {
		respondError(c, err, "purchase")
		return
	}

	data := gin.H{"products": summaries}
	if product, ok := c.GetQuery("product"); ok {
		history, err := h.reportService.ProductHistory(ctx, product)
		if err != nil {
			respondError(c, err, "purchase")
			return
		}
		data["selected"] = history
	}

	utils.SuccessResponse(c, data)
}
