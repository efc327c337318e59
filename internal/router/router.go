// internal/router/router.go
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/javajoker/billing-backend/internal/config"
	"github.com/javajoker/billing-backend/internal/events"
	"github.com/javajoker/billing-backend/internal/handlers"
	"github.com/javajoker/billing-backend/internal/middleware"
	"github.com/javajoker/billing-backend/internal/models"
	"github.com/javajoker/billing-backend/internal/services"
	"github.com/javajoker/billing-backend/internal/utils"
)

// Dependencies are the collaborators built outside the router. Nil fields get
// defaults: a fresh registry, a no-op publisher and a notifier from config.
type Dependencies struct {
	DB          *gorm.DB
	Config      *config.Config
	Registry    *prometheus.Registry
	Publisher   events.Publisher
	Notifier    services.InvoiceNotifier
	RateLimiter *middleware.RateLimiter
}

type Router struct {
	Engine  *gin.Engine
	Billing *services.BillingService
}

func Initialize(deps Dependencies) *Router {
	cfg := deps.Config
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NoopPublisher{}
	}
	if deps.RateLimiter == nil {
		deps.RateLimiter = middleware.NewRateLimiter(rate.Limit(20), 40)
	}

	notifier := deps.Notifier
	if notifier == nil {
		storageService, err := services.NewStorageService(cfg.AWS)
		if err != nil {
			logrus.WithError(err).Warn("Invoice archive disabled")
		}
		notifier = services.NewInvoiceNotifier(deps.DB, cfg.Email, storageService)
	}

	// Initialize services
	catalogService := services.NewCatalogService(deps.DB)
	billingService := services.NewBillingService(deps.DB, notifier, deps.Publisher,
		services.NewBillingMetrics(deps.Registry),
		services.BillingOptions{
			Retries:       cfg.Billing.CheckoutRetries,
			AsyncNotify:   cfg.Email.Async,
			NotifyTimeout: cfg.Email.Timeout,
		})
	reportService := services.NewReportService(deps.DB)
	authService := services.NewAuthService(deps.DB, cfg.JWT)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	productHandler := handlers.NewProductHandler(catalogService)
	billingHandler := handlers.NewBillingHandler(billingService)
	purchaseHandler := handlers.NewPurchaseHandler(billingService)
	reportHandler := handlers.NewReportHandler(reportService)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	// Initialize Gin router
	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.NewHTTPMetrics(deps.Registry).Middleware())
	r.Use(middleware.CORS(cfg.Server.CORSOrigins))
	r.Use(middleware.I18nMiddleware(cfg.I18n.DefaultLocale))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		status, code := "healthy", http.StatusOK
		if sqlDB, err := deps.DB.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":  status,
			"version": "1.0.0",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))

	// API v1 routes
	v1 := r.Group("/v1")
	v1.Use(deps.RateLimiter.Middleware())
	{
		v1.POST("/auth/login", authHandler.Login)

		products := v1.Group("/products")
		{
			products.GET("", productHandler.GetProducts)
			products.GET("/:id", productHandler.GetProduct)
			products.GET("/by-code/:code", productHandler.GetProductByCode)
		}

		v1.GET("/denominations", productHandler.GetDenominations)
		v1.POST("/bills", billingHandler.GenerateBill)

		purchases := v1.Group("/purchases")
		{
			purchases.GET("", purchaseHandler.GetPurchases)
			purchases.GET("/:id", purchaseHandler.GetPurchase)
		}

		reports := v1.Group("/reports")
		{
			reports.GET("/overview", reportHandler.GetOverview)
			reports.GET("/customers", reportHandler.GetCustomers)
			reports.GET("/products", reportHandler.GetProducts)
		}

		// Admin routes
		admin := v1.Group("/admin")
		admin.Use(middleware.AuthRequired())
		{
			admin.POST("/products", middleware.RoleRequired(models.AdminRoleCashier), productHandler.CreateProduct)
			admin.PUT("/products/:id", middleware.RoleRequired(models.AdminRoleCashier), productHandler.UpdateProduct)
			admin.DELETE("/products/:id", middleware.RoleRequired(), productHandler.DeleteProduct)
			admin.DELETE("/purchases/:id", middleware.RoleRequired(), purchaseHandler.DeletePurchase)
		}
	}

	return &Router{Engine: r, Billing: billingService}
}
