package handler

import (
	"debitledger/internal/service"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRouter 配置路由
func SetupRouter(ledger *service.Ledger, logger *zap.Logger) *gin.Engine {
	r := gin.New()

	r.Use(RecoveryMiddleware(logger))
	// Repanic 交给上面的 RecoveryMiddleware 返回 500
	r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	r.Use(LoggerMiddleware(logger.Named("access")))
	r.Use(CORSMiddleware())
	r.Use(AppIdentityMiddleware())

	h := NewHandler(ledger, logger)

	api := r.Group("/api/v1")
	{
		api.POST("/customers/resolve", h.ResolveCustomer)

		customer := api.Group("/customers/:customer_id")
		{
			customer.GET("/balance", h.GetBalance)
			customer.GET("/balance/scopes", h.GetBalanceByScope)
			customer.GET("/movements", h.ListMovements)
			customer.GET("/reconciliation", h.Reconcile)

			customer.POST("/deposits", h.FundDeposit)
			customer.POST("/topups", h.TopUp)
			customer.GET("/deposits", h.ListDeposits)
			customer.GET("/deposits/:deposit_id", h.GetDeposit)

			customer.POST("/gift-cards", h.IssueGiftCard)
			customer.GET("/gift-cards", h.ListGiftCards)
			customer.GET("/gift-cards/:card_id", h.GetGiftCard)
		}

		api.GET("/gift-cards/lookup", h.LookupGiftCard)

		payment := api.Group("/payments")
		{
			payment.POST("", h.ReservePayment)
			payment.GET("/:payment_id", h.GetPayment)
			payment.POST("/:payment_id/confirm", h.ConfirmPayment)
			payment.POST("/:payment_id/cancel", h.CancelPayment)
		}

		scope := api.Group("/merchant-scopes")
		{
			scope.PUT("", h.UpsertMerchantScope)
			scope.GET("/:external_id", h.ResolveMerchantScope)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
