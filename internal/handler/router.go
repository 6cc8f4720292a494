package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRouter(h *Handler, adminToken string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(MetricsMiddleware())
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		accounts := api.Group("/accounts")
		{
			accounts.POST("", h.Register)
			accounts.GET("/:user_id", h.GetAccount)
			accounts.GET("/:user_id/transactions", h.ListTransactions)
			accounts.GET("/:user_id/subscriptions", h.ListSubscriptions)
			accounts.GET("/:user_id/subscriptions/:id/accruals", h.ListAccruals)
			accounts.GET("/:user_id/commissions", h.ListCommissions)
			accounts.GET("/:user_id/referrals", h.ListReferrals)
			accounts.GET("/:user_id/payments", h.ListPayments)
			accounts.GET("/:user_id/withdrawals", h.ListWithdrawals)
		}

		api.POST("/deposits", h.CreateDeposit)
		api.GET("/payments/:no", h.GetPayment)
		api.POST("/rentals", h.RentDevice)
		api.POST("/investments", h.Invest)

		withdrawals := api.Group("/withdrawals")
		{
			withdrawals.POST("", h.RequestWithdrawal)
			withdrawals.POST("/:no/cancel", h.CancelWithdrawal)
		}

		api.POST("/webhooks/payment", h.PaymentWebhook)

		admin := api.Group("/admin", AdminAuth(adminToken))
		{
			admin.GET("/withdrawals", h.AdminListWithdrawals)
			admin.POST("/withdrawals/:no/approve", h.ApproveWithdrawal)
			admin.POST("/withdrawals/:no/process", h.ProcessWithdrawal)
			admin.POST("/withdrawals/:no/reject", h.RejectWithdrawal)
			admin.POST("/withdrawals/:no/complete", h.CompleteWithdrawal)

			admin.POST("/balance/adjust", h.AdjustBalance)
			admin.PUT("/accounts/:user_id/status", h.SetAccountStatus)
			admin.PUT("/subscriptions/:id/status", h.SetSubscriptionStatus)
			admin.GET("/accruals", h.ListAccrualsByDay)
			admin.GET("/accruals/:id", h.GetAccrual)
			admin.GET("/journal", h.JournalByRef)
			admin.POST("/payments", h.CreateManualPayment)
			admin.POST("/payments/:no/reconcile", h.ReconcilePayment)

			admin.POST("/devices", h.CreateDevice)
			admin.PUT("/devices/:id/uptime", h.SetDeviceUptime)
			admin.POST("/plans", h.CreatePlan)

			admin.POST("/settlements", h.TriggerSettlement)
			admin.GET("/settlements", h.ListSettlementRuns)

			admin.GET("/settings", h.ListSettings)
			admin.PUT("/settings/:key", h.SetSetting)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
