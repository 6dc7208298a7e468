package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"learnhub_payments/internal/middleware"
	"learnhub_payments/internal/services"
)

// Register mounts the API on e
func Register(e *echo.Echo, svc *services.Services, verifier middleware.TokenVerifier, now func() time.Time) {
	e.Validator = NewRequestValidator()

	paymentHandler := NewPaymentHandler(svc.Payments)
	planHandler := NewPlanHandler(svc.Installments, now)
	webhookHandler := NewWebhookHandler(svc.Webhooks)
	revenueHandler := NewRevenueHandler(svc.Ledger)
	payoutHandler := NewPayoutHandler(svc.Payouts)

	// Public routes
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", middleware.PrometheusHandler())
	e.POST("/webhooks/gateway", webhookHandler.HandleGatewayWebhook)

	// Protected routes
	api := e.Group("/api", middleware.RequireAuth(verifier))

	api.POST("/payments", paymentHandler.CreatePayment)
	api.GET("/payments/:id", paymentHandler.GetPayment)
	api.POST("/payments/:id/verify", paymentHandler.VerifyPayment)
	api.POST("/payments/:id/retry", paymentHandler.RetryPayment)
	api.POST("/payments/:id/cancel", paymentHandler.CancelPayment)

	api.POST("/installment-plans", planHandler.StorePlan)
	api.GET("/installment-plans/:id", planHandler.GetPlan)
	api.POST("/installment-plans/:id/installments/:number/pay", planHandler.PayInstallment)

	teacher := middleware.RequireRole(middleware.RoleTeacher, middleware.RoleAdmin)
	api.GET("/revenue", revenueHandler.ListRevenue, teacher)
	api.GET("/revenue/export", revenueHandler.ExportRevenue, teacher)
	api.GET("/payouts/balance", revenueHandler.Balance, teacher)
	api.GET("/payouts", payoutHandler.ListPayouts, teacher)
	api.POST("/payouts", payoutHandler.RequestPayout, middleware.RequireRole(middleware.RoleTeacher))
	api.GET("/payouts/:id", payoutHandler.GetPayout, teacher)
	api.POST("/payouts/:id/cancel", payoutHandler.CancelPayout, teacher)
	api.GET("/payouts/:id/receipt", payoutHandler.Receipt, teacher)

	// Admin routes
	admin := api.Group("/admin", middleware.RequireRole(middleware.RoleAdmin))
	admin.POST("/payments/:id/refund", paymentHandler.RefundPayment)
	admin.POST("/installment-plans/:id/installments/:number/mark-paid", planHandler.MarkInstallmentPaid)
	admin.POST("/installment-plans/:id/check-overdue", planHandler.CheckOverdue)
	admin.POST("/installment-plans/:id/cancel", planHandler.CancelPlan)
	admin.POST("/payouts/:id/approve", payoutHandler.ApprovePayout)
	admin.POST("/payouts/:id/reject", payoutHandler.RejectPayout)
	admin.POST("/payouts/:id/process", payoutHandler.ProcessPayout)
	admin.POST("/payouts/:id/complete", payoutHandler.CompletePayout)
}
