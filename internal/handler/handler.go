package handler

import (
	"errors"
	"strconv"

	"earnsystem/internal/gateway"
	"earnsystem/internal/ledger"
	"earnsystem/internal/repository"
	"earnsystem/internal/service"
	"earnsystem/pkg/logger"
	"earnsystem/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Services are the dependencies of the HTTP layer.
type Services struct {
	Accounts    *service.AccountService
	Purchases   *service.PurchaseService
	Payments    *service.PaymentService
	Withdrawals *service.WithdrawalService
	Admin       *service.AdminService
}

type Handler struct {
	accountService    *service.AccountService
	purchaseService   *service.PurchaseService
	paymentService    *service.PaymentService
	withdrawalService *service.WithdrawalService
	adminService      *service.AdminService
}

func NewHandler(s Services) *Handler {
	return &Handler{
		accountService:    s.Accounts,
		purchaseService:   s.Purchases,
		paymentService:    s.Payments,
		withdrawalService: s.Withdrawals,
		adminService:      s.Admin,
	}
}

// writeError maps service errors onto the response envelope.
func writeError(c *gin.Context, err error) {
	var ve *service.ValidationError
	var ib *ledger.InsufficientBalanceError
	switch {
	case errors.As(err, &ve):
		response.BusinessError(c, response.CodeValidationFailed, ve.Reason)
	case errors.As(err, &ib):
		response.BusinessError(c, response.CodeBalanceNotEnough, "insufficient balance")
	case errors.Is(err, ledger.ErrInsufficientBalance):
		response.BusinessError(c, response.CodeBalanceNotEnough, "insufficient balance")
	case errors.Is(err, repository.ErrAccountNotFound):
		response.BusinessError(c, response.CodeAccountNotFound, "account not found")
	case service.IsNotFound(err):
		response.BusinessError(c, response.CodeNotFoundEntity, err.Error())
	case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, service.ErrAlreadyProcessed):
		response.BusinessError(c, response.CodeInvalidTransition, err.Error())
	case errors.Is(err, service.ErrForbidden):
		response.Error(c, response.CodeForbidden, err.Error())
	case errors.Is(err, gateway.ErrUnknownStatus), errors.Is(err, ledger.ErrInvalidEntry):
		response.BusinessError(c, response.CodeValidationFailed, err.Error())
	case errors.Is(err, ledger.ErrInvariantViolation):
		logger.Error("invariant violation", zap.String("path", c.FullPath()), zap.Error(err))
		response.BusinessError(c, response.CodeInvariantViolated, "request violates an account invariant")
	case service.IsRetryable(err):
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		response.BusinessError(c, response.CodeBusyRetry, "temporarily unavailable, please retry")
	default:
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		response.ServerError(c, "internal error")
	}
}

func paramInt64(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		response.ParamError(c, name+" must be a positive integer")
		return 0, false
	}
	return v, true
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return page, pageSize
}

// ============================================================
// accounts
// ============================================================

// Register POST /api/v1/accounts
func (h *Handler) Register(c *gin.Context) {
	var req service.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	account, err := h.accountService.Register(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, account)
}

// GetAccount GET /api/v1/accounts/:user_id
func (h *Handler) GetAccount(c *gin.Context) {
	userID, ok := paramInt64(c, "user_id")
	if !ok {
		return
	}
	account, err := h.accountService.GetAccount(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, account)
}

// ListTransactions GET /api/v1/accounts/:user_id/transactions?page=1&page_size=20
func (h *Handler) ListTransactions(c *gin.Context) {
	userID, ok := paramInt64(c, "user_id")
	if !ok {
		return
	}
	page, pageSize := pageParams(c)
	rows, total, err := h.accountService.ListTransactions(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"list": rows, "total": total, "page": page, "page_size": pageSize})
}

// ListSubscriptions GET /api/v1/accounts/:user_id/subscriptions
func (h *Handler) ListSubscriptions(c *gin.Context) {
	userID, ok := paramInt64(c, "user_id")
	if !ok {
		return
	}
	subs, err := h.accountService.ListSubscriptions(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, subs)
}

// ListAccruals GET /api/v1/accounts/:user_id/subscriptions/:id/accruals
func (h *Handler) ListAccruals(c *gin.Context) {
	userID, ok := paramInt64(c, "user_id")
	if !ok {
		return
	}
	subID, ok := paramInt64(c, "id")
	if !ok {
		return
	}
	rows, err := h.accountService.ListAccruals(c.Request.Context(), userID, subID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, rows)
}

// ListCommissions GET /api/v1/accounts/:user_id/commissions?page=1&page_size=20
func (h *Handler) ListCommissions(c *gin.Context) {
	userID, ok := paramInt64(c, "user_id")
	if !ok {
		return
	}
	page, pageSize := pageParams(c)
	rows, total, err := h.accountService.ListCommissions(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"list": rows, "total": total, "page": page, "page_size": pageSize})
}

// ListReferrals GET /api/v1/accounts/:user_id/referrals
func (h *Handler) ListReferrals(c *gin.Context) {
	userID, ok := paramInt64(c, "user_id")
	if !ok {
		return
	}
	edges, err := h.accountService.ListReferrals(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, edges)
}

// ListPayments GET /api/v1/accounts/:user_id/payments
func (h *Handler) ListPayments(c *gin.Context) {
	userID, ok := paramInt64(c, "user_id")
	if !ok {
		return
	}
	page, pageSize := pageParams(c)
	rows, total, err := h.paymentService.ListPayments(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"list": rows, "total": total, "page": page, "page_size": pageSize})
}

// ListWithdrawals GET /api/v1/accounts/:user_id/withdrawals
func (h *Handler) ListWithdrawals(c *gin.Context) {
	userID, ok := paramInt64(c, "user_id")
	if !ok {
		return
	}
	page, pageSize := pageParams(c)
	rows, total, err := h.withdrawalService.ListByUser(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"list": rows, "total": total, "page": page, "page_size": pageSize})
}

// ============================================================
// deposits and purchases
// ============================================================

type DepositRequest struct {
	UserID   int64           `json:"user_id" binding:"required,gt=0"`
	Amount   decimal.Decimal `json:"amount" binding:"required"`
	Currency string          `json:"currency"` // crypto the user pays with
}

// CreateDeposit POST /api/v1/deposits
func (h *Handler) CreateDeposit(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	payment, err := h.paymentService.CreateDeposit(c.Request.Context(), req.UserID, req.Amount, req.Currency)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"payment_no":  payment.PaymentNo,
		"status":      payment.Status,
		"amount":      payment.Amount,
		"invoice_url": payment.InvoiceURL,
		"expires_at":  payment.ExpiresAt,
	})
}

// GetPayment GET /api/v1/payments/:no
func (h *Handler) GetPayment(c *gin.Context) {
	payment, err := h.paymentService.GetPayment(c.Request.Context(), c.Param("no"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, payment)
}

type RentalRequest struct {
	UserID   int64 `json:"user_id" binding:"required,gt=0"`
	DeviceID int64 `json:"device_id" binding:"required,gt=0"`
}

// RentDevice POST /api/v1/rentals
func (h *Handler) RentDevice(c *gin.Context) {
	var req RentalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	sub, err := h.purchaseService.RentDevice(c.Request.Context(), req.UserID, req.DeviceID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, sub)
}

type InvestmentRequest struct {
	UserID int64           `json:"user_id" binding:"required,gt=0"`
	PlanID int64           `json:"plan_id" binding:"required,gt=0"`
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

// Invest POST /api/v1/investments
func (h *Handler) Invest(c *gin.Context) {
	var req InvestmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	sub, err := h.purchaseService.Invest(c.Request.Context(), req.UserID, req.PlanID, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, sub)
}

// ============================================================
// withdrawals
// ============================================================

// RequestWithdrawal POST /api/v1/withdrawals
func (h *Handler) RequestWithdrawal(c *gin.Context) {
	var req service.WithdrawalRequestInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	w, err := h.withdrawalService.Request(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, w)
}

// CancelWithdrawal POST /api/v1/withdrawals/:no/cancel
func (h *Handler) CancelWithdrawal(c *gin.Context) {
	var req struct {
		UserID int64 `json:"user_id" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	w, err := h.withdrawalService.Cancel(c.Request.Context(), req.UserID, c.Param("no"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, w)
}

// ============================================================
// gateway webhook
// ============================================================

// PaymentWebhook POST /api/v1/webhooks/payment
//
// The signature covers the raw body, so the body is read before any
// decoding. A rejected signature is answered with 401 so the gateway
// does not treat it as delivered.
func (h *Handler) PaymentWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		response.Abort(c, 400, response.CodeParamError, "unreadable body")
		return
	}
	res, err := h.paymentService.HandleWebhook(c.Request.Context(), body, c.GetHeader(gateway.SignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrInvalidSignature):
			logger.Warn("webhook signature rejected", zap.String("ip", c.ClientIP()))
			response.Abort(c, 401, response.CodeUnauthorized, "invalid signature")
		case service.IsRetryable(err):
			// non-2xx makes the gateway deliver again
			logger.Error("webhook processing failed", zap.Error(err))
			response.Abort(c, 503, response.CodeBusyRetry, "retry later")
		default:
			writeError(c, err)
		}
		return
	}
	response.Success(c, res)
}
