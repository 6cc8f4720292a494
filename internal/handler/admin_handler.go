package handler

import (
	"strconv"

	"earnsystem/internal/model"
	"earnsystem/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

func actor(c *gin.Context) string {
	return "admin:" + c.GetString(ctxAdminID)
}

// AdminListWithdrawals GET /api/v1/admin/withdrawals?status=pending
func (h *Handler) AdminListWithdrawals(c *gin.Context) {
	page, pageSize := pageParams(c)
	status := c.DefaultQuery("status", model.WithdrawalStatusPending)
	rows, total, err := h.withdrawalService.ListByStatus(c.Request.Context(), status, page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"list": rows, "total": total, "page": page, "page_size": pageSize})
}

// ApproveWithdrawal POST /api/v1/admin/withdrawals/:no/approve
func (h *Handler) ApproveWithdrawal(c *gin.Context) {
	w, err := h.withdrawalService.Approve(c.Request.Context(), actor(c), c.Param("no"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, w)
}

// ProcessWithdrawal POST /api/v1/admin/withdrawals/:no/process
func (h *Handler) ProcessWithdrawal(c *gin.Context) {
	w, err := h.withdrawalService.MarkProcessing(c.Request.Context(), actor(c), c.Param("no"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, w)
}

// RejectWithdrawal POST /api/v1/admin/withdrawals/:no/reject
func (h *Handler) RejectWithdrawal(c *gin.Context) {
	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	w, err := h.withdrawalService.Reject(c.Request.Context(), actor(c), c.Param("no"), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, w)
}

// CompleteWithdrawal POST /api/v1/admin/withdrawals/:no/complete
func (h *Handler) CompleteWithdrawal(c *gin.Context) {
	w, err := h.withdrawalService.Complete(c.Request.Context(), actor(c), c.Param("no"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, w)
}

type AdjustBalanceRequest struct {
	UserID int64           `json:"user_id" binding:"required,gt=0"`
	Delta  decimal.Decimal `json:"delta"`
	Reason string          `json:"reason" binding:"required"`
}

// AdjustBalance POST /api/v1/admin/balance/adjust
func (h *Handler) AdjustBalance(c *gin.Context) {
	var req AdjustBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	account, err := h.adminService.AdjustBalance(c.Request.Context(), actor(c), req.UserID, req.Delta, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, account)
}

type ManualPaymentRequest struct {
	UserID int64           `json:"user_id" binding:"required,gt=0"`
	Amount decimal.Decimal `json:"amount"`
	Remark string          `json:"remark"`
}

// CreateManualPayment POST /api/v1/admin/payments
func (h *Handler) CreateManualPayment(c *gin.Context) {
	var req ManualPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	payment, err := h.adminService.CreateManualPayment(c.Request.Context(), actor(c), req.UserID, req.Amount, req.Remark)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, payment)
}

// ReconcilePayment POST /api/v1/admin/payments/:no/reconcile
func (h *Handler) ReconcilePayment(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.paymentService.ReconcileStatus(c.Request.Context(), c.Param("no"), req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, res)
}

// CreateDevice POST /api/v1/admin/devices
func (h *Handler) CreateDevice(c *gin.Context) {
	var device model.Device
	if err := c.ShouldBindJSON(&device); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	device.ID = 0
	if err := h.adminService.CreateDevice(c.Request.Context(), &device); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, device)
}

// SetDeviceUptime PUT /api/v1/admin/devices/:id/uptime
func (h *Handler) SetDeviceUptime(c *gin.Context) {
	deviceID, ok := paramInt64(c, "id")
	if !ok {
		return
	}
	var req struct {
		UptimePercentage decimal.Decimal `json:"uptime_percentage"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	if err := h.adminService.SetDeviceUptime(c.Request.Context(), deviceID, req.UptimePercentage); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"device_id": deviceID, "uptime_percentage": req.UptimePercentage})
}

// CreatePlan POST /api/v1/admin/plans
func (h *Handler) CreatePlan(c *gin.Context) {
	var plan model.InvestmentPlan
	if err := c.ShouldBindJSON(&plan); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	plan.ID = 0
	if err := h.adminService.CreatePlan(c.Request.Context(), &plan); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, plan)
}

// TriggerSettlement POST /api/v1/admin/settlements?date=2025-01-15
//
// Without a date the current day in the settlement timezone is settled.
func (h *Handler) TriggerSettlement(c *gin.Context) {
	day := h.adminService.SettlementDay()
	if raw := c.Query("date"); raw != "" {
		parsed, err := model.ParseDay(raw)
		if err != nil {
			response.ParamError(c, "date must be YYYY-MM-DD")
			return
		}
		day = parsed
	}
	report, err := h.adminService.TriggerSettlement(c.Request.Context(), day)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, report)
}

// ListSettlementRuns GET /api/v1/admin/settlements?limit=20
func (h *Handler) ListSettlementRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	runs, err := h.adminService.ListSettlementRuns(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, runs)
}

// ListSettings GET /api/v1/admin/settings
func (h *Handler) ListSettings(c *gin.Context) {
	rows, err := h.adminService.ListSettings(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, rows)
}

// SetSetting PUT /api/v1/admin/settings/:key
func (h *Handler) SetSetting(c *gin.Context) {
	var req struct {
		Value string `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	if err := h.adminService.SetSetting(c.Request.Context(), c.Param("key"), req.Value); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"key": c.Param("key"), "value": req.Value})
}

// SetAccountStatus PUT /api/v1/admin/accounts/:user_id/status
func (h *Handler) SetAccountStatus(c *gin.Context) {
	userID, ok := paramInt64(c, "user_id")
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	account, err := h.adminService.SetAccountStatus(c.Request.Context(), actor(c), userID, req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, account)
}

// SetSubscriptionStatus PUT /api/v1/admin/subscriptions/:id/status
func (h *Handler) SetSubscriptionStatus(c *gin.Context) {
	subID, ok := paramInt64(c, "id")
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	sub, err := h.adminService.SetSubscriptionStatus(c.Request.Context(), actor(c), subID, req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, sub)
}

// GetAccrual GET /api/v1/admin/accruals/:id
func (h *Handler) GetAccrual(c *gin.Context) {
	accrualID, ok := paramInt64(c, "id")
	if !ok {
		return
	}
	detail, err := h.adminService.GetAccrual(c.Request.Context(), accrualID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, detail)
}

// ListAccrualsByDay GET /api/v1/admin/accruals?date=2025-01-15
func (h *Handler) ListAccrualsByDay(c *gin.Context) {
	day, err := model.ParseDay(c.Query("date"))
	if err != nil {
		response.ParamError(c, "date must be YYYY-MM-DD")
		return
	}
	rows, err := h.adminService.ListAccrualsByDay(c.Request.Context(), day)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, rows)
}

// JournalByRef GET /api/v1/admin/journal?ref=accrual:42
func (h *Handler) JournalByRef(c *gin.Context) {
	rows, err := h.adminService.JournalByRef(c.Request.Context(), c.Query("ref"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, rows)
}
