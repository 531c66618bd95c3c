package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"debitledger/internal/service"
	"debitledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// statusByCode 业务错误码到 HTTP 状态码
var statusByCode = map[service.ErrorCode]int{
	service.CodeInsufficientFunds:       http.StatusNotAcceptable,
	service.CodeAmountExceedsReserved:   http.StatusNotAcceptable,
	service.CodeCardNotFound:            http.StatusNotFound,
	service.CodePaymentNotFound:         http.StatusNotFound,
	service.CodeDepositNotFound:         http.StatusNotFound,
	service.CodeCustomerNotFound:        http.StatusNotFound,
	service.CodeMerchantScopeNotFound:   http.StatusNotFound,
	service.CodeCardExpiredOrRedeemed:   http.StatusGone,
	service.CodeCardInUse:               http.StatusConflict,
	service.CodeCardScopeMismatch:       http.StatusConflict,
	service.CodeInvalidStateTransition:  http.StatusPreconditionFailed,
	service.CodeInvalidAmount:           http.StatusBadRequest,
	service.CodeInvalidFundingSource:    http.StatusBadRequest,
	service.CodeInvalidDateRange:        http.StatusBadRequest,
	service.CodeCaptureDeclined:         http.StatusPaymentRequired,
	service.CodeCaptureUnavailable:      http.StatusServiceUnavailable,
	service.CodeTransientStorage:        http.StatusServiceUnavailable,
	service.CodeReconciliationShortfall: http.StatusInternalServerError,
}

// Handler 账本 HTTP 接口，只做参数解析和错误映射
type Handler struct {
	ledger *service.Ledger
	logger *zap.Logger
}

func NewHandler(ledger *service.Ledger, logger *zap.Logger) *Handler {
	return &Handler{ledger: ledger, logger: logger.Named("http")}
}

func (h *Handler) fail(c *gin.Context, err error) {
	le, ok := service.AsLedgerError(err)
	if !ok {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			response.Error(c, http.StatusServiceUnavailable, string(service.CodeTransientStorage), err.Error(), nil)
			return
		}
		h.logger.Error("未知错误", zap.String("path", c.FullPath()), zap.Error(err))
		response.ServerError(c, "internal error")
		return
	}

	status, known := statusByCode[le.Code]
	if !known {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("请求失败", zap.String("path", c.FullPath()), zap.String("code", string(le.Code)), zap.Error(err))
	}

	message := le.Message
	if message == "" {
		message = string(le.Code)
	}
	response.Error(c, status, string(le.Code), message, le.Fields)
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func optionalScope(c *gin.Context) (*int64, bool) {
	raw := c.Query("scope_id")
	if raw == "" {
		return nil, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, "scope_id must be a positive integer")
		return nil, false
	}
	return &id, true
}

func queryTime(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		response.ParamError(c, name+" must be an RFC3339 timestamp")
		return nil, false
	}
	return &t, true
}

func pagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	// page_size 限制在 [1, 100]，负数传给 gorm 的 Limit 会变成不限制
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

// ============================================================
// 余额与流水
// ============================================================

// GetBalance GET /api/v1/customers/:customer_id/balance?scope_id=&as_of=
func (h *Handler) GetBalance(c *gin.Context) {
	customerID, ok := pathID(c, "customer_id")
	if !ok {
		return
	}
	scopeID, ok := optionalScope(c)
	if !ok {
		return
	}
	asOf, ok := queryTime(c, "as_of")
	if !ok {
		return
	}

	view, err := h.ledger.Balances.GetBalance(c.Request.Context(), customerID, scopeID, asOf)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, view)
}

// GetBalanceByScope GET /api/v1/customers/:customer_id/balance/scopes
func (h *Handler) GetBalanceByScope(c *gin.Context) {
	customerID, ok := pathID(c, "customer_id")
	if !ok {
		return
	}
	asOf, ok := queryTime(c, "as_of")
	if !ok {
		return
	}

	scopes, err := h.ledger.Balances.GetBalanceByScope(c.Request.Context(), customerID, asOf)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"list": scopes})
}

// ListMovements GET /api/v1/customers/:customer_id/movements?from=&to=&scope_id=
// 不传 to 时取当前时间，不传 from 时取 to 之前 30 天
func (h *Handler) ListMovements(c *gin.Context) {
	customerID, ok := pathID(c, "customer_id")
	if !ok {
		return
	}
	scopeID, ok := optionalScope(c)
	if !ok {
		return
	}
	from, ok := queryTime(c, "from")
	if !ok {
		return
	}
	to, ok := queryTime(c, "to")
	if !ok {
		return
	}
	end := time.Now().UTC()
	if to != nil {
		end = *to
	}
	start := end.AddDate(0, 0, -30)
	if from != nil {
		start = *from
	}

	movements, err := h.ledger.Movements.List(c.Request.Context(), customerID, scopeID, start, end)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"list": movements, "from": start, "to": end})
}

// Reconcile GET /api/v1/customers/:customer_id/reconciliation?scope_id=
func (h *Handler) Reconcile(c *gin.Context) {
	customerID, ok := pathID(c, "customer_id")
	if !ok {
		return
	}
	scopeID, ok := optionalScope(c)
	if !ok {
		return
	}

	report, err := h.ledger.Reconciler.Reconcile(c.Request.Context(), customerID, scopeID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"balanced": report.Balanced(), "report": report})
}

// ============================================================
// 客户与商户范围
// ============================================================

type ResolveCustomerRequest struct {
	ExternalID string `json:"external_id" binding:"required"`
}

// ResolveCustomer POST /api/v1/customers/resolve
func (h *Handler) ResolveCustomer(c *gin.Context) {
	var req ResolveCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	customer, err := h.ledger.Customers.ResolveExternalCustomer(c.Request.Context(), req.ExternalID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, customer)
}

type UpsertScopeRequest struct {
	ExternalID string `json:"external_id" binding:"required"`
	Name       string `json:"name" binding:"required"`
}

// UpsertMerchantScope PUT /api/v1/merchant-scopes
func (h *Handler) UpsertMerchantScope(c *gin.Context) {
	var req UpsertScopeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	scope, err := h.ledger.Merchants.Upsert(c.Request.Context(), req.ExternalID, req.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, scope)
}

// ResolveMerchantScope GET /api/v1/merchant-scopes/:external_id
func (h *Handler) ResolveMerchantScope(c *gin.Context) {
	scope, err := h.ledger.Merchants.Resolve(c.Request.Context(), c.Param("external_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, scope)
}

// ============================================================
// 存款
// ============================================================

type FundDepositRequest struct {
	ScopeID          int64           `json:"scope_id" binding:"required"`
	Amount           decimal.Decimal `json:"amount"`
	CaptureReference string          `json:"capture_reference" binding:"required"`
}

// FundDeposit POST /api/v1/customers/:customer_id/deposits
// 网关已经扣款成功后由支付回调调用
func (h *Handler) FundDeposit(c *gin.Context) {
	customerID, ok := pathID(c, "customer_id")
	if !ok {
		return
	}
	var req FundDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	deposit, err := h.ledger.Deposits.FundDeposit(c.Request.Context(), service.FundDepositRequest{
		CustomerID:       customerID,
		MerchantScopeID:  req.ScopeID,
		Amount:           req.Amount,
		CaptureReference: req.CaptureReference,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, deposit)
}

type TopUpRequest struct {
	ScopeID   int64           `json:"scope_id" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
	SourceRef string          `json:"source_ref" binding:"required"`
}

// TopUp POST /api/v1/customers/:customer_id/topups
func (h *Handler) TopUp(c *gin.Context) {
	customerID, ok := pathID(c, "customer_id")
	if !ok {
		return
	}
	var req TopUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	deposit, err := h.ledger.Deposits.TopUp(c.Request.Context(), service.TopUpRequest{
		CustomerID:      customerID,
		MerchantScopeID: req.ScopeID,
		Amount:          req.Amount,
		SourceRef:       req.SourceRef,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, deposit)
}

// ListDeposits GET /api/v1/customers/:customer_id/deposits?page=&page_size=
func (h *Handler) ListDeposits(c *gin.Context) {
	customerID, ok := pathID(c, "customer_id")
	if !ok {
		return
	}
	page, pageSize := pagination(c)

	deposits, total, err := h.ledger.Deposits.ListDeposits(c.Request.Context(), customerID, page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"list":      deposits,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetDeposit GET /api/v1/customers/:customer_id/deposits/:deposit_id
func (h *Handler) GetDeposit(c *gin.Context) {
	customerID, ok := pathID(c, "customer_id")
	if !ok {
		return
	}
	depositID, ok := pathID(c, "deposit_id")
	if !ok {
		return
	}

	deposit, err := h.ledger.Deposits.GetDeposit(c.Request.Context(), customerID, depositID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, deposit)
}

// ============================================================
// 礼品卡
// ============================================================

type IssueGiftCardRequest struct {
	ScopeID int64           `json:"scope_id" binding:"required"`
	Amount  decimal.Decimal `json:"amount"`
}

// IssueGiftCard POST /api/v1/customers/:customer_id/gift-cards
func (h *Handler) IssueGiftCard(c *gin.Context) {
	customerID, ok := pathID(c, "customer_id")
	if !ok {
		return
	}
	var req IssueGiftCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	card, err := h.ledger.GiftCards.IssueGiftCard(c.Request.Context(), service.IssueGiftCardRequest{
		CustomerID:      customerID,
		MerchantScopeID: req.ScopeID,
		Amount:          req.Amount,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, card)
}

// ListGiftCards GET /api/v1/customers/:customer_id/gift-cards
func (h *Handler) ListGiftCards(c *gin.Context) {
	customerID, ok := pathID(c, "customer_id")
	if !ok {
		return
	}
	page, pageSize := pagination(c)

	cards, total, err := h.ledger.GiftCards.ListGiftCards(c.Request.Context(), customerID, page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"list":      cards,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetGiftCard GET /api/v1/customers/:customer_id/gift-cards/:card_id
func (h *Handler) GetGiftCard(c *gin.Context) {
	customerID, ok := pathID(c, "customer_id")
	if !ok {
		return
	}
	cardID, ok := pathID(c, "card_id")
	if !ok {
		return
	}

	card, err := h.ledger.GiftCards.GetGiftCard(c.Request.Context(), customerID, cardID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, card)
}

// LookupGiftCard GET /api/v1/gift-cards/lookup?key=&scope_id=
func (h *Handler) LookupGiftCard(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		response.ParamError(c, "key 参数不能为空")
		return
	}
	scopeID, ok := optionalScope(c)
	if !ok {
		return
	}
	if scopeID == nil {
		response.ParamError(c, "scope_id 参数不能为空")
		return
	}

	card, err := h.ledger.GiftCards.LookupGiftCard(c.Request.Context(), key, *scopeID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, card)
}

// ============================================================
// 支付
// ============================================================

// ReservePaymentRequest customer_id 与 gift_card_key 二选一
type ReservePaymentRequest struct {
	ScopeID     int64           `json:"scope_id" binding:"required"`
	Amount      decimal.Decimal `json:"amount"`
	CustomerID  *int64          `json:"customer_id"`
	GiftCardKey string          `json:"gift_card_key"`
}

// ReservePayment POST /api/v1/payments
func (h *Handler) ReservePayment(c *gin.Context) {
	var req ReservePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	payment, err := h.ledger.Reservations.Reserve(c.Request.Context(), service.ReserveRequest{
		MerchantScopeID: req.ScopeID,
		Amount:          req.Amount,
		Source:          service.FundingSource{CustomerID: req.CustomerID, GiftCardKey: req.GiftCardKey},
		RequestedBy:     appKey(c),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, payment)
}

// GetPayment GET /api/v1/payments/:payment_id
func (h *Handler) GetPayment(c *gin.Context) {
	detail, err := h.ledger.Payments.GetPayment(c.Request.Context(), c.Param("payment_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, detail)
}

type ConfirmPaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// ConfirmPayment POST /api/v1/payments/:payment_id/confirm
// 资金不足时仍返回 200，shortfall 与 alert 字段说明实际确认的金额
func (h *Handler) ConfirmPayment(c *gin.Context) {
	var req ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.ledger.Payments.Confirm(c.Request.Context(), c.Param("payment_id"), req.Amount, appKey(c))
	if err != nil {
		h.fail(c, err)
		return
	}

	data := gin.H{
		"payment":      result.Payment,
		"funds_tracks": result.FundsTracks,
		"shortfall":    result.Shortfall,
	}
	if result.Alert != nil {
		data["alert"] = gin.H{"code": result.Alert.Code, "fields": result.Alert.Fields}
	}
	response.Success(c, data)
}

// CancelPayment POST /api/v1/payments/:payment_id/cancel
func (h *Handler) CancelPayment(c *gin.Context) {
	payment, err := h.ledger.Payments.Cancel(c.Request.Context(), c.Param("payment_id"), appKey(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, payment)
}
