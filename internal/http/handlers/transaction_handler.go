package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/escrow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

// TransactionHandler обслуживает жизненный цикл сделок.
type TransactionHandler struct {
	svc *service.TransactionService
}

func NewTransactionHandler(s *service.TransactionService) *TransactionHandler {
	return &TransactionHandler{svc: s}
}

// CreateTransaction POST /api/transactions
func (h *TransactionHandler) CreateTransaction(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req struct {
		Description string          `json:"description" binding:"required"`
		Currency    string          `json:"currency" binding:"required"`
		Price       decimal.Decimal `json:"price" binding:"required"`
		Fee         decimal.Decimal `json:"fee" binding:"required"`
		Total       decimal.Decimal `json:"total" binding:"required"`
		UseCourier  bool            `json:"use_courier"`
		CreatorRole string          `json:"creator_role" binding:"required"`
	}
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	result, err := h.svc.Create(c.Request.Context(), service.CreateTransactionInput{
		Description: req.Description,
		Currency:    strings.ToUpper(req.Currency),
		Price:       req.Price,
		Fee:         req.Fee,
		Total:       req.Total,
		UseCourier:  req.UseCourier,
		CreatorRole: req.CreatorRole,
		CreatorID:   userID,
	})
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// ListTransactions GET /api/transactions
func (h *TransactionHandler) ListTransactions(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	transactions, err := h.svc.List(c.Request.Context(), userID, limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, transactions)
}

// GetTransaction GET /api/transactions/:id
func (h *TransactionHandler) GetTransaction(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	txID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	t, err := h.svc.Get(c.Request.Context(), txID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// LookupInvitation GET /api/transactions/invite/:code
// Публичный предпросмотр сделки по коду приглашения.
func (h *TransactionHandler) LookupInvitation(c *gin.Context) {
	// Коды сравниваются с точностью до регистра, поэтому никакой
	// нормализации — проверяем только длину.
	code := c.Param("code")
	if len(code) != models.InvitationCodeLength {
		common.RespondBadRequest(c, "код приглашения должен состоять из 6 символов")
		return
	}

	t, inv, err := h.svc.LookupInvitation(c.Request.Context(), code)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": t, "invitation": inv})
}

// JoinTransaction POST /api/transactions/join
func (h *TransactionHandler) JoinTransaction(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	t, err := h.svc.Join(c.Request.Context(), req.Code, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// SubmitDeliveryDetails PUT /api/transactions/:id/delivery-details
func (h *TransactionHandler) SubmitDeliveryDetails(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	txID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req models.DeliveryDetails
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}
	if req.Version == 0 {
		req.Version = 1
	}

	t, err := h.svc.SubmitDeliveryDetails(c.Request.Context(), txID, userID, &req)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// ConfirmPayment PUT /api/transactions/:id/confirm-payment
func (h *TransactionHandler) ConfirmPayment(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	txID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req struct {
		PaymentMethod    string `json:"payment_method" binding:"required"`
		PaymentReference string `json:"payment_reference"`
	}
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	t, err := h.svc.ConfirmPayment(c.Request.Context(), txID, userID, req.PaymentMethod, req.PaymentReference)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// SubmitShippingDetails PUT /api/transactions/:id/shipping-details
func (h *TransactionHandler) SubmitShippingDetails(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	txID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req models.ShippingDetails
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}
	if req.Version == 0 {
		req.Version = 1
	}

	t, err := h.svc.SubmitShippingDetails(c.Request.Context(), txID, userID, &req)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// ConfirmReceipt PUT /api/transactions/:id/confirm-receipt
func (h *TransactionHandler) ConfirmReceipt(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	txID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	t, err := h.svc.ConfirmReceipt(c.Request.Context(), txID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// CancelTransaction PUT /api/transactions/:id/cancel
func (h *TransactionHandler) CancelTransaction(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	txID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	t, err := h.svc.Cancel(c.Request.Context(), txID, userID, req.Reason)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}
