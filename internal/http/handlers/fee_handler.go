package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/escrow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

// FeeHandler обслуживает расчёт комиссии.
type FeeHandler struct {
	svc *service.FeeService
}

func NewFeeHandler(s *service.FeeService) *FeeHandler {
	return &FeeHandler{svc: s}
}

// CalculateFee POST /api/fees/calculate
// Чистый расчёт: ничего не пишет, одинаковый вход даёт одинаковый выход.
func (h *FeeHandler) CalculateFee(c *gin.Context) {
	var req service.FeeFactors
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}
	if !req.Amount.IsPositive() {
		common.RespondBadRequest(c, "сумма должна быть положительной")
		return
	}

	c.JSON(http.StatusOK, h.svc.CalculateFee(req))
}
