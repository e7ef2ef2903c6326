package handlers

import (
	"context"
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/escrow-backend/internal/http/handlers/common"
	"github.com/ignatzorin/escrow-backend/internal/models"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

// DisputeHandler обслуживает споры: открытие, переписку, доказательства
// и предложения о разрешении.
type DisputeHandler struct {
	svc *service.DisputeService
}

func NewDisputeHandler(s *service.DisputeService) *DisputeHandler {
	return &DisputeHandler{svc: s}
}

// CreateDispute POST /api/disputes
func (h *DisputeHandler) CreateDispute(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req struct {
		TransactionID uuid.UUID `json:"transaction_id" binding:"required"`
		DisputeType   string    `json:"dispute_type" binding:"required"`
		Reason        string    `json:"reason" binding:"required"`
		Description   string    `json:"description" binding:"required"`
		Priority      string    `json:"priority"`
	}
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	dispute, err := h.svc.CreateDispute(c.Request.Context(), service.CreateDisputeInput{
		TransactionID: req.TransactionID,
		RaisedBy:      userID,
		DisputeType:   req.DisputeType,
		Reason:        req.Reason,
		Description:   req.Description,
		Priority:      req.Priority,
	})
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dispute)
}

// ListMyDisputes GET /api/disputes
func (h *DisputeHandler) ListMyDisputes(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	disputes, err := h.svc.ListUserDisputes(c.Request.Context(), userID, limit, offset)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, disputes)
}

// GetDispute GET /api/disputes/:id
func (h *DisputeHandler) GetDispute(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	dispute, err := h.svc.GetDispute(c.Request.Context(), disputeID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, dispute)
}

// AddEvidence POST /api/disputes/:id/evidence
// Первые байты файла передаются в base64 для определения типа по содержимому.
func (h *DisputeHandler) AddEvidence(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req struct {
		FileName    string  `json:"file_name" binding:"required"`
		FileURL     string  `json:"file_url" binding:"required"`
		Description *string `json:"description"`
		FileHead    string  `json:"file_head"`
	}
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var head []byte
	if req.FileHead != "" {
		head, err = base64.StdEncoding.DecodeString(req.FileHead)
		if err != nil {
			common.RespondBadRequest(c, "file_head должен быть в base64")
			return
		}
	}

	evidence, err := h.svc.AddEvidence(c.Request.Context(), disputeID, userID,
		req.FileName, req.FileURL, req.Description, head)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, evidence)
}

// ListEvidence GET /api/disputes/:id/evidence
func (h *DisputeHandler) ListEvidence(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	evidence, err := h.svc.ListEvidence(c.Request.Context(), disputeID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, evidence)
}

// AddMessage POST /api/disputes/:id/messages
func (h *DisputeHandler) AddMessage(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	message, err := h.svc.AddMessage(c.Request.Context(), disputeID, userID, req.Content)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, message)
}

// ListMessages GET /api/disputes/:id/messages
func (h *DisputeHandler) ListMessages(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	messages, err := h.svc.ListMessages(c.Request.Context(), disputeID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

// MarkMessagesRead PUT /api/disputes/:id/messages/read
func (h *DisputeHandler) MarkMessagesRead(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	marked, err := h.svc.MarkMessagesRead(c.Request.Context(), disputeID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": marked})
}

// ProposeResolution POST /api/disputes/:id/resolutions
func (h *DisputeHandler) ProposeResolution(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req struct {
		ResolutionType string           `json:"resolution_type" binding:"required"`
		Resolution     string           `json:"resolution" binding:"required"`
		Amount         *decimal.Decimal `json:"amount"`
		Reason         string           `json:"reason" binding:"required"`
	}
	if err := common.BindAndValidate(c, &req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	resolution, err := h.svc.ProposeResolution(c.Request.Context(), service.ProposeResolutionInput{
		DisputeID:      disputeID,
		ProposedBy:     userID,
		ResolutionType: req.ResolutionType,
		Resolution:     req.Resolution,
		Amount:         req.Amount,
		Reason:         req.Reason,
	})
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resolution)
}

// ListResolutions GET /api/disputes/:id/resolutions
func (h *DisputeHandler) ListResolutions(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	resolutions, err := h.svc.ListResolutions(c.Request.Context(), disputeID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, resolutions)
}

// AcceptResolution POST /api/disputes/resolutions/:id/accept
func (h *DisputeHandler) AcceptResolution(c *gin.Context) {
	h.decideResolution(c, h.svc.AcceptResolution)
}

// RejectResolution POST /api/disputes/resolutions/:id/reject
func (h *DisputeHandler) RejectResolution(c *gin.Context) {
	h.decideResolution(c, h.svc.RejectResolution)
}

// MarkInReview PUT /api/disputes/:id/review
// Любая из сторон может эскалировать открытый спор на рассмотрение.
func (h *DisputeHandler) MarkInReview(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	dispute, err := h.svc.MarkInReview(c.Request.Context(), disputeID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, dispute)
}

// CloseDispute PUT /api/disputes/:id/close
func (h *DisputeHandler) CloseDispute(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	disputeID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	dispute, err := h.svc.CloseDispute(c.Request.Context(), disputeID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, dispute)
}

func (h *DisputeHandler) decideResolution(c *gin.Context, decide func(ctx context.Context, resolutionID, actorID uuid.UUID) (*models.DisputeResolution, error)) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	resolutionID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	resolution, err := decide(c.Request.Context(), resolutionID, userID)
	if err != nil {
		common.RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, resolution)
}
