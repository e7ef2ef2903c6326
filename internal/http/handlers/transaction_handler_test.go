package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/ignatzorin/escrow-backend/internal/http/middleware"
)

func withUser(next gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextUserIDKey, uuid.New())
		next(c)
	}
}

func TestTransactionHandler_CreateTransaction_Unauthorized(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &TransactionHandler{svc: nil}
	r.POST("/transactions", handler.CreateTransaction)

	req, _ := http.NewRequest("POST", "/transactions", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTransactionHandler_ListTransactions_Unauthorized(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &TransactionHandler{svc: nil}
	r.GET("/transactions", handler.ListTransactions)

	req, _ := http.NewRequest("GET", "/transactions", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTransactionHandler_GetTransaction_InvalidID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &TransactionHandler{svc: nil}
	r.GET("/transactions/:id", withUser(handler.GetTransaction))

	req, _ := http.NewRequest("GET", "/transactions/not-a-uuid", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTransactionHandler_LookupInvitation_BadCode(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &TransactionHandler{svc: nil}
	r.GET("/transactions/invite/:code", handler.LookupInvitation)

	req, _ := http.NewRequest("GET", "/transactions/invite/xy", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTransactionHandler_JoinTransaction_MissingCode(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &TransactionHandler{svc: nil}
	r.POST("/transactions/join", withUser(handler.JoinTransaction))

	req, _ := http.NewRequest("POST", "/transactions/join", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDisputeHandler_CreateDispute_Unauthorized(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &DisputeHandler{svc: nil}
	r.POST("/disputes", handler.CreateDispute)

	req, _ := http.NewRequest("POST", "/disputes", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDisputeHandler_AcceptResolution_InvalidID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &DisputeHandler{svc: nil}
	r.POST("/disputes/resolutions/:id/accept", withUser(handler.AcceptResolution))

	req, _ := http.NewRequest("POST", "/disputes/resolutions/bad-id/accept", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
