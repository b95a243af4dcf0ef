package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/timetable-api/internal/dto"
	"github.com/noah-isme/timetable-api/pkg/response"
)

type ledgerService interface {
	Ledger(ctx context.Context) (*dto.LedgerResponse, error)
	ResetLedger(ctx context.Context) (*dto.LedgerResponse, error)
}

// LedgerHandler exposes the shared occupancy ledger.
type LedgerHandler struct {
	service ledgerService
}

// NewLedgerHandler constructs the handler.
func NewLedgerHandler(svc ledgerService) *LedgerHandler {
	return &LedgerHandler{service: svc}
}

// Get godoc
// @Summary Show instructor, room and lab bookings
// @Tags Ledgers
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /ledgers [get]
func (h *LedgerHandler) Get(c *gin.Context) {
	result, err := h.service.Ledger(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// Reset godoc
// @Summary Clear every booking in the occupancy ledger
// @Tags Ledgers
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 423 {object} response.Envelope
// @Router /ledgers [delete]
func (h *LedgerHandler) Reset(c *gin.Context) {
	result, err := h.service.ResetLedger(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}
