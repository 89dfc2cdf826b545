package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lab-booking-api/internal/dto"
	"github.com/noah-isme/lab-booking-api/internal/models"
	appErrors "github.com/noah-isme/lab-booking-api/pkg/errors"
	"github.com/noah-isme/lab-booking-api/pkg/response"
)

type batchService interface {
	ScheduleBatch(ctx context.Context, identity models.Identity, req dto.ScheduleBatchRequest) (*dto.ScheduleBatchResult, error)
}

// BatchHandler exposes recurring and multi-slot scheduling.
type BatchHandler struct {
	service batchService
}

// NewBatchHandler builds a batch handler.
func NewBatchHandler(service batchService) *BatchHandler {
	return &BatchHandler{service: service}
}

// Schedule godoc
// @Summary Schedule a weekly, explicit-date or pre-expanded batch
// @Description Slots failing a booking rule are listed in skipped. When processing aborts, the error is returned together with the bookings already created.
// @Tags Bookings
// @Accept json
// @Produce json
// @Param payload body dto.ScheduleBatchRequest true "Batch payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /bookings/batch [post]
func (h *BatchHandler) Schedule(c *gin.Context) {
	var req dto.ScheduleBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid batch payload"))
		return
	}
	result, err := h.service.ScheduleBatch(c.Request.Context(), identityFromContext(c), req)
	if err != nil {
		if result != nil {
			response.Partial(c, result, err)
			return
		}
		response.Error(c, err)
		return
	}
	status := http.StatusCreated
	if result.SuccessCount == 0 {
		status = http.StatusOK
	}
	response.JSON(c, status, result, nil)
}
