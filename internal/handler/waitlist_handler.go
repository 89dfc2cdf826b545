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

type waitlistService interface {
	Join(ctx context.Context, identity models.Identity, bookingID string) (*models.WaitlistEntry, error)
	Leave(ctx context.Context, identity models.Identity, bookingID string) error
	List(ctx context.Context, bookingID string) ([]models.WaitlistEntry, error)
	Promote(ctx context.Context, identity models.Identity, bookingID string, req dto.PromoteWaitlistRequest) (*models.Booking, error)
}

// WaitlistHandler exposes per-booking queue endpoints.
type WaitlistHandler struct {
	service waitlistService
}

// NewWaitlistHandler builds a waitlist handler.
func NewWaitlistHandler(service waitlistService) *WaitlistHandler {
	return &WaitlistHandler{service: service}
}

// List godoc
// @Summary List a booking's waitlist
// @Tags Waitlist
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} response.Envelope
// @Router /bookings/{id}/waitlist [get]
func (h *WaitlistHandler) List(c *gin.Context) {
	entries, err := h.service.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// Join godoc
// @Summary Join a booking's waitlist
// @Tags Waitlist
// @Produce json
// @Param id path string true "Booking ID"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /bookings/{id}/waitlist [post]
func (h *WaitlistHandler) Join(c *gin.Context) {
	entry, err := h.service.Join(c.Request.Context(), identityFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, entry)
}

// Leave godoc
// @Summary Leave a booking's waitlist
// @Tags Waitlist
// @Param id path string true "Booking ID"
// @Success 204
// @Router /bookings/{id}/waitlist [delete]
func (h *WaitlistHandler) Leave(c *gin.Context) {
	if err := h.service.Leave(c.Request.Context(), identityFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Promote godoc
// @Summary Promote a waitlisted user to holder
// @Tags Waitlist
// @Accept json
// @Produce json
// @Param id path string true "Booking ID"
// @Param payload body dto.PromoteWaitlistRequest true "User to promote"
// @Success 200 {object} response.Envelope
// @Router /bookings/{id}/waitlist/promote [post]
func (h *WaitlistHandler) Promote(c *gin.Context) {
	var req dto.PromoteWaitlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid promote payload"))
		return
	}
	booking, err := h.service.Promote(c.Request.Context(), identityFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}
