package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lab-booking-api/internal/dto"
	"github.com/noah-isme/lab-booking-api/internal/models"
	appErrors "github.com/noah-isme/lab-booking-api/pkg/errors"
	"github.com/noah-isme/lab-booking-api/pkg/response"
)

type bookingService interface {
	ReserveSlot(ctx context.Context, identity models.Identity, req dto.ReserveSlotRequest) (*models.Booking, error)
	GetByID(ctx context.Context, id string) (*models.Booking, error)
	GetBySlot(ctx context.Context, labCode, date string, period int) (*dto.SlotView, error)
	List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, *models.Pagination, error)
	ListMine(ctx context.Context, identity models.Identity, filter models.BookingFilter) ([]models.Booking, *models.Pagination, error)
	CancelBooking(ctx context.Context, identity models.Identity, id string) error
	Approve(ctx context.Context, identity models.Identity, id string) (*models.Booking, error)
	Reject(ctx context.Context, identity models.Identity, id string, req dto.RejectBookingRequest) (*models.Booking, error)
	Availability(ctx context.Context, labCode, date string) (*dto.DayAvailability, error)
}

// BookingHandler exposes single-slot reservation endpoints.
type BookingHandler struct {
	service bookingService
}

// NewBookingHandler builds a booking handler.
func NewBookingHandler(service bookingService) *BookingHandler {
	return &BookingHandler{service: service}
}

// Reserve godoc
// @Summary Reserve a lab slot
// @Description Occupied slots the caller cannot override return SLOT_ALREADY_BOOKED with the holder; join the waitlist instead.
// @Tags Bookings
// @Accept json
// @Produce json
// @Param payload body dto.ReserveSlotRequest true "Reservation payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /bookings [post]
func (h *BookingHandler) Reserve(c *gin.Context) {
	var req dto.ReserveSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid reservation payload"))
		return
	}
	booking, err := h.service.ReserveSlot(c.Request.Context(), identityFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, booking)
}

// List godoc
// @Summary List bookings
// @Tags Bookings
// @Produce json
// @Param lab_code query string false "Lab code"
// @Param from query string false "From date (YYYY-MM-DD)"
// @Param to query string false "To date (YYYY-MM-DD)"
// @Param status query string false "PENDING, APPROVED or REJECTED"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /bookings [get]
func (h *BookingHandler) List(c *gin.Context) {
	filter, err := bookingFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	bookings, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, bookings, pagination)
}

// Mine godoc
// @Summary List the caller's bookings
// @Tags Bookings
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /bookings/mine [get]
func (h *BookingHandler) Mine(c *gin.Context) {
	filter, err := bookingFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	bookings, pagination, err := h.service.ListMine(c.Request.Context(), identityFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, bookings, pagination)
}

// Slot godoc
// @Summary Get the occupant of a slot
// @Tags Bookings
// @Produce json
// @Param lab_code query string true "Lab code"
// @Param date query string true "Date (YYYY-MM-DD)"
// @Param period query int true "Period number"
// @Success 200 {object} response.Envelope
// @Router /bookings/slot [get]
func (h *BookingHandler) Slot(c *gin.Context) {
	period, err := strconv.Atoi(c.Query("period"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "period must be a number"))
		return
	}
	view, err := h.service.GetBySlot(c.Request.Context(), c.Query("lab_code"), c.Query("date"), period)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// Get godoc
// @Summary Get a booking
// @Tags Bookings
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} response.Envelope
// @Router /bookings/{id} [get]
func (h *BookingHandler) Get(c *gin.Context) {
	booking, err := h.service.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}

// Cancel godoc
// @Summary Cancel a booking
// @Tags Bookings
// @Param id path string true "Booking ID"
// @Success 204
// @Router /bookings/{id} [delete]
func (h *BookingHandler) Cancel(c *gin.Context) {
	if err := h.service.CancelBooking(c.Request.Context(), identityFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Approve godoc
// @Summary Approve a pending booking
// @Tags Bookings
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} response.Envelope
// @Router /bookings/{id}/approve [post]
func (h *BookingHandler) Approve(c *gin.Context) {
	booking, err := h.service.Approve(c.Request.Context(), identityFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}

// Reject godoc
// @Summary Reject a pending booking
// @Tags Bookings
// @Accept json
// @Produce json
// @Param id path string true "Booking ID"
// @Param payload body dto.RejectBookingRequest false "Reason"
// @Success 200 {object} response.Envelope
// @Router /bookings/{id}/reject [post]
func (h *BookingHandler) Reject(c *gin.Context) {
	var req dto.RejectBookingRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid reject payload"))
			return
		}
	}
	booking, err := h.service.Reject(c.Request.Context(), identityFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}

// Availability godoc
// @Summary Get a lab's period grid for a day
// @Tags Labs
// @Produce json
// @Param code path string true "Lab code"
// @Param date query string true "Date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /labs/{code}/availability [get]
func (h *BookingHandler) Availability(c *gin.Context) {
	result, err := h.service.Availability(c.Request.Context(), c.Param("code"), c.Query("date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
