package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lab-booking-api/internal/models"
	"github.com/noah-isme/lab-booking-api/internal/service"
	"github.com/noah-isme/lab-booking-api/pkg/response"
)

type exportService interface {
	ExportBookings(ctx context.Context, filter models.BookingFilter, format string) (*service.ExportFile, error)
}

// ExportHandler streams booking sheets.
type ExportHandler struct {
	service exportService
}

// NewExportHandler builds an export handler.
func NewExportHandler(service exportService) *ExportHandler {
	return &ExportHandler{service: service}
}

// Bookings godoc
// @Summary Export bookings as CSV or PDF
// @Tags Exports
// @Produce text/csv,application/pdf
// @Param format query string false "csv (default) or pdf"
// @Param lab_code query string false "Lab code"
// @Param from query string false "From date (YYYY-MM-DD)"
// @Param to query string false "To date (YYYY-MM-DD)"
// @Param status query string false "Status"
// @Success 200 {file} file
// @Router /exports/bookings [get]
func (h *ExportHandler) Bookings(c *gin.Context) {
	filter, err := bookingFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	file, err := h.service.ExportBookings(c.Request.Context(), filter, c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.File(c, file.ContentType, file.Filename, file.Body)
}
