package handler

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lab-booking-api/internal/middleware"
	"github.com/noah-isme/lab-booking-api/internal/models"
	appErrors "github.com/noah-isme/lab-booking-api/pkg/errors"
)

func identityFromContext(c *gin.Context) models.Identity {
	identity, ok := middleware.Identity(c)
	if !ok {
		return models.Identity{}
	}
	return *identity
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func queryDate(c *gin.Context, key string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	d, err := models.ParseDate(raw)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, key+" must be YYYY-MM-DD")
	}
	return &d, nil
}

// bookingFilterFromQuery reads lab_code, from, to, status, page and page_size.
func bookingFilterFromQuery(c *gin.Context) (models.BookingFilter, error) {
	filter := models.BookingFilter{
		LabCode:  c.Query("lab_code"),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 20),
	}
	var err error
	if filter.From, err = queryDate(c, "from"); err != nil {
		return filter, err
	}
	if filter.To, err = queryDate(c, "to"); err != nil {
		return filter, err
	}
	if raw := strings.ToUpper(strings.TrimSpace(c.Query("status"))); raw != "" {
		status := models.BookingStatus(raw)
		switch status {
		case models.BookingPending, models.BookingApproved, models.BookingRejected:
			filter.Status = &status
		default:
			return filter, appErrors.Clone(appErrors.ErrValidation, "status must be PENDING, APPROVED or REJECTED")
		}
	}
	return filter, nil
}
