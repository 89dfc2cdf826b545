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

type labService interface {
	List(ctx context.Context) ([]models.Lab, error)
	Get(ctx context.Context, code string) (*models.Lab, error)
	Subjects(ctx context.Context) ([]models.Subject, error)
	AddMaintenanceWindow(ctx context.Context, identity models.Identity, code string, req dto.AddMaintenanceWindowRequest) (*models.MaintenanceWindow, error)
	RemoveMaintenanceWindow(ctx context.Context, identity models.Identity, code, id string) error
}

// LabHandler exposes the lab catalog.
type LabHandler struct {
	service labService
}

// NewLabHandler builds a lab handler.
func NewLabHandler(service labService) *LabHandler {
	return &LabHandler{service: service}
}

// List godoc
// @Summary List labs
// @Tags Labs
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /labs [get]
func (h *LabHandler) List(c *gin.Context) {
	labs, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, labs, nil)
}

// Get godoc
// @Summary Get a lab with its maintenance windows
// @Tags Labs
// @Produce json
// @Param code path string true "Lab code"
// @Success 200 {object} response.Envelope
// @Router /labs/{code} [get]
func (h *LabHandler) Get(c *gin.Context) {
	lab, err := h.service.Get(c.Request.Context(), c.Param("code"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lab, nil)
}

// Subjects godoc
// @Summary List subjects
// @Tags Labs
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /subjects [get]
func (h *LabHandler) Subjects(c *gin.Context) {
	subjects, err := h.service.Subjects(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, subjects, nil)
}

// AddMaintenance godoc
// @Summary Block a lab for a range of days
// @Tags Labs
// @Accept json
// @Produce json
// @Param code path string true "Lab code"
// @Param payload body dto.AddMaintenanceWindowRequest true "Window"
// @Success 201 {object} response.Envelope
// @Router /labs/{code}/maintenance [post]
func (h *LabHandler) AddMaintenance(c *gin.Context) {
	var req dto.AddMaintenanceWindowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid maintenance payload"))
		return
	}
	window, err := h.service.AddMaintenanceWindow(c.Request.Context(), identityFromContext(c), c.Param("code"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, window)
}

// RemoveMaintenance godoc
// @Summary Remove a maintenance window
// @Tags Labs
// @Param code path string true "Lab code"
// @Param id path string true "Window ID"
// @Success 204
// @Router /labs/{code}/maintenance/{id} [delete]
func (h *LabHandler) RemoveMaintenance(c *gin.Context) {
	if err := h.service.RemoveMaintenanceWindow(c.Request.Context(), identityFromContext(c), c.Param("code"), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
