package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lab-booking-api/internal/models"
)

// LabRepository reads the lab catalog and manages maintenance windows.
type LabRepository struct {
	db *sqlx.DB
}

// NewLabRepository creates a lab repository.
func NewLabRepository(db *sqlx.DB) *LabRepository {
	return &LabRepository{db: db}
}

// FindByCode loads a lab with its maintenance windows.
func (r *LabRepository) FindByCode(ctx context.Context, code string) (*models.Lab, error) {
	const query = `SELECT code, name, capacity, created_at, updated_at FROM labs WHERE code = $1`
	var lab models.Lab
	if err := r.db.GetContext(ctx, &lab, query, code); err != nil {
		return nil, err
	}
	windows, err := r.ListWindows(ctx, code)
	if err != nil {
		return nil, err
	}
	lab.MaintenanceWindows = windows
	return &lab, nil
}

// List returns every lab with its maintenance windows.
func (r *LabRepository) List(ctx context.Context) ([]models.Lab, error) {
	const query = `SELECT code, name, capacity, created_at, updated_at FROM labs ORDER BY code ASC`
	var labs []models.Lab
	if err := r.db.SelectContext(ctx, &labs, query); err != nil {
		return nil, fmt.Errorf("list labs: %w", err)
	}

	const windowsQuery = `SELECT id, lab_code, start_date, end_date, reason, created_by, created_at FROM lab_maintenance_windows ORDER BY start_date ASC`
	var windows []models.MaintenanceWindow
	if err := r.db.SelectContext(ctx, &windows, windowsQuery); err != nil {
		return nil, fmt.Errorf("list maintenance windows: %w", err)
	}

	byLab := make(map[string][]models.MaintenanceWindow, len(labs))
	for _, w := range windows {
		byLab[w.LabCode] = append(byLab[w.LabCode], w)
	}
	for i := range labs {
		labs[i].MaintenanceWindows = byLab[labs[i].Code]
		if labs[i].MaintenanceWindows == nil {
			labs[i].MaintenanceWindows = []models.MaintenanceWindow{}
		}
	}
	return labs, nil
}

// ListWindows returns a lab's maintenance windows ordered by start date.
func (r *LabRepository) ListWindows(ctx context.Context, code string) ([]models.MaintenanceWindow, error) {
	const query = `SELECT id, lab_code, start_date, end_date, reason, created_by, created_at FROM lab_maintenance_windows WHERE lab_code = $1 ORDER BY start_date ASC`
	windows := []models.MaintenanceWindow{}
	if err := r.db.SelectContext(ctx, &windows, query, code); err != nil {
		return nil, fmt.Errorf("list maintenance windows: %w", err)
	}
	return windows, nil
}

// AddWindow stores a maintenance window.
func (r *LabRepository) AddWindow(ctx context.Context, window *models.MaintenanceWindow) error {
	if window.ID == "" {
		window.ID = uuid.NewString()
	}
	if window.CreatedAt.IsZero() {
		window.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO lab_maintenance_windows (id, lab_code, start_date, end_date, reason, created_by, created_at) VALUES (:id, :lab_code, :start_date, :end_date, :reason, :created_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, window); err != nil {
		if isViolation(err, pqForeignKeyViolation, "") {
			return sql.ErrNoRows
		}
		return fmt.Errorf("add maintenance window: %w", err)
	}
	return nil
}

// DeleteWindow removes a maintenance window of a lab.
func (r *LabRepository) DeleteWindow(ctx context.Context, code, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM lab_maintenance_windows WHERE id = $1 AND lab_code = $2`, id, code)
	if err != nil {
		return fmt.Errorf("delete maintenance window: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
