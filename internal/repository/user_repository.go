package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lab-booking-api/internal/models"
)

// UserRepository reads the user directory mirrored from the identity provider.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new repository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	const query = `SELECT id, email, full_name, role, account_status FROM users WHERE id = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		return nil, err
	}
	return &user, nil
}
