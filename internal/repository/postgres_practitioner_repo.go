package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/floreser/floreser/internal/model"
)

// PostgresPractitionerRepo is the PostgreSQL practitioner repository.
type PostgresPractitionerRepo struct {
	db *sql.DB
}

// NewPostgresPractitionerRepo creates a PostgresPractitionerRepo.
func NewPostgresPractitionerRepo(db *sql.DB) *PostgresPractitionerRepo {
	return &PostgresPractitionerRepo{db: db}
}

// FindByID returns the practitioner, or nil when none exists.
func (r *PostgresPractitionerRepo) FindByID(ctx context.Context, id string) (*model.Practitioner, error) {
	if !validID(id) {
		return nil, nil
	}
	p := &model.Practitioner{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, display_name, is_active, created_at, updated_at
		 FROM practitioners WHERE id = $1`,
		id,
	).Scan(
		&p.ID, &p.UserID, &p.DisplayName, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find practitioner: %w", err)
	}
	return p, nil
}

// compile-time interface check
var _ PractitionerRepository = (*PostgresPractitionerRepo)(nil)
