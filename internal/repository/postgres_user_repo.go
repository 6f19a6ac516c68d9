package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/floreser/floreser/internal/model"
)

// PostgresUserRepo is the PostgreSQL user repository.
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo creates a PostgresUserRepo.
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID returns the user with the given ID, or nil when none exists.
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if !validID(id) {
		return nil, nil
	}
	user := &model.User{}
	var trialEnd, subEnd sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, name, role, access_level, subscription_status,
		        trial_end_date, subscription_end_date, created_at, updated_at
		 FROM users WHERE id = $1`,
		id,
	).Scan(
		&user.ID, &user.Email, &user.Name, &user.Role, &user.AccessLevel, &user.SubscriptionStatus,
		&trialEnd, &subEnd, &user.CreatedAt, &user.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	user.TrialEndDate = nullTimePtr(trialEnd)
	user.SubscriptionEndDate = nullTimePtr(subEnd)
	return user, nil
}

// UpdateAccess stores a newly derived access level and subscription status.
func (r *PostgresUserRepo) UpdateAccess(ctx context.Context, id string, level model.AccessLevel, status model.SubscriptionStatus) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET access_level = $2, subscription_status = $3, updated_at = NOW()
		 WHERE id = $1`,
		id, level, status,
	)
	if err != nil {
		return fmt.Errorf("failed to update user access: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", id)
	}
	return nil
}

// StartTrial sets the trial fields unless a trial end date was ever set.
// The condition lives in the UPDATE so two concurrent requests cannot both
// start a trial.
func (r *PostgresUserRepo) StartTrial(ctx context.Context, id string, trialEnd time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET trial_end_date = $2, access_level = $3, subscription_status = $4, updated_at = NOW()
		 WHERE id = $1 AND trial_end_date IS NULL`,
		id, trialEnd, model.AccessLevelBasic, model.SubscriptionStatusTrial,
	)
	if err != nil {
		return fmt.Errorf("failed to start trial: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrTrialAlreadyStarted
	}
	return nil
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
