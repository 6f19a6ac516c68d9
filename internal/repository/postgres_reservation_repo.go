package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/floreser/floreser/internal/model"
)

// exclusionViolation is the SQLSTATE PostgreSQL reports when the
// reservations_no_overlap constraint rejects a row.
const exclusionViolation = "23P01"

// PostgresReservationRepo is the PostgreSQL reservation repository.
type PostgresReservationRepo struct {
	db *sql.DB
}

// NewPostgresReservationRepo creates a PostgresReservationRepo.
func NewPostgresReservationRepo(db *sql.DB) *PostgresReservationRepo {
	return &PostgresReservationRepo{db: db}
}

const reservationColumns = `id, practitioner_id, client_id, scheduled_start, duration_minutes,
	is_virtual, amount_cents, currency, status, notes, created_at, updated_at`

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// FindByID returns the reservation, or nil when none exists.
func (r *PostgresReservationRepo) FindByID(ctx context.Context, id string) (*model.Reservation, error) {
	if !validID(id) {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = $1`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find reservation: %w", err)
	}
	defer rows.Close()

	list, err := scanReservations(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

// ListActiveForPractitionerBetween returns the practitioner's scheduled or
// confirmed reservations that intersect [from, to), ordered by start.
func (r *PostgresReservationRepo) ListActiveForPractitionerBetween(ctx context.Context, practitionerID string, from, to time.Time) ([]model.Reservation, error) {
	if !validID(practitionerID) {
		return nil, nil
	}
	return listActiveOverlapping(ctx, r.db, practitionerID, from, to)
}

// ListByParticipant returns the reservations where the user is the client or
// owns the practitioner profile, newest start first.
func (r *PostgresReservationRepo) ListByParticipant(ctx context.Context, userID string) ([]model.Reservation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reservationColumns+`
		 FROM reservations
		 WHERE client_id = $1
		    OR practitioner_id IN (SELECT id FROM practitioners WHERE user_id = $1)
		 ORDER BY scheduled_start DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	defer rows.Close()

	return scanReservations(rows)
}

// CountByClientSince counts the reservations the client created at or after
// since, in any status.
func (r *PostgresReservationRepo) CountByClientSince(ctx context.Context, clientID string, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reservations WHERE client_id = $1 AND created_at >= $2`,
		clientID, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count reservations: %w", err)
	}
	return n, nil
}

// CreateIfNoConflict inserts the reservation unless an active reservation of
// the same practitioner overlaps it.
//
// The practitioner row is locked with SELECT ... FOR UPDATE so concurrent
// creates for one practitioner run one after another. The exclusion
// constraint on the table backs this up; if it fires, the transaction is
// rolled back and the colliding rows are read again.
func (r *PostgresReservationRepo) CreateIfNoConflict(ctx context.Context, res *model.Reservation) ([]model.Reservation, error) {
	if !validID(res.PractitionerID) {
		return nil, ErrPractitionerNotFound
	}
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 1. Serialize on the practitioner
	var lockedID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM practitioners WHERE id = $1 FOR UPDATE`,
		res.PractitionerID,
	).Scan(&lockedID)
	if err == sql.ErrNoRows {
		return nil, ErrPractitionerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock practitioner: %w", err)
	}

	// 2. Recheck overlap inside the lock
	conflicts, err := listActiveOverlapping(ctx, tx, res.PractitionerID, res.ScheduledStart, res.End())
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		return conflicts, nil
	}

	// 3. Insert
	err = tx.QueryRowContext(ctx,
		`INSERT INTO reservations (id, practitioner_id, client_id, scheduled_start, duration_minutes,
		                           is_virtual, amount_cents, currency, status, notes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING created_at, updated_at`,
		res.ID, res.PractitionerID, res.ClientID, res.ScheduledStart, res.DurationMinutes,
		res.IsVirtual, res.AmountCents, res.Currency, res.Status, res.Notes,
	).Scan(&res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		if isExclusionViolation(err) {
			tx.Rollback()
			return r.conflictsAfterViolation(ctx, res)
		}
		return nil, fmt.Errorf("failed to insert reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isExclusionViolation(err) {
			return r.conflictsAfterViolation(ctx, res)
		}
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil, nil
}

// conflictsAfterViolation reads the rows that made the exclusion constraint
// fire. They may have been cancelled in between, in which case nothing can
// be reported and the insert is treated as failed.
func (r *PostgresReservationRepo) conflictsAfterViolation(ctx context.Context, res *model.Reservation) ([]model.Reservation, error) {
	conflicts, err := r.ListActiveForPractitionerBetween(ctx, res.PractitionerID, res.ScheduledStart, res.End())
	if err != nil {
		return nil, err
	}
	if len(conflicts) == 0 {
		return nil, errors.New("reservation rejected by overlap constraint but no conflicting reservation remains")
	}
	return conflicts, nil
}

// UpdateStatus moves the reservation from one status to another. It returns
// false when the stored status is no longer from.
func (r *PostgresReservationRepo) UpdateStatus(ctx context.Context, id string, from, to model.ReservationStatus) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE reservations SET status = $3, updated_at = NOW()
		 WHERE id = $1 AND status = $2`,
		id, from, to,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update reservation status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

func listActiveOverlapping(ctx context.Context, q queryer, practitionerID string, from, to time.Time) ([]model.Reservation, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+reservationColumns+`
		 FROM reservations
		 WHERE practitioner_id = $1
		   AND scheduled_start < $3
		   AND scheduled_end > $2
		   AND status IN ('scheduled', 'confirmed')
		 ORDER BY scheduled_start`,
		practitionerID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active reservations: %w", err)
	}
	defer rows.Close()

	return scanReservations(rows)
}

func scanReservations(rows *sql.Rows) ([]model.Reservation, error) {
	var list []model.Reservation
	for rows.Next() {
		var res model.Reservation
		if err := rows.Scan(
			&res.ID, &res.PractitionerID, &res.ClientID, &res.ScheduledStart, &res.DurationMinutes,
			&res.IsVirtual, &res.AmountCents, &res.Currency, &res.Status, &res.Notes,
			&res.CreatedAt, &res.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		// timestamp without time zone comes back in UTC; keep it there.
		res.ScheduledStart = res.ScheduledStart.UTC()
		list = append(list, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reservations: %w", err)
	}
	return list, nil
}

func isExclusionViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == exclusionViolation
}

// compile-time interface check
var _ ReservationRepository = (*PostgresReservationRepo)(nil)
