package dosestatus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"vaxledger/internal/records/models"
	id "vaxledger/pkg/domain"
	"vaxledger/pkg/platform/sentinel"
	"vaxledger/pkg/platform/tx"
)

const uniqueViolation = "23505"

// PostgresStore persists dose statuses in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// InsertAll bulk-inserts the set in one statement. Any existing key for the
// child fails the whole insert.
func (s *PostgresStore) InsertAll(ctx context.Context, childID id.ChildID, statuses []models.DoseStatus) error {
	n := len(statuses)
	var (
		vaccines  = make([]string, n)
		doses     = make([]int64, n)
		buckets   = make([]string, n)
		ages      = make([]int64, n)
		states    = make([]string, n)
		scheduled = make([]string, n)
	)
	for i, d := range statuses {
		vaccines[i] = d.VaccineName
		doses[i] = int64(d.DoseNumber)
		buckets[i] = d.AgeBucketLabel
		ages[i] = int64(d.AgeInMonths)
		states[i] = string(d.Status)
		scheduled[i] = d.ScheduledDate.Format(time.DateOnly)
	}

	_, err := tx.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO dose_statuses
			(child_id, vaccine_name, dose_number, age_bucket_label, age_in_months, status, scheduled_date)
		SELECT $1, v, d, b, a, st, sc::date
		FROM unnest($2::text[], $3::int[], $4::text[], $5::int[], $6::text[], $7::text[])
			AS t(v, d, b, a, st, sc)`,
		uuid.UUID(childID),
		pq.Array(vaccines), pq.Array(doses), pq.Array(buckets),
		pq.Array(ages), pq.Array(states), pq.Array(scheduled),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert dose statuses: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByChild(ctx context.Context, childID id.ChildID) ([]models.DoseStatus, error) {
	rows, err := tx.Conn(ctx, s.db).QueryContext(ctx, `
		SELECT vaccine_name, dose_number, age_bucket_label, age_in_months, status, scheduled_date, completed_date
		FROM dose_statuses
		WHERE child_id = $1
		ORDER BY age_in_months, vaccine_name, dose_number`, uuid.UUID(childID))
	if err != nil {
		return nil, fmt.Errorf("list dose statuses: %w", err)
	}
	defer rows.Close()

	var out []models.DoseStatus
	for rows.Next() {
		var (
			d         = models.DoseStatus{ChildID: childID}
			status    string
			completed sql.NullTime
		)
		if err := rows.Scan(&d.VaccineName, &d.DoseNumber, &d.AgeBucketLabel, &d.AgeInMonths,
			&status, &d.ScheduledDate, &completed); err != nil {
			return nil, fmt.Errorf("scan dose status: %w", err)
		}
		d.Status = models.DoseState(status)
		if completed.Valid {
			t := completed.Time
			d.CompletedDate = &t
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dose statuses: %w", err)
	}
	return out, nil
}

// MarkCompleted updates conditionally; a missing key is ErrNotFound and an
// already completed row reports false.
func (s *PostgresStore) MarkCompleted(ctx context.Context, childID id.ChildID, vaccineName string, doseNumber int, completedDate time.Time) (bool, error) {
	var current sql.NullString
	err := tx.Conn(ctx, s.db).QueryRowContext(ctx, `
		WITH target AS (
			SELECT status FROM dose_statuses
			WHERE child_id = $1 AND lower(vaccine_name) = lower($2) AND dose_number = $3
		), updated AS (
			UPDATE dose_statuses SET status = 'completed', completed_date = $4
			WHERE child_id = $1 AND lower(vaccine_name) = lower($2) AND dose_number = $3
				AND status <> 'completed'
			RETURNING status
		)
		SELECT COALESCE((SELECT 'updated'::text FROM updated), (SELECT status FROM target))`,
		uuid.UUID(childID), vaccineName, doseNumber, completedDate,
	).Scan(&current)
	if err != nil {
		return false, fmt.Errorf("mark dose completed: %w", err)
	}
	if !current.Valid {
		return false, sentinel.ErrNotFound
	}
	return current.String == "updated", nil
}
