package event

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"vaxledger/internal/records/models"
	id "vaxledger/pkg/domain"
	"vaxledger/pkg/platform/sentinel"
	"vaxledger/pkg/platform/tx"
)

const uniqueViolation = "23505"

const selectColumns = `
	SELECT id, child_id, vaccine_name, dose_number, date_administered, administered_by,
		location, batch_number, expiry_date, age_bucket_label,
		ledger_tx_hash, ledger_block_number, ledger_anchored_at, recorded_at
	FROM immunization_events`

// PostgresStore persists immunization events in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, e *models.ImmunizationEvent) error {
	var expiry sql.NullTime
	if e.ExpiryDate != nil {
		expiry = sql.NullTime{Time: *e.ExpiryDate, Valid: true}
	}
	_, err := tx.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO immunization_events
			(id, child_id, vaccine_name, dose_number, date_administered, administered_by,
			 location, batch_number, expiry_date, age_bucket_label, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.UUID(e.ID), uuid.UUID(e.ChildID), e.VaccineName, e.DoseNumber, e.DateAdministered,
		e.AdministeredBy, e.Location, e.BatchNumber, expiry, e.AgeBucketLabel, e.RecordedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert immunization event: %w", err)
	}
	return nil
}

// AttachLedgerRef only writes when no reference is set yet.
func (s *PostgresStore) AttachLedgerRef(ctx context.Context, eventID id.EventID, ref models.LedgerRef) error {
	res, err := tx.Conn(ctx, s.db).ExecContext(ctx, `
		UPDATE immunization_events
		SET ledger_tx_hash = $2, ledger_block_number = $3, ledger_anchored_at = $4
		WHERE id = $1 AND ledger_tx_hash IS NULL`,
		uuid.UUID(eventID), ref.TxHash, int64(ref.BlockNumber), ref.AnchoredAt,
	)
	if err != nil {
		return fmt.Errorf("attach ledger ref: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.FindByID(ctx, eventID); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, eventID id.EventID) (*models.ImmunizationEvent, error) {
	row := tx.Conn(ctx, s.db).QueryRowContext(ctx, selectColumns+` WHERE id = $1`, uuid.UUID(eventID))
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find immunization event: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) ListByChild(ctx context.Context, childID id.ChildID) ([]models.ImmunizationEvent, error) {
	rows, err := tx.Conn(ctx, s.db).QueryContext(ctx,
		selectColumns+` WHERE child_id = $1 ORDER BY date_administered, recorded_at`, uuid.UUID(childID))
	if err != nil {
		return nil, fmt.Errorf("list immunization events: %w", err)
	}
	defer rows.Close()

	var out []models.ImmunizationEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan immunization event: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate immunization events: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*models.ImmunizationEvent, error) {
	var (
		e              models.ImmunizationEvent
		eventID        uuid.UUID
		childID        uuid.UUID
		expiry         sql.NullTime
		txHash         sql.NullString
		blockNumber    sql.NullInt64
		ledgerAnchored sql.NullTime
	)
	if err := row.Scan(&eventID, &childID, &e.VaccineName, &e.DoseNumber, &e.DateAdministered,
		&e.AdministeredBy, &e.Location, &e.BatchNumber, &expiry, &e.AgeBucketLabel,
		&txHash, &blockNumber, &ledgerAnchored, &e.RecordedAt); err != nil {
		return nil, err
	}
	e.ID = id.EventID(eventID)
	e.ChildID = id.ChildID(childID)
	if expiry.Valid {
		t := expiry.Time
		e.ExpiryDate = &t
	}
	if txHash.Valid {
		e.LedgerRef = &models.LedgerRef{
			TxHash:      txHash.String,
			BlockNumber: uint64(blockNumber.Int64),
			AnchoredAt:  ledgerAnchored.Time,
		}
	}
	return &e, nil
}
