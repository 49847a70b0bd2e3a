package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"vaxledger/internal/certificate/models"
	id "vaxledger/pkg/domain"
	"vaxledger/pkg/platform/sentinel"
	"vaxledger/pkg/platform/tx"
)

const uniqueViolation = "23505"

const selectColumns = `
	SELECT id, child_id, type, status, content_hash, content_uri, completion_rate, verified,
		ledger_tx_hash, ledger_block_number, ledger_anchored_at, issued_at, updated_at
	FROM certificates`

// PostgresStore persists certificates. The partial unique index on
// (child_id, type) enforces one verifiable certificate per child and type.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, c *models.Certificate) error {
	_, err := tx.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO certificates
			(id, child_id, type, status, status_rank, content_hash, content_uri,
			 completion_rate, verified, issued_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.UUID(c.ID), uuid.UUID(c.ChildID), string(c.Type), string(c.Status), c.Status.Rank(),
		c.ContentHash, c.ContentURI, c.CompletionRate, c.Verified, c.IssuedAt, c.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, certID id.CertificateID) (*models.Certificate, error) {
	row := tx.Conn(ctx, s.db).QueryRowContext(ctx, selectColumns+` WHERE id = $1`, uuid.UUID(certID))
	c, err := scanCertificate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find certificate: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) FindByChildAndType(ctx context.Context, childID id.ChildID, typ models.Type) (*models.Certificate, error) {
	row := tx.Conn(ctx, s.db).QueryRowContext(ctx,
		selectColumns+` WHERE child_id = $1 AND type = $2 AND type <> 'progress'`, uuid.UUID(childID), string(typ))
	c, err := scanCertificate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find certificate by type: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListByChild(ctx context.Context, childID id.ChildID) ([]models.Certificate, error) {
	rows, err := tx.Conn(ctx, s.db).QueryContext(ctx,
		selectColumns+` WHERE child_id = $1 ORDER BY issued_at`, uuid.UUID(childID))
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	defer rows.Close()

	out := make([]models.Certificate, 0)
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan certificate: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate certificates: %w", err)
	}
	return out, nil
}

// Advance is conditional on the stored rank so concurrent promotions cannot
// move a certificate backwards.
func (s *PostgresStore) Advance(ctx context.Context, c *models.Certificate) error {
	var (
		txHash      sql.NullString
		blockNumber sql.NullInt64
		anchoredAt  sql.NullTime
	)
	if c.LedgerRef != nil {
		txHash = sql.NullString{String: c.LedgerRef.TxHash, Valid: true}
		blockNumber = sql.NullInt64{Int64: int64(c.LedgerRef.BlockNumber), Valid: true}
		anchoredAt = sql.NullTime{Time: c.LedgerRef.AnchoredAt, Valid: true}
	}
	res, err := tx.Conn(ctx, s.db).ExecContext(ctx, `
		UPDATE certificates
		SET status = $2, status_rank = $3, content_hash = $4, content_uri = $5, verified = $6,
			ledger_tx_hash = $7, ledger_block_number = $8, ledger_anchored_at = $9, updated_at = $10
		WHERE id = $1 AND status_rank < $3`,
		uuid.UUID(c.ID), string(c.Status), c.Status.Rank(), c.ContentHash, c.ContentURI, c.Verified,
		txHash, blockNumber, anchoredAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("advance certificate: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.FindByID(ctx, c.ID); err != nil {
			return err
		}
		return sentinel.ErrInvalidState
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCertificate(row scanner) (*models.Certificate, error) {
	var (
		c           models.Certificate
		certID      uuid.UUID
		childID     uuid.UUID
		typ         string
		status      string
		txHash      sql.NullString
		blockNumber sql.NullInt64
		anchoredAt  sql.NullTime
	)
	if err := row.Scan(&certID, &childID, &typ, &status, &c.ContentHash, &c.ContentURI,
		&c.CompletionRate, &c.Verified, &txHash, &blockNumber, &anchoredAt, &c.IssuedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.ID = id.CertificateID(certID)
	c.ChildID = id.ChildID(childID)
	c.Type = models.Type(typ)
	c.Status = models.Status(status)
	if txHash.Valid {
		c.LedgerRef = &models.LedgerRef{
			TxHash:      txHash.String,
			BlockNumber: uint64(blockNumber.Int64),
			AnchoredAt:  anchoredAt.Time,
		}
	}
	return &c, nil
}
