package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"vaxledger/internal/reward/models"
	id "vaxledger/pkg/domain"
	"vaxledger/pkg/platform/sentinel"
	"vaxledger/pkg/platform/tx"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, c *models.Claim) error {
	_, err := tx.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO reward_claims
			(child_id, parent_address, amount, unit, ledger_tx_hash, block_number, claimed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.UUID(c.ChildID), c.ParentAddress, c.Amount, c.Unit, c.LedgerTx, int64(c.BlockNumber), c.ClaimedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert reward claim: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByChild(ctx context.Context, childID id.ChildID) (*models.Claim, error) {
	var (
		c       models.Claim
		childUU uuid.UUID
		block   int64
	)
	err := tx.Conn(ctx, s.db).QueryRowContext(ctx, `
		SELECT child_id, parent_address, amount, unit, ledger_tx_hash, block_number, claimed_at
		FROM reward_claims WHERE child_id = $1`, uuid.UUID(childID),
	).Scan(&childUU, &c.ParentAddress, &c.Amount, &c.Unit, &c.LedgerTx, &block, &c.ClaimedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find reward claim: %w", err)
	}
	c.ChildID = id.ChildID(childUU)
	c.BlockNumber = uint64(block)
	return &c, nil
}

func (s *PostgresStore) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	err := tx.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(amount), 0) FROM reward_claims`,
	).Scan(&t.Claims, &t.Amount)
	if err != nil {
		return Totals{}, fmt.Errorf("sum reward claims: %w", err)
	}
	return t, nil
}
