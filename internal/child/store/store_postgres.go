package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"vaxledger/internal/child/models"
	id "vaxledger/pkg/domain"
	"vaxledger/pkg/platform/sentinel"
	"vaxledger/pkg/platform/tx"
)

const uniqueViolation = "23505"

// PostgresStore persists children in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, child *models.Child) error {
	_, err := tx.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO children (id, name, birth_date, parent_address, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.UUID(child.ID), child.Name, child.BirthDate, child.ParentAddress, child.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert child: %w", err)
	}
	return nil
}

// Delete is a no-op for Postgres; a failed registration rolls back its transaction.
func (s *PostgresStore) Delete(context.Context, id.ChildID) error {
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, childID id.ChildID) (*models.Child, error) {
	var (
		c     models.Child
		rawID uuid.UUID
	)
	err := tx.Conn(ctx, s.db).QueryRowContext(ctx, `
		SELECT id, name, birth_date, parent_address, created_at
		FROM children WHERE id = $1`, uuid.UUID(childID),
	).Scan(&rawID, &c.Name, &c.BirthDate, &c.ParentAddress, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find child: %w", err)
	}
	c.ID = id.ChildID(rawID)
	c.BirthDate = models.DateOnly(c.BirthDate)
	return &c, nil
}
