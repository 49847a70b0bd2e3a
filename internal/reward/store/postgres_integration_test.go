//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"vaxledger/internal/reward/models"
	"vaxledger/internal/reward/store"
	id "vaxledger/pkg/domain"
	"vaxledger/pkg/platform/sentinel"
	"vaxledger/pkg/testutil/containers"
)

type PostgresRewardStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresRewardStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresRewardStoreSuite))
}

func (s *PostgresRewardStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresRewardStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "reward_claims"))
}

func (s *PostgresRewardStoreSuite) TestClaims() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	c, err := models.NewClaim(id.ChildID(uuid.New()), "0x00000000000000000000000000000000000000aa",
		decimal.RequireFromString("12.5"), "VAX", "0xfeed", 9, now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Save(ctx, c))
	s.ErrorIs(s.store.Save(ctx, c), sentinel.ErrAlreadyUsed)

	found, err := s.store.FindByChild(ctx, c.ChildID)
	s.Require().NoError(err)
	s.True(decimal.RequireFromString("12.5").Equal(found.Amount))
	s.Equal(uint64(9), found.BlockNumber)
	s.True(now.Equal(found.ClaimedAt))

	totals, err := s.store.Totals(ctx)
	s.Require().NoError(err)
	s.Equal(1, totals.Claims)
	s.Equal("12.5", totals.Amount.String())

	_, err = s.store.FindByChild(ctx, id.ChildID(uuid.New()))
	s.ErrorIs(err, sentinel.ErrNotFound)
}
