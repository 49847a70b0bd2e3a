package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "vaxledger/pkg/domain"
	dErrors "vaxledger/pkg/domain-errors"
)

func TestNewClaim(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	child := id.ChildID(uuid.New())
	addr := "0x00000000000000000000000000000000000000aa"

	t.Run("valid", func(t *testing.T) {
		c, err := NewClaim(child, addr, decimal.NewFromInt(10), "VAX", "0xabc", 7, now)
		require.NoError(t, err)
		assert.Equal(t, "10", c.Amount.String())
		assert.Equal(t, uint64(7), c.BlockNumber)
	})

	cases := []struct {
		name   string
		child  id.ChildID
		amount decimal.Decimal
		tx     string
	}{
		{"nil child", id.ChildID(uuid.Nil), decimal.NewFromInt(10), "0xabc"},
		{"zero amount", child, decimal.Zero, "0xabc"},
		{"negative amount", child, decimal.NewFromInt(-1), "0xabc"},
		{"missing tx", child, decimal.NewFromInt(10), " "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewClaim(tc.child, addr, tc.amount, "VAX", tc.tx, 1, now)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
		})
	}
}
