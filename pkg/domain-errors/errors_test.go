package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodes(t *testing.T) {
	t.Run("wrapped coded error keeps its code", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := fmt.Errorf("anchor: %w", Wrap(cause, CodeLedgerUnavailable, "ledger unavailable"))

		assert.True(t, HasCode(err, CodeLedgerUnavailable))
		assert.False(t, HasCode(err, CodeLedgerRejected))
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, "ledger unavailable", MessageOf(err))
	})

	t.Run("uncoded error maps to internal", func(t *testing.T) {
		err := errors.New("boom")
		assert.Equal(t, CodeInternal, CodeOf(err))
		assert.Equal(t, "internal error", MessageOf(err))
	})
}
