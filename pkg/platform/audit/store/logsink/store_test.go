package logsink

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "vaxledger/pkg/domain"
	audit "vaxledger/pkg/platform/audit"
)

func TestAppendWritesAuditLine(t *testing.T) {
	var buf bytes.Buffer
	store := New(slog.New(slog.NewJSONHandler(&buf, nil)))
	childID := id.ChildID(uuid.New())

	require.NoError(t, store.Append(context.Background(), audit.Event{
		Timestamp: time.Now(),
		ChildID:   childID,
		Action:    string(audit.EventRewardAwarded),
		Subject:   "0xabc",
	}))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, string(audit.EventRewardAwarded), line["msg"])
	assert.Equal(t, "audit", line["log_type"])
	assert.Equal(t, childID.String(), line["child_id"])
	assert.Equal(t, "0xabc", line["subject"])
}
