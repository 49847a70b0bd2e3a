// Package logsink writes audit events to the structured log. It is the
// fallback when no broker is configured.
package logsink

import (
	"context"
	"log/slog"

	audit "vaxledger/pkg/platform/audit"
)

type Store struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Store {
	return &Store{logger: logger}
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	s.logger.InfoContext(ctx, event.Action,
		"log_type", "audit",
		"child_id", event.ChildID.String(),
		"subject", event.Subject,
		"decision", event.Decision,
		"reason", event.Reason,
		"request_id", event.RequestID,
		"actor_id", event.ActorID,
		"timestamp", event.Timestamp,
	)
	return nil
}
