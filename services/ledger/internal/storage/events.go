package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/store"
	"github.com/google/uuid"
)

const ledgerEventPrefix = "ledger:"

func ledgerEventKey(eventID string) string {
	trimmed := strings.TrimSpace(eventID)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, ledgerEventPrefix) {
		return trimmed
	}
	return ledgerEventPrefix + trimmed
}

// MarkEventProcessed reports true the first time eventID is seen.
func (s *Store) MarkEventProcessed(ctx context.Context, eventID string) (bool, error) {
	key := ledgerEventKey(eventID)
	if key == "" {
		return false, fmt.Errorf("event id is required")
	}
	tag, err := s.db.Exec(ctx, `
		INSERT INTO processed_events (event_id)
		VALUES ($1)
		ON CONFLICT (event_id) DO NOTHING
	`, key)
	if err != nil {
		return false, fmt.Errorf("record processed event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) InsertAudit(ctx context.Context, entry store.AuditEntry) error {
	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	payload, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO audit_logs (id, actor, action, entity_type, entity_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
	`, uuid.New(), entry.Actor, entry.Action, entry.EntityType, entry.EntityID, string(payload))
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}
