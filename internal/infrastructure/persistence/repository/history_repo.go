package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dajor/bewirtungsbeleg-sub003/internal/application/port"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// HistoryRepository implements port.HistoryRepository
type HistoryRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sqlite.DB, logger *zap.Logger) *HistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

// Append records one event. Appending the same event ID twice is a no-op.
func (r *HistoryRepository) Append(ctx context.Context, entry *port.HistoryEntry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	result, err := r.db.Executor(ctx).ExecContext(ctx, `
		INSERT OR IGNORE INTO event_history (
			event_id, session_id, source_id, event_type, payload, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`,
		entry.EventID,
		entry.SessionID,
		entry.SourceID,
		entry.EventType,
		string(payload),
		entry.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to append history entry",
			zap.String("event_id", entry.EventID),
			zap.Error(err))
		return fmt.Errorf("failed to append history: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	entry.ID = id
	return nil
}

// GetBySessionID returns the history of a session in insertion order
func (r *HistoryRepository) GetBySessionID(ctx context.Context, sessionID string) ([]*port.HistoryEntry, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, `
		SELECT id, event_id, session_id, source_id, event_type, payload, created_at
		FROM event_history
		WHERE session_id = ?
		ORDER BY id ASC
	`, sessionID)
	if err != nil {
		r.logger.Error("Failed to get history by session ID", zap.String("session_id", sessionID), zap.Error(err))
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var records []*port.HistoryEntry
	for rows.Next() {
		var record port.HistoryEntry
		var payload string
		err := rows.Scan(
			&record.ID,
			&record.EventID,
			&record.SessionID,
			&record.SourceID,
			&record.EventType,
			&payload,
			&record.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &record.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
		records = append(records, &record)
	}

	return records, rows.Err()
}

// Verify interface compliance
var _ port.HistoryRepository = (*HistoryRepository)(nil)
