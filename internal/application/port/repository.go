package port

import (
	"context"
	"time"

	"github.com/dajor/bewirtungsbeleg-sub003/internal/domain/receipt"
)

// StoredField is one persisted field of a submitted receipt
type StoredField struct {
	Field      receipt.Field      `json:"field"`
	Value      string             `json:"value"`
	Provenance receipt.Provenance `json:"provenance"`
}

// StoredReceipt is a submitted receipt
type StoredReceipt struct {
	ID          string        `json:"id"`
	SessionID   string        `json:"session_id"`
	Locale      string        `json:"locale"`
	VatRate     string        `json:"vat_rate"`
	Fields      []StoredField `json:"fields"`
	ExportPath  string        `json:"export_path,omitempty"`
	SubmittedAt time.Time     `json:"submitted_at"`
}

// HistoryEntry is one recorded notification of a session
type HistoryEntry struct {
	ID        int64             `json:"id"`
	EventID   string            `json:"event_id"`
	SessionID string            `json:"session_id"`
	SourceID  string            `json:"source_id"`
	EventType string            `json:"event_type"`
	Payload   map[string]string `json:"payload"`
	CreatedAt time.Time         `json:"created_at"`
}

// ReceiptRepository persists submitted receipts
type ReceiptRepository interface {
	Create(ctx context.Context, r *StoredReceipt) error
	GetByID(ctx context.Context, id string) (*StoredReceipt, error)
	SetExportPath(ctx context.Context, id, path string) error
	List(ctx context.Context, limit, offset int) ([]*StoredReceipt, error)
}

// HistoryRepository records the event history of sessions
type HistoryRepository interface {
	Append(ctx context.Context, entry *HistoryEntry) error
	GetBySessionID(ctx context.Context, sessionID string) ([]*HistoryEntry, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
