package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dajor/bewirtungsbeleg-sub003/internal/application/port"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/domain/receipt"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// ReceiptRepository implements port.ReceiptRepository
type ReceiptRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewReceiptRepository creates a new receipt repository
func NewReceiptRepository(db *sqlite.DB, logger *zap.Logger) *ReceiptRepository {
	return &ReceiptRepository{
		db:     db,
		logger: logger,
	}
}

// Create stores a receipt and its fields in one transaction
func (r *ReceiptRepository) Create(ctx context.Context, rec *port.StoredReceipt) error {
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = time.Now()
	}

	err := r.db.WithTransaction(ctx, func(ctx context.Context) error {
		exec := r.db.Executor(ctx)

		_, err := exec.ExecContext(ctx, `
			INSERT INTO receipts (id, session_id, locale, vat_rate, export_path, submitted_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			rec.ID,
			rec.SessionID,
			rec.Locale,
			rec.VatRate,
			rec.ExportPath,
			rec.SubmittedAt.UTC(),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: receipt %s", ErrDuplicate, rec.ID)
			}
			return fmt.Errorf("failed to insert receipt: %w", err)
		}

		for i, f := range rec.Fields {
			_, err := exec.ExecContext(ctx, `
				INSERT INTO receipt_fields (receipt_id, position, field, value, provenance)
				VALUES (?, ?, ?, ?, ?)
			`, rec.ID, i, string(f.Field), f.Value, string(f.Provenance))
			if err != nil {
				return fmt.Errorf("failed to insert field %s: %w", f.Field, err)
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to create receipt", zap.String("receipt_id", rec.ID), zap.Error(err))
		return err
	}

	r.logger.Debug("Receipt stored",
		zap.String("receipt_id", rec.ID),
		zap.Int("fields", len(rec.Fields)))
	return nil
}

// GetByID loads a receipt with its fields
func (r *ReceiptRepository) GetByID(ctx context.Context, id string) (*port.StoredReceipt, error) {
	exec := r.db.Executor(ctx)

	var rec port.StoredReceipt
	err := exec.QueryRowContext(ctx, `
		SELECT id, session_id, locale, vat_rate, export_path, submitted_at
		FROM receipts WHERE id = ?
	`, id).Scan(&rec.ID, &rec.SessionID, &rec.Locale, &rec.VatRate, &rec.ExportPath, &rec.SubmittedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: receipt %s", ErrNotFound, id)
	}
	if err != nil {
		r.logger.Error("Failed to get receipt", zap.String("receipt_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}

	fields, err := r.fields(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.Fields = fields
	return &rec, nil
}

// SetExportPath records where the spreadsheet of a receipt was written
func (r *ReceiptRepository) SetExportPath(ctx context.Context, id, path string) error {
	result, err := r.db.Executor(ctx).ExecContext(ctx,
		"UPDATE receipts SET export_path = ? WHERE id = ?", path, id)
	if err != nil {
		return fmt.Errorf("failed to update export path: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: receipt %s", ErrNotFound, id)
	}
	return nil
}

// List returns receipts newest first, without fields
func (r *ReceiptRepository) List(ctx context.Context, limit, offset int) ([]*port.StoredReceipt, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Executor(ctx).QueryContext(ctx, `
		SELECT id, session_id, locale, vat_rate, export_path, submitted_at
		FROM receipts
		ORDER BY submitted_at DESC, id
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list receipts", zap.Error(err))
		return nil, fmt.Errorf("failed to list receipts: %w", err)
	}
	defer rows.Close()

	var receipts []*port.StoredReceipt
	for rows.Next() {
		var rec port.StoredReceipt
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Locale, &rec.VatRate, &rec.ExportPath, &rec.SubmittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		receipts = append(receipts, &rec)
	}
	return receipts, rows.Err()
}

func (r *ReceiptRepository) fields(ctx context.Context, id string) ([]port.StoredField, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, `
		SELECT field, value, provenance FROM receipt_fields
		WHERE receipt_id = ? ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt fields: %w", err)
	}
	defer rows.Close()

	var fields []port.StoredField
	for rows.Next() {
		var field, value, provenance string
		if err := rows.Scan(&field, &value, &provenance); err != nil {
			return nil, fmt.Errorf("failed to scan receipt field: %w", err)
		}
		fields = append(fields, port.StoredField{
			Field:      receipt.Field(field),
			Value:      value,
			Provenance: receipt.Provenance(provenance),
		})
	}
	return fields, rows.Err()
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Verify interface compliance
var _ port.ReceiptRepository = (*ReceiptRepository)(nil)
