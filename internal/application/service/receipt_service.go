package service

import (
	"context"
	"fmt"

	"github.com/dajor/bewirtungsbeleg-sub003/internal/application/port"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/domain/receipt"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/export"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ExportReader reads stored exports and renders missing ones
type ExportReader interface {
	ReadFile(fullPath string) ([]byte, error)
}

// Renderer renders a receipt spreadsheet in memory
type Renderer interface {
	Render(doc export.Document) ([]byte, error)
}

// ReceiptService reads submitted receipts
type ReceiptService interface {
	Get(ctx context.Context, id string) (*port.StoredReceipt, error)
	List(ctx context.Context, limit, offset int) ([]*port.StoredReceipt, error)
	History(ctx context.Context, id string) ([]*port.HistoryEntry, error)
	Export(ctx context.Context, id string) ([]byte, error)
}

type receiptServiceImpl struct {
	receipts port.ReceiptRepository
	history  port.HistoryRepository
	files    ExportReader
	renderer Renderer
	logger   *zap.Logger
}

// NewReceiptService creates a new ReceiptService. renderer may be nil.
func NewReceiptService(
	receipts port.ReceiptRepository,
	history port.HistoryRepository,
	files ExportReader,
	renderer Renderer,
	logger *zap.Logger,
) ReceiptService {
	return &receiptServiceImpl{
		receipts: receipts,
		history:  history,
		files:    files,
		renderer: renderer,
		logger:   logger,
	}
}

func (s *receiptServiceImpl) Get(ctx context.Context, id string) (*port.StoredReceipt, error) {
	return s.receipts.GetByID(ctx, id)
}

func (s *receiptServiceImpl) List(ctx context.Context, limit, offset int) ([]*port.StoredReceipt, error) {
	return s.receipts.List(ctx, limit, offset)
}

// History returns the recorded events of the session a receipt came from
func (s *receiptServiceImpl) History(ctx context.Context, id string) ([]*port.HistoryEntry, error) {
	rec, err := s.receipts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.history.GetBySessionID(ctx, rec.SessionID)
}

// Export returns the stored spreadsheet, or renders it from the stored
// fields when the export was never written or is gone
func (s *receiptServiceImpl) Export(ctx context.Context, id string) ([]byte, error) {
	rec, err := s.receipts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if rec.ExportPath != "" {
		content, err := s.files.ReadFile(rec.ExportPath)
		if err == nil {
			return content, nil
		}
		s.logger.Warn("Stored export unreadable, rendering again",
			zap.String("receipt_id", id),
			zap.String("path", rec.ExportPath),
			zap.Error(err))
	}

	if s.renderer == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoExport, id)
	}

	fields, err := FieldSetFromStored(rec.Fields)
	if err != nil {
		return nil, err
	}
	return s.renderer.Render(export.Document{
		ReceiptID:   rec.ID,
		SubmittedAt: rec.SubmittedAt,
		Fields:      fields,
	})
}

// FieldSetFromStored rebuilds a field set from persisted fields
func FieldSetFromStored(stored []port.StoredField) (receipt.FieldSet, error) {
	fs := receipt.Empty()
	for _, sf := range stored {
		if !sf.Field.IsValid() {
			return fs, fmt.Errorf("%w: %s", receipt.ErrUnknownField, sf.Field)
		}
		if !sf.Field.IsMonetary() {
			fs = fs.With(sf.Field, receipt.TextValue(sf.Value), sf.Provenance)
			continue
		}
		d, err := decimal.NewFromString(sf.Value)
		if err != nil {
			return fs, fmt.Errorf("failed to parse stored %s: %w", sf.Field, err)
		}
		fs = fs.With(sf.Field, receipt.AmountValue(d), sf.Provenance)
	}
	return fs, nil
}
