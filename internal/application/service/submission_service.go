package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dajor/bewirtungsbeleg-sub003/internal/application/port"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/domain/event"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/domain/receipt"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/export"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/session"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/upload"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionStore looks up and ends sessions; session.Manager implements it
type SessionStore interface {
	Get(id string) (*session.Session, error)
	End(id string) error
}

// Exporter writes the spreadsheet of a receipt
type Exporter interface {
	Write(ctx context.Context, doc export.Document) (string, error)
}

// SubmissionRecorder counts submitted receipts
type SubmissionRecorder interface {
	ReceiptSubmitted()
}

// SubmissionService turns a complete session into a stored receipt
type SubmissionService interface {
	Submit(ctx context.Context, sessionID string) (*port.StoredReceipt, error)
}

type submissionServiceImpl struct {
	sessions   SessionStore
	receipts   port.ReceiptRepository
	exporter   Exporter
	publisher  upload.Publisher
	recorder   SubmissionRecorder
	localeCode string
	vatRate    string
	logger     *zap.Logger
}

// SubmissionConfig names the conventions stored with every receipt
type SubmissionConfig struct {
	Locale  string
	VatRate string
}

// NewSubmissionService creates a new SubmissionService. exporter, publisher
// and recorder may be nil.
func NewSubmissionService(
	cfg SubmissionConfig,
	sessions SessionStore,
	receipts port.ReceiptRepository,
	exporter Exporter,
	publisher upload.Publisher,
	recorder SubmissionRecorder,
	logger *zap.Logger,
) SubmissionService {
	return &submissionServiceImpl{
		sessions:   sessions,
		receipts:   receipts,
		exporter:   exporter,
		publisher:  publisher,
		recorder:   recorder,
		localeCode: cfg.Locale,
		vatRate:    cfg.VatRate,
		logger:     logger,
	}
}

// Submit validates the session's receipt, stores it, writes the export and
// ends the session. An export failure is logged and leaves ExportPath empty.
func (s *submissionServiceImpl) Submit(ctx context.Context, sessionID string) (*port.StoredReceipt, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	if n := sess.Uploads().InFlight(); n > 0 {
		return nil, fmt.Errorf("%w: %d running", ErrUploadsPending, n)
	}

	state := sess.Engine().Snapshot()
	if err := receipt.ValidateForSubmission(state); err != nil {
		return nil, err
	}

	rec := &port.StoredReceipt{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Locale:      s.localeCode,
		VatRate:     s.vatRate,
		Fields:      StoredFields(state),
		SubmittedAt: time.Now(),
	}

	if err := s.receipts.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store receipt: %w", err)
	}

	if s.exporter != nil {
		path, err := s.exporter.Write(ctx, export.Document{
			ReceiptID:   rec.ID,
			SubmittedAt: rec.SubmittedAt,
			Fields:      state,
		})
		if err != nil {
			s.logger.Error("Failed to export receipt",
				zap.String("receipt_id", rec.ID),
				zap.Error(err))
		} else if err := s.receipts.SetExportPath(ctx, rec.ID, path); err != nil {
			s.logger.Error("Failed to record export path",
				zap.String("receipt_id", rec.ID),
				zap.Error(err))
		} else {
			rec.ExportPath = path
		}
	}

	if err := s.sessions.End(sessionID); err != nil {
		s.logger.Warn("Failed to end submitted session",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}

	if s.publisher != nil {
		s.publisher.DispatchAsync(context.Background(), event.NewEvent(
			event.TypeReceiptSubmitted, sessionID, "", map[string]interface{}{
				"receipt_id": rec.ID,
				"fields":     len(rec.Fields),
			}))
	}
	if s.recorder != nil {
		s.recorder.ReceiptSubmitted()
	}

	s.logger.Info("Receipt submitted",
		zap.String("session_id", sessionID),
		zap.String("receipt_id", rec.ID),
		zap.Int("fields", len(rec.Fields)))

	return rec, nil
}

// StoredFields lists the set fields of a field set in canonical order.
// Amounts are stored locale independent with two fractional digits.
func StoredFields(state receipt.FieldSet) []port.StoredField {
	var fields []port.StoredField
	for _, f := range receipt.AllFields() {
		value, p := state.Get(f)
		if !p.IsSet() {
			continue
		}
		text := value.Text
		if f.IsMonetary() {
			text = value.Amount.StringFixed(receipt.AmountPlaces)
		}
		fields = append(fields, port.StoredField{Field: f, Value: text, Provenance: p})
	}
	return fields
}
