package export

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dajor/bewirtungsbeleg-sub003/internal/derivation"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/domain/receipt"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/locale"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/storage"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// SheetName is the name of the single worksheet
const SheetName = "Bewirtungsbeleg"

// Document is a submitted receipt to export
type Document struct {
	ReceiptID   string
	SubmittedAt time.Time
	Fields      receipt.FieldSet
}

// Exporter renders receipts as xlsx workbooks
type Exporter struct {
	rules  *derivation.Rules
	format *locale.NumberFormat
	files  storage.FileStorage
	dir    string
	logger *zap.Logger
}

// NewExporter creates an exporter writing below dir
func NewExporter(rules *derivation.Rules, format *locale.NumberFormat, files storage.FileStorage, dir string, logger *zap.Logger) *Exporter {
	return &Exporter{
		rules:  rules,
		format: format,
		files:  files,
		dir:    dir,
		logger: logger,
	}
}

// Write renders doc and stores it as {dir}/{receiptID}.xlsx
func (e *Exporter) Write(ctx context.Context, doc Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	content, err := e.Render(doc)
	if err != nil {
		return "", err
	}

	path := filepath.Join(e.dir, doc.ReceiptID+".xlsx")
	if err := e.files.SaveFileWithType(path, content, storage.FileTypeExcel); err != nil {
		return "", fmt.Errorf("failed to save export: %w", err)
	}

	e.logger.Info("Receipt exported",
		zap.String("receipt_id", doc.ReceiptID),
		zap.String("path", path),
		zap.Int("size", len(content)))
	return path, nil
}

// Render builds the workbook: one row per field (label, value, provenance)
// followed by the deductible split when a gross amount is known.
func (e *Exporter) Render(doc Document) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("failed to create style: %w", err)
	}

	row := 1
	write := func(values ...interface{}) {
		for i, v := range values {
			cell, _ := excelize.CoordinatesToCellName(i+1, row)
			_ = f.SetCellValue(SheetName, cell, v)
		}
		row++
	}
	heading := func(values ...interface{}) {
		start, _ := excelize.CoordinatesToCellName(1, row)
		end, _ := excelize.CoordinatesToCellName(len(values), row)
		write(values...)
		_ = f.SetCellStyle(SheetName, start, end, bold)
	}

	heading("Bewirtungsbeleg", doc.ReceiptID)
	if !doc.SubmittedAt.IsZero() {
		write("Erstellt am", locale.FormatDate(doc.SubmittedAt))
	}
	row++

	heading("Feld", "Wert", "Herkunft")
	for _, field := range receipt.AllFields() {
		value, p := doc.Fields.Get(field)
		display := ""
		if p.IsSet() {
			if field.IsMonetary() {
				display = e.format.Format(value.Amount)
			} else {
				display = value.Text
			}
		}
		write(field.Label(), display, p.String())
	}

	split, err := e.rules.EntertainmentSplit(doc.Fields)
	switch {
	case errors.Is(err, receipt.ErrNotComputable):
	case err != nil:
		return nil, fmt.Errorf("failed to compute deduction: %w", err)
	default:
		row++
		heading("Steuerliche Aufteilung", "")
		write("Art der Bewirtung", string(split.Type))
		write("Gesamtbetrag inkl. Trinkgeld", e.format.Format(split.Total))
		write("Abziehbarer Betrag", e.format.Format(split.Deductible))
		write("Nicht abziehbarer Betrag", e.format.Format(split.NonDeductible))
		write("Abziehbare Vorsteuer", e.format.Format(split.DeductibleVat))
	}

	_ = f.SetColWidth(SheetName, "A", "A", 30) // label
	_ = f.SetColWidth(SheetName, "B", "B", 40) // value
	_ = f.SetColWidth(SheetName, "C", "C", 14) // provenance

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}
