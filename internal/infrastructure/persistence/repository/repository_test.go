package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dajor/bewirtungsbeleg-sub003/internal/application/port"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/domain/receipt"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/infrastructure/persistence/sqlite"
	"github.com/dajor/bewirtungsbeleg-sub003/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupDB(t *testing.T) *sqlite.DB {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{
		Path:         filepath.Join(t.TempDir(), "receipts.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.NewMigrator(db, logger).RunMigrations(database.Schema()))
	return sqlite.NewDB(db.DB, logger)
}

func sampleReceipt(id string) *port.StoredReceipt {
	return &port.StoredReceipt{
		ID:        id,
		SessionID: "session-" + id,
		Locale:    "de-DE",
		VatRate:   "0.19",
		Fields: []port.StoredField{
			{Field: receipt.FieldGrossInvoiceAmount, Value: "51.20", Provenance: receipt.ProvenanceExtracted},
			{Field: receipt.FieldInvoiceVat, Value: "8.17", Provenance: receipt.ProvenanceDerived},
			{Field: receipt.FieldRestaurantName, Value: "Zum Löwen", Provenance: receipt.ProvenanceUserEdited},
		},
	}
}

func TestReceiptRepository_CreateAndGet(t *testing.T) {
	db := setupDB(t)
	repo := NewReceiptRepository(db, zap.NewNop())
	ctx := context.Background()

	rec := sampleReceipt("r1")
	require.NoError(t, repo.Create(ctx, rec))
	assert.False(t, rec.SubmittedAt.IsZero())

	got, err := repo.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "session-r1", got.SessionID)
	assert.Equal(t, "de-DE", got.Locale)
	assert.Equal(t, rec.Fields, got.Fields)
	assert.WithinDuration(t, rec.SubmittedAt, got.SubmittedAt, time.Second)

	t.Run("duplicate id", func(t *testing.T) {
		err := repo.Create(ctx, sampleReceipt("r1"))
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := repo.GetByID(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestReceiptRepository_CreateRollsBackOnFieldError(t *testing.T) {
	db := setupDB(t)
	repo := NewReceiptRepository(db, zap.NewNop())
	ctx := context.Background()

	rec := sampleReceipt("r2")
	// same field twice violates the primary key
	rec.Fields = append(rec.Fields, rec.Fields[0])
	require.Error(t, repo.Create(ctx, rec))

	_, err := repo.GetByID(ctx, "r2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReceiptRepository_SetExportPathAndList(t *testing.T) {
	db := setupDB(t)
	repo := NewReceiptRepository(db, zap.NewNop())
	ctx := context.Background()

	older := sampleReceipt("a")
	older.SubmittedAt = time.Now().Add(-time.Hour)
	newer := sampleReceipt("b")
	newer.SubmittedAt = time.Now()
	require.NoError(t, repo.Create(ctx, older))
	require.NoError(t, repo.Create(ctx, newer))

	require.NoError(t, repo.SetExportPath(ctx, "a", "/exports/a.xlsx"))
	assert.ErrorIs(t, repo.SetExportPath(ctx, "missing", "/x"), ErrNotFound)

	list, err := repo.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID)
	assert.Equal(t, "/exports/a.xlsx", list[1].ExportPath)

	page, err := repo.List(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].ID)
}

func TestHistoryRepository_AppendAndGet(t *testing.T) {
	db := setupDB(t)
	repo := NewHistoryRepository(db, zap.NewNop())
	ctx := context.Background()

	first := &port.HistoryEntry{
		EventID:   "e1",
		SessionID: "s1",
		SourceID:  "u1#p1",
		EventType: "receipt.updated",
		Payload:   map[string]string{"grossInvoiceAmount": "51,20"},
	}
	second := &port.HistoryEntry{EventID: "e2", SessionID: "s1", EventType: "receipt.reset"}
	other := &port.HistoryEntry{EventID: "e3", SessionID: "s2", EventType: "receipt.reset"}

	for _, e := range []*port.HistoryEntry{first, second, other} {
		require.NoError(t, repo.Append(ctx, e))
	}
	assert.NotZero(t, first.ID)

	// replayed delivery
	require.NoError(t, repo.Append(ctx, &port.HistoryEntry{EventID: "e1", SessionID: "s1", EventType: "receipt.updated"}))

	entries, err := repo.GetBySessionID(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "e1", entries[0].EventID)
	assert.Equal(t, "u1#p1", entries[0].SourceID)
	assert.Equal(t, "51,20", entries[0].Payload["grossInvoiceAmount"])
	assert.Equal(t, "receipt.reset", entries[1].EventType)
}

func TestDB_WithTransactionNested(t *testing.T) {
	db := setupDB(t)
	repo := NewHistoryRepository(db, zap.NewNop())
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.WithTransaction(ctx, func(ctx context.Context) error {
		if err := repo.Append(ctx, &port.HistoryEntry{EventID: "x1", SessionID: "s", EventType: "receipt.reset"}); err != nil {
			return err
		}
		return db.WithTransaction(ctx, func(ctx context.Context) error {
			return boom
		})
	})
	assert.ErrorIs(t, err, boom)

	entries, err := repo.GetBySessionID(ctx, "s")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
