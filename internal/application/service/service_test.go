package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dajor/bewirtungsbeleg-sub003/internal/application/dispatcher"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/application/port"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/derivation"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/domain/event"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/domain/receipt"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/export"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/locale"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/session"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockReceiptRepo struct {
	mu            sync.Mutex
	created       map[string]*port.StoredReceipt
	createFunc    func(ctx context.Context, r *port.StoredReceipt) error
	exportPathErr error
}

func newMockReceiptRepo() *mockReceiptRepo {
	return &mockReceiptRepo{created: make(map[string]*port.StoredReceipt)}
}

func (m *mockReceiptRepo) Create(ctx context.Context, r *port.StoredReceipt) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, r)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *r
	m.created[r.ID] = &copied
	return nil
}

func (m *mockReceiptRepo) GetByID(ctx context.Context, id string) (*port.StoredReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.created[id]
	if !ok {
		return nil, errors.New("not found")
	}
	copied := *r
	return &copied, nil
}

func (m *mockReceiptRepo) SetExportPath(ctx context.Context, id, path string) error {
	if m.exportPathErr != nil {
		return m.exportPathErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created[id].ExportPath = path
	return nil
}

func (m *mockReceiptRepo) List(ctx context.Context, limit, offset int) ([]*port.StoredReceipt, error) {
	return nil, nil
}

type mockHistoryRepo struct {
	mu      sync.Mutex
	entries []*port.HistoryEntry
	err     error
}

func (m *mockHistoryRepo) Append(ctx context.Context, entry *port.HistoryEntry) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockHistoryRepo) GetBySessionID(ctx context.Context, sessionID string) ([]*port.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*port.HistoryEntry
	for _, e := range m.entries {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

type mockExporter struct {
	writeFunc func(ctx context.Context, doc export.Document) (string, error)
	docs      []export.Document
}

func (m *mockExporter) Write(ctx context.Context, doc export.Document) (string, error) {
	m.docs = append(m.docs, doc)
	if m.writeFunc != nil {
		return m.writeFunc(ctx, doc)
	}
	return "/exports/" + doc.ReceiptID + ".xlsx", nil
}

func (m *mockExporter) Render(doc export.Document) ([]byte, error) {
	m.docs = append(m.docs, doc)
	return []byte("rendered " + doc.ReceiptID), nil
}

type mockFiles struct {
	content map[string][]byte
}

func (m *mockFiles) ReadFile(path string) ([]byte, error) {
	if c, ok := m.content[path]; ok {
		return c, nil
	}
	return nil, errors.New("missing")
}

type publisherStub struct {
	mu     sync.Mutex
	events []*event.Event
}

func (p *publisherStub) DispatchAsync(ctx context.Context, evt *event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

type counterStub struct{ n int }

func (c *counterStub) ReceiptSubmitted() { c.n++ }

func newSessions(t *testing.T) *session.Manager {
	t.Helper()
	rules, err := derivation.NewRules(decimal.RequireFromString("0.19"))
	require.NoError(t, err)
	m := session.NewManager(session.Config{}, session.Dependencies{
		Rules: rules,
		Input: locale.NewNumberFormat(locale.MustLookup("de-DE")),
	}, zap.NewNop())
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func completeSession(t *testing.T, sessions *session.Manager) *session.Session {
	t.Helper()
	s, err := sessions.Create()
	require.NoError(t, err)
	s.Engine().Apply(event.NewUpdateEvent("ocr", event.KindExtracted, event.PartialFieldMap{
		"grossInvoiceAmount": "51,20",
		"restaurantName":     "Zum Löwen",
		"date":               "03.05.2024",
	}))
	s.Engine().Apply(event.NewUpdateEvent("user", event.KindUserEdited, event.PartialFieldMap{
		"participants": "Anna, Ben",
		"purpose":      "Projektabschluss",
	}))
	return s
}

func TestSubmissionService_Submit(t *testing.T) {
	sessions := newSessions(t)
	repo := newMockReceiptRepo()
	exporter := &mockExporter{}
	publisher := &publisherStub{}
	counter := &counterStub{}
	svc := NewSubmissionService(SubmissionConfig{Locale: "de-DE", VatRate: "0.19"},
		sessions, repo, exporter, publisher, counter, zap.NewNop())

	s := completeSession(t, sessions)

	rec, err := svc.Submit(context.Background(), s.ID)
	require.NoError(t, err)

	assert.Equal(t, s.ID, rec.SessionID)
	assert.Equal(t, "/exports/"+rec.ID+".xlsx", rec.ExportPath)
	assert.Equal(t, "de-DE", rec.Locale)

	stored, err := repo.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ExportPath, stored.ExportPath)
	assert.Contains(t, stored.Fields, port.StoredField{Field: receipt.FieldGrossInvoiceAmount, Value: "51.20", Provenance: receipt.ProvenanceExtracted})
	assert.Contains(t, stored.Fields, port.StoredField{Field: receipt.FieldInvoiceVat, Value: "8.17", Provenance: receipt.ProvenanceDerived})
	assert.Contains(t, stored.Fields, port.StoredField{Field: receipt.FieldPurpose, Value: "Projektabschluss", Provenance: receipt.ProvenanceUserEdited})

	require.Len(t, exporter.docs, 1)
	assert.Equal(t, rec.ID, exporter.docs[0].ReceiptID)

	_, err = sessions.Get(s.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, event.TypeReceiptSubmitted, publisher.events[0].Type)
	assert.Equal(t, rec.ID, publisher.events[0].GetPayloadString("receipt_id"))
	assert.Equal(t, 1, counter.n)
}

func TestSubmissionService_SubmitErrors(t *testing.T) {
	t.Run("unknown session", func(t *testing.T) {
		svc := NewSubmissionService(SubmissionConfig{}, newSessions(t), newMockReceiptRepo(), nil, nil, nil, zap.NewNop())
		_, err := svc.Submit(context.Background(), "nope")
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("incomplete receipt keeps the session", func(t *testing.T) {
		sessions := newSessions(t)
		repo := newMockReceiptRepo()
		svc := NewSubmissionService(SubmissionConfig{}, sessions, repo, nil, nil, nil, zap.NewNop())

		s, err := sessions.Create()
		require.NoError(t, err)
		s.Engine().Apply(event.NewUpdateEvent("ocr", event.KindExtracted, event.PartialFieldMap{"grossInvoiceAmount": "10,00"}))

		_, err = svc.Submit(context.Background(), s.ID)
		assert.ErrorIs(t, err, receipt.ErrIncomplete)
		assert.Contains(t, err.Error(), "restaurantName")
		assert.Empty(t, repo.created)

		_, err = sessions.Get(s.ID)
		assert.NoError(t, err)
	})

	t.Run("store failure keeps the session", func(t *testing.T) {
		sessions := newSessions(t)
		repo := newMockReceiptRepo()
		repo.createFunc = func(ctx context.Context, r *port.StoredReceipt) error { return errors.New("disk full") }
		svc := NewSubmissionService(SubmissionConfig{}, sessions, repo, nil, nil, nil, zap.NewNop())

		s := completeSession(t, sessions)
		_, err := svc.Submit(context.Background(), s.ID)
		assert.Error(t, err)

		_, err = sessions.Get(s.ID)
		assert.NoError(t, err)
	})

	t.Run("export failure still submits", func(t *testing.T) {
		sessions := newSessions(t)
		exporter := &mockExporter{writeFunc: func(ctx context.Context, doc export.Document) (string, error) {
			return "", errors.New("no space")
		}}
		svc := NewSubmissionService(SubmissionConfig{}, sessions, newMockReceiptRepo(), exporter, nil, nil, zap.NewNop())

		s := completeSession(t, sessions)
		rec, err := svc.Submit(context.Background(), s.ID)
		require.NoError(t, err)
		assert.Empty(t, rec.ExportPath)
	})
}

func TestStoredFieldsRoundTrip(t *testing.T) {
	sessions := newSessions(t)
	s := completeSession(t, sessions)
	state := s.Engine().Snapshot()

	stored := StoredFields(state)
	assert.Equal(t, receipt.FieldGrossInvoiceAmount, stored[0].Field)

	rebuilt, err := FieldSetFromStored(stored)
	require.NoError(t, err)
	assert.True(t, state.Equal(rebuilt))

	_, err = FieldSetFromStored([]port.StoredField{{Field: "bogus", Value: "x", Provenance: receipt.ProvenanceExtracted}})
	assert.ErrorIs(t, err, receipt.ErrUnknownField)

	_, err = FieldSetFromStored([]port.StoredField{{Field: receipt.FieldTipAmount, Value: "abc", Provenance: receipt.ProvenanceExtracted}})
	assert.Error(t, err)
}

func TestReceiptService(t *testing.T) {
	ctx := context.Background()
	repo := newMockReceiptRepo()
	history := &mockHistoryRepo{}
	files := &mockFiles{content: map[string][]byte{"/exports/with.xlsx": []byte("stored")}}
	renderer := &mockExporter{}
	svc := NewReceiptService(repo, history, files, renderer, zap.NewNop())

	require.NoError(t, repo.Create(ctx, &port.StoredReceipt{ID: "with", SessionID: "s1", ExportPath: "/exports/with.xlsx"}))
	require.NoError(t, repo.Create(ctx, &port.StoredReceipt{ID: "gone", SessionID: "s2", ExportPath: "/exports/gone.xlsx",
		Fields: []port.StoredField{{Field: receipt.FieldGrossInvoiceAmount, Value: "10.00", Provenance: receipt.ProvenanceUserEdited}}}))
	require.NoError(t, history.Append(ctx, &port.HistoryEntry{EventID: "e1", SessionID: "s1", EventType: "receipt.updated"}))
	require.NoError(t, history.Append(ctx, &port.HistoryEntry{EventID: "e2", SessionID: "s2", EventType: "receipt.updated"}))

	t.Run("stored export", func(t *testing.T) {
		content, err := svc.Export(ctx, "with")
		require.NoError(t, err)
		assert.Equal(t, []byte("stored"), content)
	})

	t.Run("missing export is rendered", func(t *testing.T) {
		content, err := svc.Export(ctx, "gone")
		require.NoError(t, err)
		assert.Equal(t, []byte("rendered gone"), content)
		last := renderer.docs[len(renderer.docs)-1]
		assert.True(t, last.Fields.IsSet(receipt.FieldGrossInvoiceAmount))
	})

	t.Run("no renderer", func(t *testing.T) {
		bare := NewReceiptService(repo, history, files, nil, zap.NewNop())
		_, err := bare.Export(ctx, "gone")
		assert.ErrorIs(t, err, ErrNoExport)
	})

	t.Run("history of the receipt's session", func(t *testing.T) {
		entries, err := svc.History(ctx, "with")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "e1", entries[0].EventID)
	})

	t.Run("unknown receipt", func(t *testing.T) {
		_, err := svc.History(ctx, "nope")
		assert.Error(t, err)
	})
}

func TestHistoryRecorder(t *testing.T) {
	repo := &mockHistoryRepo{}
	d := dispatcher.NewDispatcher(dispatcher.WithLogger(zap.NewNop()))
	defer d.Close()

	SubscribeHistory(d, repo, zap.NewNop())
	for _, typ := range RecordedEventTypes {
		require.NoError(t, d.Dispatch(context.Background(), event.NewEvent(typ, "s0", "u0", nil)), typ)
	}
	recorded, err := repo.GetBySessionID(context.Background(), "s0")
	require.NoError(t, err)
	require.Len(t, recorded, len(RecordedEventTypes))

	evt := event.NewEvent(event.TypeReceiptUpdated, "s1", "u1#p1", map[string]interface{}{
		"grossInvoiceAmount": "51,20",
		"fields":             3,
	})
	require.NoError(t, d.Dispatch(context.Background(), evt))

	entries, err := repo.GetBySessionID(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, evt.ID, entries[0].EventID)
	assert.Equal(t, "u1#p1", entries[0].SourceID)
	assert.Equal(t, "3", entries[0].Payload["fields"])
	assert.Equal(t, evt.Timestamp, entries[0].CreatedAt)

	t.Run("append failure is returned", func(t *testing.T) {
		handler := NewHistoryRecorder(&mockHistoryRepo{err: errors.New("locked")}, zap.NewNop())
		err := handler(context.Background(), evt)
		assert.Error(t, err)
	})
}
