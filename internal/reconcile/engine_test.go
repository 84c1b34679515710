package reconcile

import (
	"fmt"
	"sync"
	"testing"

	"github.com/dajor/bewirtungsbeleg-sub003/internal/derivation"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/domain/event"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/domain/receipt"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/locale"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	rules, err := derivation.NewRules(decimal.RequireFromString("0.19"))
	require.NoError(t, err)
	numbers := locale.NewNumberFormat(locale.MustLookup("de-DE"))
	return NewEngine(rules, numbers, zap.NewNop(), opts...)
}

func extracted(source string, fields event.PartialFieldMap) event.UpdateEvent {
	return event.NewUpdateEvent(source, event.KindExtracted, fields)
}

func edited(fields event.PartialFieldMap) event.UpdateEvent {
	return event.NewUpdateEvent("form", event.KindUserEdited, fields)
}

func display(t *testing.T, e *Engine, f receipt.Field) string {
	t.Helper()
	v, _ := e.GetField(f)
	return v
}

type recorderStub struct {
	mu       sync.Mutex
	applied  map[string]int
	rejected []string
}

func (r *recorderStub) EventApplied(kind string, fields int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applied == nil {
		r.applied = map[string]int{}
	}
	r.applied[kind]++
}

func (r *recorderStub) FieldRejected(field string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected = append(r.rejected, field)
}

func TestEngine_GrossOnlyDerivesVatSplit(t *testing.T) {
	e := newEngine(t)

	e.Apply(extracted("invoice", event.PartialFieldMap{"grossInvoiceAmount": "29,90"}))

	assert.Equal(t, "4,77", display(t, e, receipt.FieldInvoiceVat))
	assert.Equal(t, "25,13", display(t, e, receipt.FieldInvoiceNet))

	tip, p := e.GetField(receipt.FieldTipAmount)
	assert.Empty(t, tip)
	assert.Equal(t, receipt.ProvenanceUnset, p)
}

func TestEngine_CardAfterGrossDerivesTip(t *testing.T) {
	e := newEngine(t)

	e.Apply(extracted("invoice", event.PartialFieldMap{"grossInvoiceAmount": "29,90"}))
	e.Apply(extracted("slip", event.PartialFieldMap{"cardOrCashAmount": "35,00"}))

	tip, p := e.GetField(receipt.FieldTipAmount)
	assert.Equal(t, "5,10", tip)
	assert.Equal(t, receipt.ProvenanceDerived, p)
	assert.Equal(t, "0,97", display(t, e, receipt.FieldTipVat))
}

func TestEngine_ArrivalOrderDoesNotMatter(t *testing.T) {
	invoice := extracted("invoice", event.PartialFieldMap{"grossInvoiceAmount": "29,90"})
	slip := extracted("slip", event.PartialFieldMap{"cardOrCashAmount": "35,00"})

	forward := newEngine(t)
	forward.Apply(invoice)
	forward.Apply(slip)

	reverse := newEngine(t)
	reverse.Apply(slip)
	reverse.Apply(invoice)

	assert.True(t, forward.Snapshot().Equal(reverse.Snapshot()))
	assert.Equal(t, "5,10", display(t, reverse, receipt.FieldTipAmount))
	assert.Equal(t, "0,97", display(t, reverse, receipt.FieldTipVat))
}

func TestEngine_EqualAmountsHaveNoTip(t *testing.T) {
	e := newEngine(t)

	e.Apply(extracted("invoice", event.PartialFieldMap{"grossInvoiceAmount": "30,00"}))
	e.Apply(extracted("slip", event.PartialFieldMap{"cardOrCashAmount": "30,00"}))

	assert.False(t, e.Snapshot().IsSet(receipt.FieldTipAmount))
	assert.False(t, e.Snapshot().IsSet(receipt.FieldTipVat))
}

func TestEngine_EmptyExtractionKeepsUserValue(t *testing.T) {
	e := newEngine(t)

	e.Apply(edited(event.PartialFieldMap{"grossInvoiceAmount": "100,00"}))
	e.Apply(extracted("second-file", event.PartialFieldMap{
		"grossInvoiceAmount": "",
		"cardOrCashAmount":   "105,00",
	}))

	gross, p := e.GetField(receipt.FieldGrossInvoiceAmount)
	assert.Equal(t, "100,00", gross)
	assert.Equal(t, receipt.ProvenanceUserEdited, p)
	assert.Equal(t, "5,00", display(t, e, receipt.FieldTipAmount))
}

func TestEngine_ParsesPerActiveLocale(t *testing.T) {
	rules, err := derivation.NewRules(decimal.RequireFromString("0.19"))
	require.NoError(t, err)

	german := NewEngine(rules, locale.NewNumberFormat(locale.MustLookup("de-DE")), zap.NewNop())
	german.Apply(extracted("a", event.PartialFieldMap{"grossInvoiceAmount": "1.234,56"}))
	german.Apply(extracted("b", event.PartialFieldMap{"cardOrCashAmount": "1,234.56"}))
	assert.Equal(t, "1234,56", display(t, german, receipt.FieldGrossInvoiceAmount))
	assert.False(t, german.Snapshot().IsSet(receipt.FieldCardOrCashAmount))

	english := NewEngine(rules,
		locale.NewNumberFormat(locale.MustLookup("en-US")),
		zap.NewNop(),
		WithDisplayFormat(locale.NewNumberFormat(locale.MustLookup("de-DE"))))
	english.Apply(extracted("a", event.PartialFieldMap{"grossInvoiceAmount": "1,234.56"}))
	assert.Equal(t, "1234,56", display(t, english, receipt.FieldGrossInvoiceAmount))
}

func TestEngine_NonErasure(t *testing.T) {
	e := newEngine(t)

	e.Apply(extracted("invoice", event.PartialFieldMap{
		"grossInvoiceAmount": "51,90",
		"restaurantName":     "Trattoria Roma",
		"date":               "14.03.2025",
	}))
	e.Apply(edited(event.PartialFieldMap{"participants": "Max Mustermann, Erika Musterfrau"}))
	before := e.Snapshot()

	e.Apply(extracted("blank", event.PartialFieldMap{
		"grossInvoiceAmount": "",
		"restaurantName":     "   ",
		"date":               "",
		"participants":       "",
	}))
	e.Apply(extracted("failed", nil))

	assert.True(t, before.Equal(e.Snapshot()))
}

func TestEngine_LaterAuthoritativeWriteWins(t *testing.T) {
	e := newEngine(t)

	e.Apply(edited(event.PartialFieldMap{"grossInvoiceAmount": "100,00"}))
	e.Apply(extracted("rescan", event.PartialFieldMap{"grossInvoiceAmount": "110,00"}))

	gross, p := e.GetField(receipt.FieldGrossInvoiceAmount)
	assert.Equal(t, "110,00", gross)
	assert.Equal(t, receipt.ProvenanceExtracted, p)
}

func TestEngine_DerivedFieldsFollowLatestInputs(t *testing.T) {
	e := newEngine(t)

	e.Apply(extracted("invoice", event.PartialFieldMap{"grossInvoiceAmount": "29,90"}))
	e.Apply(extracted("slip", event.PartialFieldMap{"cardOrCashAmount": "35,00"}))
	require.Equal(t, "5,10", display(t, e, receipt.FieldTipAmount))

	e.Apply(edited(event.PartialFieldMap{"grossInvoiceAmount": "35,00"}))

	assert.False(t, e.Snapshot().IsSet(receipt.FieldTipAmount))
	assert.False(t, e.Snapshot().IsSet(receipt.FieldTipVat))
	assert.Equal(t, "5,59", display(t, e, receipt.FieldInvoiceVat))
}

func TestEngine_Idempotent(t *testing.T) {
	e := newEngine(t)
	evt := extracted("invoice", event.PartialFieldMap{
		"grossInvoiceAmount": "29,90",
		"cardOrCashAmount":   "35,00",
		"restaurantName":     "Zum Löwen",
	})

	once := e.Apply(evt)
	twice := e.Apply(evt)

	assert.True(t, once.Equal(twice))
}

func TestEngine_UnparseableValueIsAbsent(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	rec := &recorderStub{}
	rules, err := derivation.NewRules(decimal.RequireFromString("0.19"))
	require.NoError(t, err)
	e := NewEngine(rules, locale.NewNumberFormat(locale.MustLookup("de-DE")), zap.New(core), WithRecorder(rec))

	e.Apply(extracted("invoice", event.PartialFieldMap{"grossInvoiceAmount": "29,90"}))
	state := e.Apply(extracted("noisy", event.PartialFieldMap{
		"grossInvoiceAmount": "abc",
		"cardOrCashAmount":   "-5,00",
		"restaurantName":     "Bella Vista",
	}))

	assert.Equal(t, "29,90", display(t, e, receipt.FieldGrossInvoiceAmount))
	assert.False(t, state.IsSet(receipt.FieldCardOrCashAmount))
	assert.Equal(t, "Bella Vista", display(t, e, receipt.FieldRestaurantName))
	assert.Equal(t, 2, logs.FilterMessage("Treating unparseable value as absent").Len())
	assert.ElementsMatch(t, []string{"grossInvoiceAmount", "cardOrCashAmount"}, rec.rejected)
	assert.Equal(t, 2, rec.applied["extracted"])
}

func TestEngine_NormalizesDescriptiveFields(t *testing.T) {
	e := newEngine(t)

	e.Apply(extracted("invoice", event.PartialFieldMap{
		"datum":             "2025-03-14",
		"bewirtungsart":     "Mitarbeiter",
		"zahlungsart":       "Privat",
		"restaurantAddress": "Hauptstr. 1\n  80331 <b>München</b>",
		"unknownField":      "ignored",
	}))

	assert.Equal(t, "14.03.2025", display(t, e, receipt.FieldDate))
	assert.Equal(t, string(receipt.EntertainmentEmployees), display(t, e, receipt.FieldEntertainmentType))
	assert.Equal(t, string(receipt.PaymentPrivate), display(t, e, receipt.FieldPaymentMethod))
	assert.Equal(t, "Hauptstr. 1 80331 München", display(t, e, receipt.FieldRestaurantAddress))
	assert.Equal(t, 4, e.Snapshot().Len())
}

func TestEngine_InvalidKindIsIgnored(t *testing.T) {
	e := newEngine(t)

	state := e.Apply(event.NewUpdateEvent("x", event.Kind("derived"), event.PartialFieldMap{"grossInvoiceAmount": "10,00"}))

	assert.Equal(t, 0, state.Len())
}

func TestEngine_ListenersSeeEveryChange(t *testing.T) {
	var changes []Change
	e := newEngine(t, WithListener(func(c Change) {
		changes = append(changes, c)
	}))

	e.Apply(extracted("invoice", event.PartialFieldMap{"grossInvoiceAmount": "29,90", "cardOrCashAmount": "x"}))
	e.Reset()

	require.Len(t, changes, 2)
	assert.Equal(t, []receipt.Field{receipt.FieldGrossInvoiceAmount}, changes[0].Applied)
	assert.Equal(t, []receipt.Field{receipt.FieldCardOrCashAmount}, changes[0].Rejected)
	assert.Equal(t, "invoice", changes[0].Update.SourceID)
	assert.True(t, changes[1].Reset)
	assert.Equal(t, 0, changes[1].State.Len())
}

func TestEngine_MergeReportsOwnOutcome(t *testing.T) {
	var e *Engine
	e = newEngine(t, WithListener(func(c Change) {
		// an OCR page landing right after the user edit
		if c.Update.SourceID == "user" {
			e.Apply(extracted("ocr#p1", event.PartialFieldMap{"grossInvoiceAmount": "50,00", "date": "01.02.2025"}))
		}
	}))

	change := e.Merge(event.NewUpdateEvent("user", event.KindUserEdited, event.PartialFieldMap{
		"gesamtbetrag": "100,00",
		"datum":        "gestern",
	}))

	assert.Equal(t, []receipt.Field{receipt.FieldGrossInvoiceAmount}, change.Applied)
	assert.Equal(t, []receipt.Field{receipt.FieldDate}, change.Rejected)
	v, p := change.State.Get(receipt.FieldGrossInvoiceAmount)
	assert.True(t, v.Amount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, receipt.ProvenanceUserEdited, p)

	_, p = e.Snapshot().Get(receipt.FieldGrossInvoiceAmount)
	assert.Equal(t, receipt.ProvenanceExtracted, p)
}

func TestEngine_Reset(t *testing.T) {
	e := newEngine(t)
	e.Apply(extracted("invoice", event.PartialFieldMap{"grossInvoiceAmount": "29,90"}))

	state := e.Reset()

	assert.Equal(t, 0, state.Len())
	assert.Equal(t, 0, e.Snapshot().Len())
	assert.ElementsMatch(t, []receipt.Field{
		receipt.FieldGrossInvoiceAmount,
		receipt.FieldInvoiceVat,
		receipt.FieldInvoiceNet,
		receipt.FieldCardOrCashAmount,
	}, e.MissingFinancialFields())
}

func TestEngine_View(t *testing.T) {
	e := newEngine(t)
	e.Apply(extracted("invoice", event.PartialFieldMap{"grossInvoiceAmount": "29,90"}))

	views := e.View()

	require.Len(t, views, len(receipt.AllFields()))
	assert.Equal(t, receipt.FieldGrossInvoiceAmount, views[0].Field)
	assert.Equal(t, "29,90", views[0].Display)
	assert.Equal(t, receipt.ProvenanceExtracted, views[0].Provenance)
	assert.Equal(t, receipt.FieldGrossInvoiceAmount.Label(), views[0].Label)
}

func TestEngine_ConcurrentAppliesConverge(t *testing.T) {
	events := []event.UpdateEvent{
		extracted("invoice", event.PartialFieldMap{"grossInvoiceAmount": "29,90"}),
		extracted("slip", event.PartialFieldMap{"cardOrCashAmount": "35,00"}),
		extracted("header", event.PartialFieldMap{"restaurantName": "Zum Löwen", "date": "14.03.2025"}),
		edited(event.PartialFieldMap{"purpose": "Projektbesprechung"}),
	}

	sequential := newEngine(t)
	for _, evt := range events {
		sequential.Apply(evt)
	}

	for round := 0; round < 20; round++ {
		t.Run(fmt.Sprintf("round %d", round), func(t *testing.T) {
			e := newEngine(t)
			var wg sync.WaitGroup
			for _, evt := range events {
				wg.Add(1)
				go func(evt event.UpdateEvent) {
					defer wg.Done()
					e.Apply(evt)
				}(evt)
			}
			wg.Wait()

			assert.True(t, sequential.Snapshot().Equal(e.Snapshot()))
		})
	}
}
