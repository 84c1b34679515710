package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dajor/bewirtungsbeleg-sub003/internal/application/port"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/domain/event"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/domain/receipt"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/locale"
	"github.com/shopspring/decimal"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

var kindLabels = map[port.DocumentKind]string{
	port.DocumentInvoice:     "eine Restaurantrechnung",
	port.DocumentPaymentSlip: "ein Kartenzahlungsbeleg",
	port.DocumentCombined:    "eine Restaurantrechnung mit Zahlungsbeleg",
}

type fieldPrompt struct {
	Name  string
	Label string
}

// Extractor implements port.FieldExtractor with a vision model
type Extractor struct {
	client  *Client
	prompt  Prompt
	numbers *locale.NumberFormat
	logger  *zap.Logger
}

// NewExtractor creates an extractor; amounts are requested in the given locale
func NewExtractor(client *Client, prompts *PromptConfig, numbers *locale.NumberFormat, logger *zap.Logger) *Extractor {
	return &Extractor{
		client:  client,
		prompt:  prompts.Extraction,
		numbers: numbers,
		logger:  logger,
	}
}

// Extract reads the fields expected for kind from one page. Keys the model
// invents and fields the page kind does not carry are dropped, German key
// names are mapped to field names. On a payment slip a reported total is the
// paid amount, never the invoice gross.
func (e *Extractor) Extract(ctx context.Context, page port.Page, kind port.DocumentKind) (event.PartialFieldMap, error) {
	text, err := e.renderPrompt(kind)
	if err != nil {
		return nil, err
	}

	content, err := e.client.Complete(ctx, "extract", openai.ChatCompletionRequest{
		Temperature: e.prompt.Temperature,
		MaxTokens:   e.prompt.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: e.prompt.System},
			{Role: openai.ChatMessageRoleUser, MultiContent: imageMessage(text, page, openai.ImageURLDetailHigh)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, err
	}

	var reply map[string]interface{}
	if err := decodeResponse(content, extractionValidator, &reply); err != nil {
		e.logger.Error("Failed to parse extraction response",
			zap.Error(err),
			zap.String("content", content))
		return nil, err
	}

	fields := e.toFieldMap(reply, kind)

	e.logger.Info("Fields extracted",
		zap.Int("page", page.Number),
		zap.String("kind", kind.String()),
		zap.Int("fields", len(fields)))

	return fields, nil
}

func (e *Extractor) renderPrompt(kind port.DocumentKind) (string, error) {
	label, ok := kindLabels[kind]
	if !ok {
		label = kindLabels[port.DocumentCombined]
	}

	var fields []fieldPrompt
	for _, f := range kind.Fields() {
		fields = append(fields, fieldPrompt{Name: f.String(), Label: f.Label()})
	}

	text, err := renderTemplate(e.prompt.UserTemplate, map[string]interface{}{
		"KindLabel":        label,
		"Fields":           fields,
		"DecimalSeparator": string(e.numbers.Locale().DecimalSeparator),
	})
	if err != nil {
		return "", fmt.Errorf("failed to render extraction prompt: %w", err)
	}
	return text, nil
}

func (e *Extractor) toFieldMap(reply map[string]interface{}, kind port.DocumentKind) event.PartialFieldMap {
	values := make(map[receipt.Field]string, len(reply))
	for key, raw := range reply {
		field, ok := receipt.ParseField(key)
		if !ok {
			e.logger.Debug("Dropping unknown extracted key", zap.String("key", key))
			continue
		}

		var value string
		switch v := raw.(type) {
		case string:
			value = strings.TrimSpace(v)
		case json.Number:
			d, err := decimal.NewFromString(v.String())
			if err != nil {
				continue
			}
			if field.IsMonetary() {
				value = e.numbers.Format(d)
			} else {
				value = d.String()
			}
		}

		if value == "" {
			continue
		}
		values[field] = value
	}

	if kind == port.DocumentPaymentSlip {
		if total, ok := values[receipt.FieldGrossInvoiceAmount]; ok {
			if _, hasCard := values[receipt.FieldCardOrCashAmount]; !hasCard {
				values[receipt.FieldCardOrCashAmount] = total
			}
		}
	}

	fields := event.PartialFieldMap{}
	for _, f := range kind.Fields() {
		if v, ok := values[f]; ok {
			fields[f.String()] = v
			delete(values, f)
		}
	}
	for f := range values {
		e.logger.Debug("Dropping field not carried by page kind",
			zap.String("field", f.String()),
			zap.String("kind", kind.String()))
	}
	return fields
}
