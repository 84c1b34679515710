package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dajor/bewirtungsbeleg-sub003/internal/application/port"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// DefaultMinConfidence is the classification confidence below which a page
// is treated as combined
const DefaultMinConfidence = 0.6

// ConfidenceThreshold decides when a classification is trusted
type ConfidenceThreshold struct {
	MinConfidence float64
}

// Validate checks the threshold is within [0, 1]
func (ct ConfidenceThreshold) Validate() error {
	if ct.MinConfidence < 0.0 || ct.MinConfidence > 1.0 {
		return fmt.Errorf("MinConfidence must be between 0.0 and 1.0, got %.2f", ct.MinConfidence)
	}
	return nil
}

// Route returns the kind to extract with. Unknown or low confidence
// results fall back to combined so every field is asked for.
func (ct ConfidenceThreshold) Route(c *port.Classification) port.DocumentKind {
	if c == nil || c.Kind == "" || c.Kind == port.DocumentCombined {
		return port.DocumentCombined
	}
	if c.Confidence < ct.MinConfidence {
		return port.DocumentCombined
	}
	return c.Kind
}

type classificationReply struct {
	Type       string      `json:"type"`
	Confidence json.Number `json:"confidence"`
	Reason     string      `json:"reason"`
}

// Classifier implements port.DocumentClassifier with a vision model
type Classifier struct {
	client    *Client
	prompt    Prompt
	threshold ConfidenceThreshold
	logger    *zap.Logger
}

// NewClassifier creates a classifier
func NewClassifier(client *Client, prompts *PromptConfig, threshold ConfidenceThreshold, logger *zap.Logger) (*Classifier, error) {
	if err := threshold.Validate(); err != nil {
		return nil, fmt.Errorf("invalid confidence threshold: %w", err)
	}
	return &Classifier{
		client:    client,
		prompt:    prompts.Classification,
		threshold: threshold,
		logger:    logger,
	}, nil
}

// Classify asks the model which kind of document the page shows. The
// returned kind is already routed through the confidence threshold.
func (c *Classifier) Classify(ctx context.Context, page port.Page) (*port.Classification, error) {
	text, err := renderTemplate(c.prompt.UserTemplate, map[string]interface{}{"FileName": ""})
	if err != nil {
		return nil, fmt.Errorf("failed to render classification prompt: %w", err)
	}

	content, err := c.client.Complete(ctx, "classify", openai.ChatCompletionRequest{
		Temperature: c.prompt.Temperature,
		MaxTokens:   c.prompt.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.prompt.System},
			{Role: openai.ChatMessageRoleUser, MultiContent: imageMessage(text, page, openai.ImageURLDetailLow)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, err
	}

	var reply classificationReply
	if err := decodeResponse(content, classificationValidator, &reply); err != nil {
		c.logger.Error("Failed to parse classification response",
			zap.Error(err),
			zap.String("content", content))
		return nil, err
	}

	confidence, _ := reply.Confidence.Float64()
	result := &port.Classification{
		Kind:       parseKind(reply.Type),
		Confidence: confidence,
		Reason:     reply.Reason,
	}
	routed := c.threshold.Route(result)
	if routed != result.Kind {
		c.logger.Info("Classification below threshold, extracting all fields",
			zap.Int("page", page.Number),
			zap.String("type", reply.Type),
			zap.Float64("confidence", confidence))
		result.Kind = routed
	}

	c.logger.Debug("Page classified",
		zap.Int("page", page.Number),
		zap.String("kind", result.Kind.String()),
		zap.Float64("confidence", confidence))

	return result, nil
}

func parseKind(s string) port.DocumentKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "invoice", "rechnung":
		return port.DocumentInvoice
	case "payment_slip", "kundenbeleg", "kreditkartenbeleg", "receipt":
		return port.DocumentPaymentSlip
	case "combined", "kombiniert":
		return port.DocumentCombined
	}
	return ""
}

func imageMessage(text string, page port.Page, detail openai.ImageURLDetail) []openai.ChatMessagePart {
	return []openai.ChatMessagePart{
		{
			Type: openai.ChatMessagePartTypeText,
			Text: text,
		},
		{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    fmt.Sprintf("data:%s;base64,%s", page.MimeType, base64.StdEncoding.EncodeToString(page.Data)),
				Detail: detail,
			},
		},
	}
}
