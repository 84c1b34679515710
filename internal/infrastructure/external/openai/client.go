package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrEmptyResponse is returned when the supplier answers without choices
	ErrEmptyResponse = errors.New("no response from OpenAI")

	// ErrSupplierUnavailable is returned while the circuit breaker is open
	ErrSupplierUnavailable = errors.New("OCR supplier unavailable")

	// ErrInvalidResponse is returned when a reply is not the expected JSON
	ErrInvalidResponse = errors.New("invalid supplier response")
)

// ChatCompleter is the part of the go-openai client used here
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Observer receives supplier call measurements
type Observer interface {
	ObserveSupplierCall(operation string, elapsed time.Duration, err error)
	SupplierBreakerChanged(from, to string)
}

// ClientConfig configures the supplier client
type ClientConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	RequestsPerMinute int
	Burst             int
	BreakerFailures   uint32
	BreakerCooldown   time.Duration
}

// Client throttles supplier calls and trips a breaker after repeated failures
type Client struct {
	api      ChatCompleter
	model    string
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker[openai.ChatCompletionResponse]
	observer Observer
	logger   *zap.Logger
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithObserver sets the metrics observer
func WithObserver(o Observer) ClientOption {
	return func(c *Client) {
		c.observer = o
	}
}

// NewClient creates a client talking to the OpenAI API
func NewClient(cfg ClientConfig, logger *zap.Logger, opts ...ClientOption) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	return NewClientWithAPI(openai.NewClientWithConfig(apiCfg), cfg, logger, opts...)
}

// NewClientWithAPI creates a client on top of any ChatCompleter
func NewClientWithAPI(api ChatCompleter, cfg ClientConfig, logger *zap.Logger, opts ...ClientOption) *Client {
	c := &Client{
		api:    api,
		model:  cfg.Model,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(limit, burst)

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	c.breaker = gobreaker.NewCircuitBreaker[openai.ChatCompletionResponse](gobreaker.Settings{
		Name:        "openai",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// cancellations are the caller's doing, not a supplier fault
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("OCR circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if c.observer != nil {
				c.observer.SupplierBreakerChanged(from.String(), to.String())
			}
		},
	})

	return c
}

// Model returns the configured model name
func (c *Client) Model() string {
	return c.model
}

// Complete sends one chat completion and returns the first choice's content
func (c *Client) Complete(ctx context.Context, operation string, req openai.ChatCompletionRequest) (string, error) {
	if req.Model == "" {
		req.Model = c.model
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("failed to wait for rate limiter: %w", err)
	}

	start := time.Now()
	resp, err := c.breaker.Execute(func() (openai.ChatCompletionResponse, error) {
		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err != nil {
			return resp, err
		}
		if len(resp.Choices) == 0 {
			return resp, ErrEmptyResponse
		}
		return resp, nil
	})
	elapsed := time.Since(start)

	if c.observer != nil {
		c.observer.ObserveSupplierCall(operation, elapsed, err)
	}

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("%w: %v", ErrSupplierUnavailable, err)
		}
		c.logger.Error("OpenAI API call failed",
			zap.String("operation", operation),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}

	c.logger.Debug("OpenAI API call completed",
		zap.String("operation", operation),
		zap.Duration("elapsed", elapsed),
		zap.Int("total_tokens", resp.Usage.TotalTokens))

	return resp.Choices[0].Message.Content, nil
}
