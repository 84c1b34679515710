package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Expirer ends idle sessions; session.Manager implements it
type Expirer interface {
	ExpireIdle(now time.Time) int
}

// SessionJanitor periodically expires idle sessions
type SessionJanitor struct {
	sessions Expirer
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSessionJanitor creates a janitor running every interval
func NewSessionJanitor(sessions Expirer, interval time.Duration, logger *zap.Logger) *SessionJanitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SessionJanitor{
		sessions: sessions,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Start starts the sweep loop
func (j *SessionJanitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.isRunning {
		return fmt.Errorf("session janitor is already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})
	j.isRunning = true

	j.logger.Info("SessionJanitor started", zap.Duration("interval", j.interval))

	go j.loop(loopCtx, j.done)
	return nil
}

// Stop stops the loop and waits for a running sweep
func (j *SessionJanitor) Stop() {
	j.mu.Lock()
	if !j.isRunning {
		j.mu.Unlock()
		return
	}
	j.isRunning = false
	j.cancel()
	done := j.done
	j.mu.Unlock()

	<-done
	j.logger.Info("SessionJanitor stopped")
}

// Name returns the worker name for identification
func (j *SessionJanitor) Name() string {
	return "SessionJanitor"
}

func (j *SessionJanitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep()
		}
	}
}

// Sweep expires idle sessions once
func (j *SessionJanitor) Sweep() int {
	n := j.sessions.ExpireIdle(j.now())
	if n > 0 {
		j.logger.Info("Expired idle sessions", zap.Int("count", n))
	}
	return n
}
