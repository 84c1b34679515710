package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dajor/bewirtungsbeleg-sub003/internal/application/port"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/domain/event"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/domain/receipt"
	"github.com/dajor/bewirtungsbeleg-sub003/internal/domain/workflow"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Applier merges update events; reconcile.Engine implements it
type Applier interface {
	Apply(evt event.UpdateEvent) receipt.FieldSet
}

// Publisher delivers notifications without blocking
type Publisher interface {
	DispatchAsync(ctx context.Context, evt *event.Event)
}

// Recorder counts finished uploads
type Recorder interface {
	UploadFinished(state string)
}

// Config bounds the work of one orchestrator
type Config struct {
	MaxConcurrent int
	Timeout       time.Duration
}

// Dependencies are the collaborators of an orchestrator. Archiver,
// Publisher and Recorder are optional.
type Dependencies struct {
	Converter  port.DocumentConverter
	Classifier port.DocumentClassifier
	Extractor  port.FieldExtractor
	Applier    Applier
	Archiver   port.UploadArchiver
	Publisher  Publisher
	Recorder   Recorder
}

type tracked struct {
	id          string
	name        string
	contentType string
	size        int
	storedPath  string
	machine     workflow.StateMachine
	cancel      context.CancelFunc
	done        chan struct{}

	// guarded by Orchestrator.mu
	removed     bool
	pages       []PageResult
	err         error
	submittedAt time.Time
	finishedAt  time.Time
}

// Orchestrator runs every uploaded file of one receipt through conversion,
// classification and extraction, and applies one update event per page.
// Files are processed concurrently; applies are serialized by the engine
// and by mu, so no result is applied after Remove returns.
type Orchestrator struct {
	sessionID string
	cfg       Config
	deps      Dependencies
	logger    *zap.Logger

	base context.Context
	stop context.CancelFunc
	sem  chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	uploads map[string]*tracked
	order   []string
	closed  bool
}

// NewOrchestrator creates an orchestrator for one session
func NewOrchestrator(sessionID string, cfg Config, deps Dependencies, logger *zap.Logger) *Orchestrator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	base, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		sessionID: sessionID,
		cfg:       cfg,
		deps:      deps,
		logger:    logger.With(zap.String("session_id", sessionID)),
		base:      base,
		stop:      stop,
		sem:       make(chan struct{}, cfg.MaxConcurrent),
		uploads:   make(map[string]*tracked),
	}
}

// Submit validates a file and starts processing it in the background.
// It returns the source ID used for Status and Remove.
func (o *Orchestrator) Submit(ctx context.Context, file File) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if o.isClosed() {
		return "", ErrClosed
	}

	contentType, err := o.deps.Converter.Validate(file.Data)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrInvalidFile, file.Name, err)
	}

	id := uuid.NewString()
	u := &tracked{
		id:          id,
		name:        file.Name,
		contentType: contentType,
		size:        len(file.Data),
		machine:     workflow.NewUploadLifecycle(),
		done:        make(chan struct{}),
		submittedAt: time.Now(),
	}

	if o.deps.Archiver != nil {
		path, err := o.deps.Archiver.Archive(ctx, o.sessionID, id, file.Name, file.Data)
		if err != nil {
			o.logger.Warn("Failed to archive upload",
				zap.String("source_id", id),
				zap.String("file", file.Name),
				zap.Error(err))
		} else {
			u.storedPath = path
		}
	}

	// the per-file timeout starts once a processing slot is taken
	procCtx, cancel := context.WithCancel(o.base)
	u.cancel = cancel

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		cancel()
		return "", ErrClosed
	}
	o.uploads[id] = u
	o.order = append(o.order, id)
	o.wg.Add(1)
	o.mu.Unlock()

	o.logger.Info("Upload accepted",
		zap.String("source_id", id),
		zap.String("file", file.Name),
		zap.String("content_type", contentType),
		zap.Int("size", len(file.Data)))

	go o.process(procCtx, u, file)

	return id, nil
}

func (o *Orchestrator) process(ctx context.Context, u *tracked, file File) {
	defer o.wg.Done()
	defer close(u.done)
	defer u.cancel()

	select {
	case o.sem <- struct{}{}:
		defer func() { <-o.sem }()
	case <-ctx.Done():
		o.finish(u, ctx.Err())
		return
	}

	ctx, cancelTimeout := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancelTimeout()

	if !strings.HasPrefix(u.contentType, "image/") {
		if !o.fire(u, workflow.TriggerConvert) {
			return
		}
	}

	pages, err := o.deps.Converter.Convert(ctx, file.Name, file.Data)
	if err != nil {
		o.finish(u, &ExtractionFailure{SourceID: u.id, Stage: "convert", Err: err})
		return
	}

	for _, page := range pages {
		if !o.fire(u, workflow.TriggerClassify) {
			return
		}
		kind := o.classify(ctx, u, page)
		if err := ctx.Err(); err != nil {
			o.finish(u, err)
			return
		}

		if !o.fire(u, workflow.TriggerExtract) {
			return
		}
		fields, err := o.deps.Extractor.Extract(ctx, page, kind)
		if err != nil {
			o.finish(u, &ExtractionFailure{SourceID: u.id, Stage: "extract", Page: page.Number, Err: err})
			return
		}

		if !o.applyPage(ctx, u, page, kind, fields) {
			o.finish(u, context.Canceled)
			return
		}
	}

	o.finish(u, nil)
}

func (o *Orchestrator) classify(ctx context.Context, u *tracked, page port.Page) port.DocumentKind {
	if o.deps.Classifier == nil {
		return port.DocumentCombined
	}

	result, err := o.deps.Classifier.Classify(ctx, page)
	if err != nil {
		if ctx.Err() == nil {
			o.logger.Warn("Classification failed, extracting all fields",
				zap.String("source_id", u.id),
				zap.Int("page", page.Number),
				zap.Error(err))
		}
		return port.DocumentCombined
	}
	if result.Kind == "" {
		return port.DocumentCombined
	}
	return result.Kind
}

// applyPage merges one page unless the upload was removed meanwhile
func (o *Orchestrator) applyPage(ctx context.Context, u *tracked, page port.Page, kind port.DocumentKind, fields event.PartialFieldMap) bool {
	sourceID := PageSourceID(u.id, page.Number)

	o.mu.Lock()
	defer o.mu.Unlock()

	if u.removed || ctx.Err() != nil {
		o.logger.Info("Discarding result of removed upload",
			zap.String("source_id", sourceID))
		return false
	}

	o.deps.Applier.Apply(event.NewUpdateEvent(sourceID, event.KindExtracted, fields))
	u.pages = append(u.pages, PageResult{
		Number:   page.Number,
		SourceID: sourceID,
		Kind:     kind,
		Fields:   len(fields),
		Applied:  true,
	})
	return true
}

// fire advances the lifecycle; false means the upload was removed
func (o *Orchestrator) fire(u *tracked, trigger workflow.Trigger) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if u.removed {
		return false
	}
	if err := u.machine.Fire(trigger); err != nil {
		o.logger.Debug("Upload lifecycle stopped",
			zap.String("source_id", u.id),
			zap.String("trigger", trigger.String()),
			zap.Error(err))
		return false
	}
	return true
}

func (o *Orchestrator) finish(u *tracked, err error) {
	o.mu.Lock()
	if u.removed || u.machine.State().IsTerminal() {
		o.mu.Unlock()
		return
	}

	trigger := workflow.TriggerApply
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		trigger = workflow.TriggerCancel
	default:
		trigger = workflow.TriggerFail
		u.err = err
	}
	if fireErr := u.machine.Fire(trigger); fireErr != nil {
		o.logger.Error("Failed to finish upload lifecycle",
			zap.String("source_id", u.id),
			zap.Error(fireErr))
	}
	u.finishedAt = time.Now()
	state := u.machine.State()
	pages := len(u.pages)
	o.mu.Unlock()

	switch state {
	case workflow.StateApplied:
		o.logger.Info("Upload applied",
			zap.String("source_id", u.id),
			zap.Int("pages", pages))
		o.publish(event.TypeUploadApplied, u, map[string]interface{}{"pages": pages, "file": u.name})
	case workflow.StateFailed:
		o.logger.Warn("Upload failed",
			zap.String("source_id", u.id),
			zap.Int("pages_applied", pages),
			zap.Error(err))
		o.publish(event.TypeUploadFailed, u, map[string]interface{}{"error": err.Error(), "file": u.name})
	case workflow.StateCancelled:
		o.logger.Info("Upload cancelled", zap.String("source_id", u.id))
		o.publish(event.TypeUploadCancelled, u, map[string]interface{}{"file": u.name})
	}

	if o.deps.Recorder != nil {
		o.deps.Recorder.UploadFinished(state.String())
	}
}

// Remove cancels an upload and forgets it. Results of an in-flight upload
// are discarded; fields already merged stay as they are.
func (o *Orchestrator) Remove(sourceID string) error {
	o.mu.Lock()
	u, ok := o.uploads[sourceID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownUpload, sourceID)
	}
	delete(o.uploads, sourceID)
	for i, id := range o.order {
		if id == sourceID {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}

	inFlight := !u.machine.State().IsTerminal()
	if inFlight {
		u.removed = true
		if err := u.machine.Fire(workflow.TriggerCancel); err != nil {
			o.logger.Error("Failed to cancel upload lifecycle",
				zap.String("source_id", sourceID),
				zap.Error(err))
		}
		u.finishedAt = time.Now()
	}
	o.mu.Unlock()

	if !inFlight {
		o.logger.Info("Upload removed", zap.String("source_id", sourceID))
		return nil
	}

	u.cancel()
	o.logger.Info("In-flight upload removed", zap.String("source_id", sourceID))
	o.publish(event.TypeUploadCancelled, u, map[string]interface{}{"file": u.name})
	if o.deps.Recorder != nil {
		o.deps.Recorder.UploadFinished(workflow.StateCancelled.String())
	}
	return nil
}

// Status returns a snapshot of one upload
func (o *Orchestrator) Status(sourceID string) (Status, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	u, ok := o.uploads[sourceID]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownUpload, sourceID)
	}
	return o.snapshot(u), nil
}

// List returns all tracked uploads in submission order
func (o *Orchestrator) List() []Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	statuses := make([]Status, 0, len(o.order))
	for _, id := range o.order {
		statuses = append(statuses, o.snapshot(o.uploads[id]))
	}
	return statuses
}

// InFlight returns the number of uploads not yet in a terminal state
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := 0
	for _, u := range o.uploads {
		if !u.machine.State().IsTerminal() {
			n++
		}
	}
	return n
}

// Wait blocks until every upload submitted so far has finished
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	pending := make([]chan struct{}, 0, len(o.uploads))
	for _, u := range o.uploads {
		pending = append(pending, u.done)
	}
	o.mu.Unlock()

	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close cancels all in-flight uploads and waits for their goroutines
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.stop()
	o.wg.Wait()
	return nil
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// snapshot must be called with mu held
func (o *Orchestrator) snapshot(u *tracked) Status {
	s := Status{
		SourceID:    u.id,
		FileName:    u.name,
		ContentType: u.contentType,
		Size:        u.size,
		State:       u.machine.State(),
		Pages:       append([]PageResult{}, u.pages...),
		StoredPath:  u.storedPath,
		SubmittedAt: u.submittedAt,
		History:     u.machine.History(),
	}
	if u.err != nil {
		s.Error = u.err.Error()
	}
	if !u.finishedAt.IsZero() {
		finished := u.finishedAt
		s.FinishedAt = &finished
	}
	return s
}

func (o *Orchestrator) publish(eventType event.Type, u *tracked, payload map[string]interface{}) {
	if o.deps.Publisher == nil {
		return
	}
	o.deps.Publisher.DispatchAsync(context.Background(), event.NewEvent(eventType, o.sessionID, u.id, payload))
}
