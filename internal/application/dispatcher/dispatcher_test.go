package dispatcher

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dajor/bewirtungsbeleg-sub003/internal/domain/event"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newEvent() *event.Event {
	return event.NewEvent(event.TypeReceiptUpdated, "session-1", "upload-1", nil)
}

func TestSubscribe(t *testing.T) {
	t.Run("subscribes multiple handlers to same event type", func(t *testing.T) {
		d := NewDispatcher()
		called1, called2 := false, false

		d.Subscribe("", func(ctx context.Context, evt *event.Event) error {
			called1 = true
			return nil
		}, event.TypeReceiptUpdated)
		d.Subscribe("", func(ctx context.Context, evt *event.Event) error {
			called2 = true
			return nil
		}, event.TypeReceiptUpdated)

		if err := d.Dispatch(context.Background(), newEvent()); err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		if !called1 || !called2 {
			t.Error("expected both handlers to be called")
		}
	})

	t.Run("does not call handlers of other types", func(t *testing.T) {
		d := NewDispatcher()
		called := false
		d.Subscribe("", func(ctx context.Context, evt *event.Event) error {
			called = true
			return nil
		}, event.TypeUploadFailed)

		if err := d.Dispatch(context.Background(), newEvent()); err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		if called {
			t.Error("handler for another type should not run")
		}
	})

	t.Run("one handler for several types", func(t *testing.T) {
		d := NewDispatcher()
		var seen []event.Type
		d.Subscribe("history", func(ctx context.Context, evt *event.Event) error {
			seen = append(seen, evt.Type)
			return nil
		}, event.TypeReceiptUpdated, event.TypeReceiptReset)

		for _, typ := range []event.Type{event.TypeReceiptUpdated, event.TypeUploadApplied, event.TypeReceiptReset} {
			if err := d.Dispatch(context.Background(), event.NewEvent(typ, "s", "", nil)); err != nil {
				t.Fatalf("dispatch %s failed: %v", typ, err)
			}
		}
		if len(seen) != 2 || seen[0] != event.TypeReceiptUpdated || seen[1] != event.TypeReceiptReset {
			t.Errorf("unexpected deliveries %v", seen)
		}
	})

	t.Run("generates names for anonymous subscribers", func(t *testing.T) {
		d := NewDispatcher()
		d.Subscribe("", func(ctx context.Context, evt *event.Event) error { return nil }, event.TypeUploadApplied)
		d.Subscribe("", func(ctx context.Context, evt *event.Event) error {
			return errors.New("boom")
		}, event.TypeReceiptUpdated)

		err := d.Dispatch(context.Background(), newEvent())
		if err == nil || !strings.Contains(err.Error(), "subscriber-1") {
			t.Errorf("expected error naming subscriber-1, got %v", err)
		}
	})
}

func TestDispatch(t *testing.T) {
	t.Run("runs handlers in order", func(t *testing.T) {
		d := NewDispatcher()
		var order []int

		for i := 1; i <= 3; i++ {
			i := i
			d.Subscribe("", func(ctx context.Context, evt *event.Event) error {
				order = append(order, i)
				return nil
			}, event.TypeReceiptUpdated)
		}

		if err := d.Dispatch(context.Background(), newEvent()); err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		if len(order) != 3 || order[0] != 1 || order[2] != 3 {
			t.Errorf("expected handlers to run in order, got %v", order)
		}
	})

	t.Run("stops at first error and logs it", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		d := NewDispatcher(WithLogger(zap.New(core)))
		wantErr := errors.New("boom")
		secondCalled := false

		d.Subscribe("failing", func(ctx context.Context, evt *event.Event) error {
			return wantErr
		}, event.TypeReceiptUpdated)
		d.Subscribe("second", func(ctx context.Context, evt *event.Event) error {
			secondCalled = true
			return nil
		}, event.TypeReceiptUpdated)

		err := d.Dispatch(context.Background(), newEvent())
		if !errors.Is(err, wantErr) {
			t.Fatalf("expected wrapped boom error, got %v", err)
		}
		if !strings.Contains(err.Error(), "failing") {
			t.Errorf("expected subscriber name in %q", err)
		}
		if secondCalled {
			t.Error("second handler should not run after an error")
		}
		if logs.FilterMessage("Subscriber failed").Len() != 1 {
			t.Error("expected subscriber failure to be logged")
		}
	})

	t.Run("recovers from panics", func(t *testing.T) {
		d := NewDispatcher()
		d.Subscribe("", func(ctx context.Context, evt *event.Event) error {
			panic("unexpected")
		}, event.TypeReceiptUpdated)

		if err := d.Dispatch(context.Background(), newEvent()); err == nil {
			t.Error("expected panic to be turned into an error")
		}
	})
}

func TestDispatchAsync(t *testing.T) {
	d := NewDispatcher()
	var count atomic.Int32
	var wg sync.WaitGroup
	wg.Add(2)

	for i := 0; i < 2; i++ {
		d.Subscribe("", func(ctx context.Context, evt *event.Event) error {
			defer wg.Done()
			count.Add(1)
			return nil
		}, event.TypeUploadApplied)
	}

	d.DispatchAsync(context.Background(), event.NewEvent(event.TypeUploadApplied, "s", "u", nil))
	wg.Wait()

	if count.Load() != 2 {
		t.Errorf("expected 2 async handler calls, got %d", count.Load())
	}
	if err := d.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
}

func TestClose(t *testing.T) {
	d := NewDispatcher()
	var finished atomic.Bool
	release := make(chan struct{})

	d.Subscribe("", func(ctx context.Context, evt *event.Event) error {
		<-release
		finished.Store(true)
		return nil
	}, event.TypeReceiptUpdated)

	d.DispatchAsync(context.Background(), newEvent())
	close(release)

	if err := d.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !finished.Load() {
		t.Error("Close should wait for async handlers")
	}

	if err := d.Close(); err == nil {
		t.Error("second Close should fail")
	}
	if err := d.Dispatch(context.Background(), newEvent()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	// must not panic or block
	d.DispatchAsync(context.Background(), newEvent())
}
