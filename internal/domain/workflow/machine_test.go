package workflow

import (
	"errors"
	"sync"
	"testing"
)

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    State
		expected bool
	}{
		{StateQueued, false},
		{StateConverting, false},
		{StateClassifying, false},
		{StateExtracting, false},
		{StateApplied, true},
		{StateFailed, true},
		{StateCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.expected {
				t.Errorf("State.IsTerminal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		expected bool
	}{
		{"queued", StateQueued, true},
		{"applied", StateApplied, true},
		{"invalid state", State("INVALID"), false},
		{"empty state", State(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.expected {
				t.Errorf("State.IsValid() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestTrigger_String(t *testing.T) {
	if got := TriggerCancel.String(); got != "CANCEL" {
		t.Errorf("Trigger.String() = %v, want %v", got, "CANCEL")
	}
}

func TestBuilder_ConfigureAccumulates(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateQueued).Permit(TriggerConvert, StateConverting)
	builder.Configure(StateQueued).Permit(TriggerCancel, StateCancelled)

	for _, trigger := range []Trigger{TriggerConvert, TriggerCancel} {
		machine := builder.Build(StateQueued)
		if err := machine.Fire(trigger); err != nil {
			t.Errorf("Fire(%s) error = %v", trigger, err)
		}
	}
}

func TestBuilder_PanicsOnInvalidStates(t *testing.T) {
	tests := []struct {
		name string
		fn   func()
	}{
		{"configure", func() { NewBuilder().Configure(State("INVALID")) }},
		{"build", func() { NewBuilder().Build(State("INVALID")) }},
		{"permit", func() { NewBuilder().Configure(StateQueued).Permit(TriggerConvert, State("INVALID")) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if r := recover(); r == nil {
					t.Error("expected panic")
				}
			}()
			tt.fn()
		})
	}
}

func TestStateConfig_PermitConflictPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic for a trigger leading to two states")
		}
	}()
	NewBuilder().Configure(StateQueued).
		Permit(TriggerClassify, StateClassifying).
		Permit(TriggerClassify, StateConverting)
}

func TestStateMachine_InvalidTransition(t *testing.T) {
	machine := NewUploadLifecycle()

	err := machine.Fire(TriggerApply)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Fire() error = %v, want ErrInvalidTransition", err)
	}
	if machine.State() != StateQueued {
		t.Errorf("State() = %v, want %v", machine.State(), StateQueued)
	}
	if len(machine.History()) != 0 {
		t.Error("rejected trigger should not be recorded")
	}
}

func TestStateMachine_Immutability(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateQueued).Permit(TriggerConvert, StateConverting)
	machine := builder.Build(StateQueued)

	builder.Configure(StateQueued).Permit(TriggerCancel, StateCancelled)

	if err := machine.Fire(TriggerCancel); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("built machine should not see later builder changes, got %v", err)
	}
}

func TestUploadLifecycle_PDFPath(t *testing.T) {
	machine := NewUploadLifecycle()

	// two pages
	steps := []Trigger{
		TriggerConvert,
		TriggerClassify, TriggerExtract,
		TriggerClassify, TriggerExtract,
		TriggerApply,
	}
	for _, trigger := range steps {
		if err := machine.Fire(trigger); err != nil {
			t.Fatalf("Fire(%s) from %s error = %v", trigger, machine.State(), err)
		}
	}

	if machine.State() != StateApplied {
		t.Errorf("State() = %v, want %v", machine.State(), StateApplied)
	}
	for _, trigger := range []Trigger{TriggerClassify, TriggerFail, TriggerCancel} {
		if err := machine.Fire(trigger); err == nil {
			t.Errorf("terminal state accepted %s", trigger)
		}
	}

	history := machine.History()
	if len(history) != len(steps) {
		t.Fatalf("History() length = %d, want %d", len(history), len(steps))
	}
	if history[0].From != StateQueued || history[0].To != StateConverting {
		t.Errorf("unexpected first transition %+v", history[0])
	}
	if history[len(history)-1].To != StateApplied || history[len(history)-1].At.IsZero() {
		t.Errorf("unexpected last transition %+v", history[len(history)-1])
	}
}

func TestUploadLifecycle_ImageSkipsConversion(t *testing.T) {
	machine := NewUploadLifecycle()

	for _, trigger := range []Trigger{TriggerClassify, TriggerExtract, TriggerApply} {
		if err := machine.Fire(trigger); err != nil {
			t.Fatalf("Fire(%s) error = %v", trigger, err)
		}
	}
	if machine.State() != StateApplied {
		t.Errorf("State() = %v, want %v", machine.State(), StateApplied)
	}
}

func TestUploadLifecycle_FailAndCancel(t *testing.T) {
	for _, from := range []Trigger{"", TriggerConvert} {
		for _, end := range []Trigger{TriggerFail, TriggerCancel} {
			t.Run(string(from)+"->"+string(end), func(t *testing.T) {
							machine := NewUploadLifecycle()
				if from != "" {
					if err := machine.Fire(from); err != nil {
						t.Fatalf("Fire(%s) error = %v", from, err)
					}
				}
				if err := machine.Fire(end); err != nil {
					t.Fatalf("Fire(%s) error = %v", end, err)
				}
				if !machine.State().IsTerminal() {
					t.Errorf("State() = %v, want terminal", machine.State())
				}
				if err := machine.Fire(TriggerCancel); !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("terminal state accepted CANCEL: %v", err)
				}
			})
		}
	}
}

func TestUploadLifecycle_ConcurrentCancel(t *testing.T) {
	machine := NewUploadLifecycle()
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := machine.Fire(TriggerCancel); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Errorf("exactly one cancel should succeed, got %d", succeeded)
	}
}
