package workflow

// NewUploadLifecycle returns a machine in QUEUED configured for the
// convert, classify, extract pipeline of one upload. Multi-page files loop
// between CLASSIFYING and EXTRACTING once per page. Every non-terminal state
// may fail or be cancelled.
func NewUploadLifecycle() StateMachine {
	builder := NewBuilder()

	// images skip conversion
	builder.Configure(StateQueued).
		Permit(TriggerConvert, StateConverting).
		Permit(TriggerClassify, StateClassifying)

	builder.Configure(StateConverting).
		Permit(TriggerClassify, StateClassifying)

	builder.Configure(StateClassifying).
		Permit(TriggerExtract, StateExtracting)

	builder.Configure(StateExtracting).
		Permit(TriggerClassify, StateClassifying).
		Permit(TriggerApply, StateApplied)

	for _, s := range []State{StateQueued, StateConverting, StateClassifying, StateExtracting} {
		builder.Configure(s).
			Permit(TriggerFail, StateFailed).
			Permit(TriggerCancel, StateCancelled)
	}

	// APPLIED, FAILED and CANCELLED are terminal

	return builder.Build(StateQueued)
}
