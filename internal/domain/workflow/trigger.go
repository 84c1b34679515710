package workflow

// Trigger represents an event that can cause a state transition
type Trigger string

const (
	TriggerConvert  Trigger = "CONVERT"
	TriggerClassify Trigger = "CLASSIFY"
	TriggerExtract  Trigger = "EXTRACT"
	TriggerApply    Trigger = "APPLY"
	TriggerFail     Trigger = "FAIL"
	TriggerCancel   Trigger = "CANCEL"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
