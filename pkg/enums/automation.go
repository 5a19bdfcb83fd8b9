package enums

// RunStatus is the lifecycle state of an automation run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the run has been settled.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// StepKind classifies an entry in an automation run's step log.
type StepKind string

const (
	StepTrigger   StepKind = "trigger"
	StepCondition StepKind = "condition"
	StepAction    StepKind = "action"
)
