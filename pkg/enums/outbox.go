package enums

// OutboxAggregateType maps to the aggregate_type column.
type OutboxAggregateType string

const (
	AggregateWallet        OutboxAggregateType = "wallet"
	AggregateJob           OutboxAggregateType = "job"
	AggregateScheduledPost OutboxAggregateType = "scheduled_post"
	AggregateAutomationRun OutboxAggregateType = "automation_run"
)

var aggregateTypes = closed[OutboxAggregateType]{AggregateWallet, AggregateJob, AggregateScheduledPost, AggregateAutomationRun}

func (a OutboxAggregateType) IsValid() bool { return aggregateTypes.has(a) }

// OutboxEventType maps to the event_type column and the event_type message attribute.
type OutboxEventType string

const (
	EventJobCompleted        OutboxEventType = "job_completed"
	EventJobFailed           OutboxEventType = "job_failed"
	EventJobCancelled        OutboxEventType = "job_cancelled"
	EventPostPublished       OutboxEventType = "post_published"
	EventPostFailed          OutboxEventType = "post_failed"
	EventAutomationCompleted OutboxEventType = "automation_completed"
	EventAutomationFailed    OutboxEventType = "automation_failed"
	EventCreditsLow          OutboxEventType = "credits_low"
	EventCreditsGranted      OutboxEventType = "credits_granted"
)

var eventTypes = closed[OutboxEventType]{
	EventJobCompleted,
	EventJobFailed,
	EventJobCancelled,
	EventPostPublished,
	EventPostFailed,
	EventAutomationCompleted,
	EventAutomationFailed,
	EventCreditsLow,
	EventCreditsGranted,
}

func (e OutboxEventType) IsValid() bool { return eventTypes.has(e) }

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return eventTypes.parse("event type", value)
}

// OutboxDLQErrorReason says why the relay dead-lettered an event.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	return r == OutboxDLQReasonMaxAttempts || r == OutboxDLQReasonNonRetryable
}
