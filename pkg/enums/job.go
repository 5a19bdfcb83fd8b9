package enums

// JobType identifies the generation capability a job uses.
type JobType string

const (
	JobTypeText  JobType = "text"
	JobTypeImage JobType = "image"
	JobTypeVideo JobType = "video"
	JobTypeAudio JobType = "audio"
)

var jobTypes = closed[JobType]{JobTypeText, JobTypeImage, JobTypeVideo, JobTypeAudio}

func (t JobType) IsValid() bool { return jobTypes.has(t) }

// JobStatus is the lifecycle state of a generation job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

var jobStatuses = closed[JobStatus]{JobStatusQueued, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled}

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

func ParseJobStatus(value string) (JobStatus, error) {
	return jobStatuses.parse("job status", value)
}
