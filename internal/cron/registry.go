package cron

import (
	"context"
	"time"
)

// Job represents a scheduled task that runs inside the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type scheduledJob struct {
	job   Job
	every time.Duration
}

// Registry tracks registered cron jobs and how often each one runs.
type Registry struct {
	jobs []scheduledJob
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a job that runs once per every. Nil jobs and non-positive
// intervals are ignored. The lock key is the job name, so registering a name
// again replaces the earlier entry in place.
func (r *Registry) Register(job Job, every time.Duration) {
	if job == nil || every <= 0 {
		return
	}
	entry := scheduledJob{job: job, every: every}
	for i := range r.jobs {
		if r.jobs[i].job.Name() == job.Name() {
			r.jobs[i] = entry
			return
		}
	}
	r.jobs = append(r.jobs, entry)
}

// Jobs returns the registered jobs in the order they were added.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.jobs))
	for i, entry := range r.jobs {
		jobs[i] = entry.job
	}
	return jobs
}

func (r *Registry) entries() []scheduledJob {
	entries := make([]scheduledJob, len(r.jobs))
	copy(entries, r.jobs)
	return entries
}
