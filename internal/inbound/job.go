package inbound

import (
	"context"
	"time"

	"github.com/ardian231/notify-wa/internal/types"
)

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobQueued   JobStatus = "queued"
	JobRunning  JobStatus = "running"
	JobComplete JobStatus = "complete"
	JobFailed   JobStatus = "failed"
)

// Job is the processing of one inbound chat message.
type Job struct {
	ID        types.JobID
	Message   *types.InboundMessage
	Status    JobStatus
	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
	Err       error

	Ctx context.Context
}

// NewJob creates a queued Job for msg.
func NewJob(msg *types.InboundMessage) *Job {
	return &Job{
		ID:        types.NewJobID(),
		Message:   msg,
		Status:    JobQueued,
		CreatedAt: time.Now(),
	}
}
