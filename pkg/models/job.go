package models

import "time"

// JobState is the lifecycle state of a research job.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Finished reports whether the job has reached a terminal state.
func (s JobState) Finished() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// Job is a snapshot of one research run.
type Job struct {
	ID        string        `json:"job_id"`
	Query     ResearchQuery `json:"query"`
	State     JobState      `json:"status"`
	Error     string        `json:"error,omitempty"`
	Report    *Report       `json:"report,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}
