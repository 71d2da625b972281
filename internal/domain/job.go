package domain

import "time"

// JobStatus is the state of a durable daily job.
//
//	pending -> running -> complete
//	               \---> error -> running (retry while RetryCount < MaxRetries)
type JobStatus string

const (
	JobStatusPending  JobStatus = "pending"
	JobStatusRunning  JobStatus = "running"
	JobStatusComplete JobStatus = "complete"
	JobStatusError    JobStatus = "error"
)

// SendType distinguishes cron-created jobs from operator-triggered ones.
type SendType string

const (
	SendTypeScheduled SendType = "scheduled"
	SendTypeManual    SendType = "manual"
)

// DateLayout is the layout of Job.Date.
const DateLayout = "2006-01-02"

// Job is the persisted intent to deliver one plan on one calendar date.
//
// Cursor holds the last fully processed recipient ID and is cleared on
// completion. HeartbeatAt is refreshed while the job is running.
type Job struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	PlanID            uint       `gorm:"not null;index:idx_jobs_plan_date" json:"plan_id"`
	Date              string     `gorm:"type:text;not null;index:idx_jobs_plan_date;index:idx_jobs_date_status" json:"date"`
	SendType          SendType   `gorm:"type:text;not null" json:"send_type"`
	Status            JobStatus  `gorm:"type:text;not null;index:idx_jobs_date_status" json:"status"`
	HeartbeatAt       *time.Time `json:"heartbeat_at,omitempty"`
	RetryCount        int        `gorm:"not null" json:"retry_count"`
	MaxRetries        int        `gorm:"not null" json:"max_retries"`
	Cursor            *string    `gorm:"type:text" json:"cursor,omitempty"`
	LastError         string     `gorm:"type:text" json:"last_error,omitempty"`
	ExecutionID       *uint      `json:"execution_id,omitempty"`
	TargetRecipientID *uint      `json:"target_recipient_id,omitempty"`
	PromptOverride    string     `gorm:"type:text" json:"prompt_override,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Job.
func (Job) TableName() string {
	return "jobs"
}

// RetriesLeft reports whether an errored job may be claimed again.
func (j Job) RetriesLeft() bool {
	return j.RetryCount < j.MaxRetries
}

// Terminal reports whether no further transition is expected.
func (j Job) Terminal() bool {
	return j.Status == JobStatusComplete || (j.Status == JobStatusError && !j.RetriesLeft())
}
