package domain

import "time"

// ExecutionStatus is the lifecycle of one delivery attempt.
type ExecutionStatus string

const (
	ExecutionRunning       ExecutionStatus = "running"
	ExecutionSuccess       ExecutionStatus = "success"
	ExecutionPartialFailed ExecutionStatus = "partial_failed"
	ExecutionFailed        ExecutionStatus = "failed"
	ExecutionStopped       ExecutionStatus = "stopped"
)

// TerminalStatus derives the final status from item outcomes:
// success when nothing failed, failed when nothing succeeded.
func TerminalStatus(success, fail int) ExecutionStatus {
	switch {
	case fail == 0:
		return ExecutionSuccess
	case success == 0:
		return ExecutionFailed
	default:
		return ExecutionPartialFailed
	}
}

// Execution records one run of the delivery engine for a plan.
type Execution struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	PlanID       uint            `gorm:"not null;index" json:"plan_id"`
	JobID        *uint           `gorm:"index" json:"job_id,omitempty"`
	SendType     SendType        `gorm:"type:text;not null" json:"send_type"`
	Status       ExecutionStatus `gorm:"type:text;not null;index" json:"status"`
	Subject      string          `gorm:"type:text" json:"subject"`
	TotalCount   int             `gorm:"not null" json:"total_count"`
	SuccessCount int             `gorm:"not null" json:"success_count"`
	FailCount    int             `gorm:"not null" json:"fail_count"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// TableName returns the database table name for Execution.
func (Execution) TableName() string {
	return "executions"
}

// ItemStatus is the outcome of one (recipient, item) send.
type ItemStatus string

const (
	ItemPending  ItemStatus = "pending"
	ItemInflight ItemStatus = "inflight"
	ItemDone     ItemStatus = "done"
	ItemFailed   ItemStatus = "failed"
)

// ItemKeyBatch marks the single record of a combined (batch) send.
const ItemKeyBatch = "batch"

// ExecutionItem is one (recipient, item) row, unique per execution.
// ItemKey is empty when the plan has no split items.
type ExecutionItem struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	ExecutionID       uint       `gorm:"not null;uniqueIndex:idx_execution_items_unique" json:"execution_id"`
	RecipientID       uint       `gorm:"column:user_id;not null;uniqueIndex:idx_execution_items_unique" json:"user_id"`
	ItemKey           string     `gorm:"type:text;not null;default:'';uniqueIndex:idx_execution_items_unique" json:"item_key"`
	MemberNo          string     `gorm:"type:text" json:"member_no"`
	Status            ItemStatus `gorm:"type:text;not null" json:"status"`
	RetryCount        int        `gorm:"not null" json:"retry_count"`
	ProviderMessageID string     `gorm:"type:text" json:"provider_message_id,omitempty"`
	LastErrorMessage  string     `gorm:"type:text" json:"last_error_message,omitempty"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TableName returns the database table name for ExecutionItem.
func (ExecutionItem) TableName() string {
	return "execution_items"
}
