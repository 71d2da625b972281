package domain

import "time"

// LogLevel is the severity of a SystemLog row.
type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// SystemLog is an operator-facing event persisted alongside the process logs.
type SystemLog struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Level       LogLevel  `gorm:"type:text;not null;index" json:"level"`
	EventType   string    `gorm:"type:text;not null" json:"event_type"`
	PlanID      *uint     `json:"plan_id,omitempty"`
	RecipientID *uint     `gorm:"column:user_id" json:"user_id,omitempty"`
	MemberNo    string    `gorm:"type:text" json:"member_no,omitempty"`
	ExecutionID *uint     `json:"execution_id,omitempty"`
	Message     string    `gorm:"type:text" json:"message"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

// TableName returns the database table name for SystemLog.
func (SystemLog) TableName() string {
	return "system_logs"
}
