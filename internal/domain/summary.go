package domain

import "time"

// PlanSummarySetting turns on rolling summaries for a plan. After each
// delivered email a short summary is stored per recipient, and the most
// recent ones are fed back into personalized prompts so the series reads
// as a continuation.
type PlanSummarySetting struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	PlanID              uint      `gorm:"not null;uniqueIndex" json:"plan_id"`
	SummaryPrompt       string    `gorm:"type:text;not null" json:"summary_prompt"`
	SummaryLengthTarget int       `gorm:"not null;default:200" json:"summary_length_target"`
	SummaryMaxKeep      int       `gorm:"not null;default:10" json:"summary_max_keep"`
	SummaryInjectCount  int       `gorm:"not null;default:3" json:"summary_inject_count"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// TableName returns the database table name for PlanSummarySetting.
func (PlanSummarySetting) TableName() string {
	return "plan_summary_settings"
}

// UserSummary is one stored summary of an email a recipient received.
type UserSummary struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	PlanID      uint      `gorm:"not null;index:idx_user_summaries_plan_user" json:"plan_id"`
	RecipientID uint      `gorm:"column:user_id;not null;index:idx_user_summaries_plan_user" json:"user_id"`
	SummaryText string    `gorm:"type:text;not null" json:"summary_text"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName returns the database table name for UserSummary.
func (UserSummary) TableName() string {
	return "user_summaries"
}
