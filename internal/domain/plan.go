package domain

import "time"

// ScheduleKind selects how a plan decides whether today is a send day.
type ScheduleKind string

const (
	// ScheduleDaily sends every day.
	ScheduleDaily ScheduleKind = "daily"
	// ScheduleWeekday sends on the weekdays listed in Plan.Weekdays.
	ScheduleWeekday ScheduleKind = "weekday"
	// ScheduleCalendar asks an external calendar (a spreadsheet of dates).
	ScheduleCalendar ScheduleKind = "calendar"
)

// Plan is a subscription product: a prompt, a schedule and a recipient set.
//
// Weekdays use 0=Monday through 6=Sunday. SendTime is "HH:MM" in the
// configured scheduler timezone.
type Plan struct {
	ID               uint         `gorm:"primaryKey" json:"id"`
	Name             string       `gorm:"type:text;not null" json:"name"`
	IsActive         bool         `gorm:"index" json:"is_active"`
	ScheduleKind     ScheduleKind `gorm:"type:text;not null" json:"schedule_kind"`
	Weekdays         IntArray     `gorm:"type:text" json:"weekdays"`
	SendTime         string       `gorm:"type:text" json:"send_time"`
	CalendarRef      string       `gorm:"type:text" json:"calendar_ref,omitempty"`
	Model            string       `gorm:"type:text" json:"model"`
	SystemPrompt     string       `gorm:"type:text" json:"system_prompt"`
	Prompt           string       `gorm:"type:text" json:"prompt"`
	ExternalDataPath string       `gorm:"type:text" json:"external_data_path,omitempty"`
	BatchSendEnabled bool         `json:"batch_send_enabled"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// TableName returns the database table name for Plan.
func (Plan) TableName() string {
	return "plans"
}

// IsoWeekday maps t's weekday onto the plan convention (0=Monday).
func IsoWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// PlanQuestion is a per-plan question whose answers become prompt variables.
type PlanQuestion struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	PlanID       uint      `gorm:"not null;index" json:"plan_id"`
	VarName      string    `gorm:"type:text;not null" json:"var_name"`
	Label        string    `gorm:"type:text" json:"label"`
	QuestionType string    `gorm:"type:text" json:"question_type"`
	SortOrder    int       `json:"sort_order"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName returns the database table name for PlanQuestion.
func (PlanQuestion) TableName() string {
	return "plan_questions"
}

// IsMultiValue reports whether answers are stored as JSON arrays.
func (q PlanQuestion) IsMultiValue() bool {
	return q.QuestionType == "checkbox" || q.QuestionType == "array"
}

// UserAnswer is one recipient's answer to a PlanQuestion.
type UserAnswer struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	RecipientID uint      `gorm:"column:user_id;not null;index" json:"user_id"`
	QuestionID  uint      `gorm:"not null;index" json:"question_id"`
	AnswerValue string    `gorm:"type:text" json:"answer_value"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for UserAnswer.
func (UserAnswer) TableName() string {
	return "user_answers"
}
