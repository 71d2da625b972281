package domain

import "time"

// Flag is a small process-shared key/value with optional expiry
// (emergency stop, throttle increment, scheduler heartbeat).
type Flag struct {
	Key       string     `gorm:"type:text;primaryKey" json:"key"`
	Value     string     `gorm:"type:text" json:"value"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Flag.
func (Flag) TableName() string {
	return "flags"
}

// Expired reports whether the flag has lapsed at now.
func (f Flag) Expired(now time.Time) bool {
	return f.ExpiresAt != nil && !now.Before(*f.ExpiresAt)
}

// Flag keys shared by the scheduler, worker and ops API.
const (
	FlagEmergencyStop      = "emergency_stop"
	FlagThrottleExtra      = "throttle_extra_seconds"
	FlagSchedulerHeartbeat = "scheduler_heartbeat"
)
