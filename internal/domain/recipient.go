package domain

import (
	"strings"
	"time"
)

// Recipient is a user who may receive plan mail.
type Recipient struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	MemberNo         string    `gorm:"type:text;uniqueIndex" json:"member_no"`
	Email            string    `gorm:"type:text;not null" json:"email"`
	NameLast         string    `gorm:"type:text" json:"name_last"`
	NameFirst        string    `gorm:"type:text" json:"name_first"`
	EmailVerified    bool      `json:"email_verified"`
	IsActive         bool      `json:"is_active"`
	Deliverable      bool      `gorm:"column:deliverable" json:"deliverable"`
	UnsubscribeToken string    `gorm:"type:text" json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName returns the database table name for Recipient.
func (Recipient) TableName() string {
	return "users"
}

// FullName joins last and first name with a space, skipping empty parts.
func (r Recipient) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(r.NameLast) + " " + strings.TrimSpace(r.NameFirst))
}

// SubscriptionStatus is the lifecycle of a plan subscription.
type SubscriptionStatus string

const (
	SubscriptionTrialing   SubscriptionStatus = "trialing"
	SubscriptionActive     SubscriptionStatus = "active"
	SubscriptionPastDue    SubscriptionStatus = "past_due"
	SubscriptionAdminAdded SubscriptionStatus = "admin_added"
	SubscriptionCancelled  SubscriptionStatus = "cancelled"
)

// DeliverableStatuses are the subscription states that receive mail.
// past_due keeps access to the account but not to deliveries.
var DeliverableStatuses = []SubscriptionStatus{
	SubscriptionTrialing,
	SubscriptionActive,
	SubscriptionAdminAdded,
}

// Subscription links a recipient to a plan.
type Subscription struct {
	ID          uint               `gorm:"primaryKey" json:"id"`
	RecipientID uint               `gorm:"column:user_id;not null;index:idx_subscriptions_user_plan" json:"user_id"`
	PlanID      uint               `gorm:"not null;index:idx_subscriptions_user_plan" json:"plan_id"`
	Status      SubscriptionStatus `gorm:"type:text;not null;default:active" json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// TableName returns the database table name for Subscription.
func (Subscription) TableName() string {
	return "subscriptions"
}
