package models

import "time"

// ContestType selects which referral events score points.
type ContestType string

const (
	ContestTypeReferralPaid       ContestType = "referral_paid"
	ContestTypeReferralRegistered ContestType = "referral_registered"
)

// ContestEventType tags how an event entered the ledger.
type ContestEventType string

const (
	EventSubscriptionPurchase ContestEventType = "subscription_purchase"
	EventReferralRegistration ContestEventType = "referral_registration"
	EventRestoredReferral     ContestEventType = "restored_referral"
	EventRestoredRegistration ContestEventType = "restored_referral_registration"
)

// Contest is a time-boxed referral competition. Summary markers are monotonic
// so repeated polling never re-sends a summary.
type Contest struct {
	ID          string      `gorm:"primaryKey;type:uuid" json:"id"`
	Title       string      `gorm:"not null" json:"title"`
	Slug        string      `gorm:"index" json:"slug"`
	Description string      `json:"description,omitempty"`
	PrizeText   string      `json:"prize_text,omitempty"`
	ContestType ContestType `gorm:"not null;default:'referral_paid'" json:"contest_type"`

	StartAt  time.Time `gorm:"not null" json:"start_at"`
	EndAt    time.Time `gorm:"not null" json:"end_at"`
	Timezone string    `gorm:"default:'UTC'" json:"timezone"`

	// Comma-separated local times ("09:00,18:00") at which daily summaries fire.
	DailySummaryTimes string `json:"daily_summary_times,omitempty"`

	LastDailySummaryAt *time.Time `json:"last_daily_summary_at,omitempty"`
	FinalSummarySent   bool       `gorm:"default:false" json:"final_summary_sent"`
	IsActive           bool       `gorm:"default:true" json:"is_active"`

	CreatedBy *string `json:"created_by,omitempty"`

	Timestamps
}

// ContestEvent is one scoring row per (contest, referral). Amount is re-derived
// from transactions by sync; OccurredAt records when the event was captured.
type ContestEvent struct {
	ID          string           `gorm:"primaryKey;type:uuid" json:"id"`
	ContestID   string           `gorm:"not null;type:uuid;uniqueIndex:idx_contest_referral" json:"contest_id"`
	ReferrerID  string           `gorm:"index;not null;type:uuid" json:"referrer_id"`
	ReferralID  string           `gorm:"not null;type:uuid;uniqueIndex:idx_contest_referral" json:"referral_id"`
	AmountCents int64            `gorm:"default:0" json:"amount_cents"`
	EventType   ContestEventType `gorm:"not null" json:"event_type"`
	OccurredAt  time.Time        `gorm:"index;not null" json:"occurred_at"`
}

// VirtualParticipant is a synthetic leaderboard entry used only for display
// blending; it never touches real balances.
type VirtualParticipant struct {
	ID               string    `gorm:"primaryKey;type:uuid" json:"id"`
	ContestID        string    `gorm:"index;not null;type:uuid" json:"contest_id"`
	DisplayName      string    `gorm:"not null" json:"display_name"`
	ReferralCount    int64     `gorm:"default:0" json:"referral_count"`
	TotalAmountCents int64     `gorm:"default:0" json:"total_amount_cents"`
	CreatedAt        time.Time `json:"created_at" gorm:"autoCreateTime"`
}
