package models

import "time"

// EarningReason is a closed enumeration; the reason participates in the
// crediting dedupe key, so free-form strings are not allowed here.
type EarningReason string

const (
	ReasonFirstTopup         EarningReason = "first_topup"
	ReasonCommission         EarningReason = "commission"
	ReasonRegistration       EarningReason = "registration"
	ReasonRestoredFirstTopup EarningReason = "restored_first_topup"
	ReasonRestoredCommission EarningReason = "restored_commission"
)

// FirstTopupReasons share one dedupe namespace: a (referrer, referral) pair may
// carry at most one earning with any of these reasons. Commission reasons are
// repeatable and stay outside the namespace.
func FirstTopupReasons() []EarningReason {
	return []EarningReason{ReasonFirstTopup, ReasonRestoredFirstTopup}
}

// ReferralEarning is one immutable crediting event. Rows in the first-topup
// namespace double as the idempotency token guarding against double-crediting.
type ReferralEarning struct {
	ID          string        `gorm:"primaryKey;type:uuid" json:"id"`
	ReferrerID  string        `gorm:"index;not null;type:uuid" json:"referrer_id"`
	ReferralID  string        `gorm:"index;not null;type:uuid" json:"referral_id"`
	AmountCents int64         `gorm:"not null" json:"amount_cents"`
	Reason      EarningReason `gorm:"not null" json:"reason"`
	CampaignID  *string       `gorm:"index" json:"campaign_id,omitempty"`
	CreatedAt   time.Time     `json:"created_at" gorm:"autoCreateTime"`
}
