package models

import (
	"time"

	"gorm.io/gorm"
)

// User is the referral-relevant slice of the account record. ExternalID is the
// subject identifier as it appears in bot logs and inbound events.
type User struct {
	ID           string  `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalID   int64   `gorm:"uniqueIndex;not null" json:"external_id"`
	Username     *string `gorm:"index" json:"username,omitempty"`
	FullName     string  `json:"full_name"`
	ReferralCode string  `gorm:"uniqueIndex;not null" json:"referral_code"`

	// Set at most once (registration or repair); only a confirmed mismatch
	// repair may overwrite a non-nil value.
	ReferredByID *string `gorm:"index;type:uuid" json:"referred_by_id,omitempty"`

	// Monotonic false→true.
	HasMadeFirstTopup      bool `gorm:"default:false" json:"has_made_first_topup"`
	HasHadPaidSubscription bool `gorm:"default:false" json:"has_had_paid_subscription"`

	BalanceCents int64 `gorm:"default:0" json:"balance_cents"`

	// Per-referrer commission override; nil falls back to the configured percent.
	CommissionPercent *int `json:"commission_percent,omitempty"`

	Timestamps
}

// TransactionType classifies ledger-relevant money movements.
type TransactionType string

const (
	TransactionDeposit             TransactionType = "deposit"
	TransactionSubscriptionPayment TransactionType = "subscription_payment"
	TransactionReferralReward      TransactionType = "referral_reward"
)

// Transaction mirrors the authoritative payment ledger. Deposits with a nil
// PaymentMethod are system-granted bonuses, not real money in.
type Transaction struct {
	ID            string          `gorm:"primaryKey;type:uuid" json:"id"`
	UserID        string          `gorm:"index;not null;type:uuid" json:"user_id"`
	Type          TransactionType `gorm:"index;not null" json:"type"`
	AmountCents   int64           `gorm:"not null" json:"amount_cents"`
	Description   string          `json:"description,omitempty"`
	IsCompleted   bool            `gorm:"default:true" json:"is_completed"`
	PaymentMethod *string         `json:"payment_method,omitempty"`
	CreatedAt     time.Time       `json:"created_at" gorm:"index;autoCreateTime"`
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
