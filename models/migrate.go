package models

import (
	"fmt"

	"gorm.io/gorm"
)

// Migrate runs AutoMigrate for every engine table plus the partial unique
// index backing the crediting dedupe key. The index is scoped to the
// single-fire reasons only — commission rows for the same pair must repeat.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&User{},
		&Transaction{},
		&ReferralEarning{},
		&Contest{},
		&ContestEvent{},
		&VirtualParticipant{},
	); err != nil {
		return fmt.Errorf("auto-migrate failed: %w", err)
	}

	if err := db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_earnings_first_topup_pair
		 ON referral_earnings (referrer_id, referral_id)
		 WHERE reason IN ('first_topup', 'restored_first_topup')`,
	).Error; err != nil {
		return fmt.Errorf("failed to create first-topup dedupe index: %w", err)
	}

	return nil
}
