// services/referral_service.go
package services

import (
	"errors"
	"fmt"
	"log"

	"referral-reward-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReferralService is the reward ledger: it owns every balance mutation driven
// by referral crediting and the earning rows that make crediting idempotent.
type ReferralService struct {
	DB     *gorm.DB
	Config ReferralConfig

	// Optional: captures qualifying events into active contests.
	Contests *ContestService
}

func NewReferralService(db *gorm.DB, cfg ReferralConfig) *ReferralService {
	return &ReferralService{DB: db, Config: cfg}
}

// CreditResult reports what one crediting call did.
type CreditResult struct {
	AlreadyCredited    bool   `json:"already_credited"`
	ReferralBonusCents int64  `json:"referral_bonus_cents"`
	ReferrerBonusCents int64  `json:"referrer_bonus_cents"`
	EarningID          string `json:"earning_id,omitempty"`
}

// EffectiveCommissionPercent returns the referrer's override when present.
func (s *ReferralService) EffectiveCommissionPercent(referrer *models.User) int {
	if referrer.CommissionPercent != nil {
		return *referrer.CommissionPercent
	}
	return s.Config.CommissionPercent
}

// addBalance credits a user and records the matching referral_reward
// transaction. PaymentMethod stays nil so contest sums never count bonuses.
func addBalance(tx *gorm.DB, user *models.User, amountCents int64, description string) error {
	user.BalanceCents += amountCents
	if err := tx.Model(&models.User{}).Where("id = ?", user.ID).
		Update("balance_cents", gorm.Expr("balance_cents + ?", amountCents)).Error; err != nil {
		return fmt.Errorf("failed to credit balance for user %s: %w", user.ID, err)
	}
	record := models.Transaction{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		Type:        models.TransactionReferralReward,
		AmountCents: amountCents,
		Description: description,
		IsCompleted: true,
	}
	if err := tx.Create(&record).Error; err != nil {
		return fmt.Errorf("failed to record reward transaction: %w", err)
	}
	return nil
}

// HasFirstTopupEarning reports whether the pair already holds an earning in
// the single-fire dedupe namespace.
func HasFirstTopupEarning(tx *gorm.DB, referrerID, referralID string) (bool, error) {
	var earning models.ReferralEarning
	err := tx.Where("referrer_id = ? AND referral_id = ? AND reason IN ?",
		referrerID, referralID, models.FirstTopupReasons()).
		First(&earning).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CreditFirstTopup performs the one-shot first-topup crediting for a pair.
// All effects happen on tx, so the caller decides the transaction boundary.
// A pair that was already credited returns AlreadyCredited without touching
// any balance — callers treat that as success, not an error.
func (s *ReferralService) CreditFirstTopup(
	tx *gorm.DB,
	referrer, referral *models.User,
	topupAmountCents int64,
	reason models.EarningReason,
) (*CreditResult, error) {
	if reason != models.ReasonFirstTopup && reason != models.ReasonRestoredFirstTopup {
		return nil, fmt.Errorf("reason %q is outside the first-topup namespace", reason)
	}

	credited, err := HasFirstTopupEarning(tx, referrer.ID, referral.ID)
	if err != nil {
		return nil, fmt.Errorf("dedupe check failed: %w", err)
	}
	if credited {
		return &CreditResult{AlreadyCredited: true}, nil
	}

	result := &CreditResult{}

	if s.Config.FirstTopupBonusCents > 0 {
		if err := addBalance(tx, referral, s.Config.FirstTopupBonusCents,
			"First topup bonus (referral program)"); err != nil {
			return nil, err
		}
		result.ReferralBonusCents = s.Config.FirstTopupBonusCents
	}

	percent := s.EffectiveCommissionPercent(referrer)
	commission := topupAmountCents * int64(percent) / 100
	inviterBonus := s.Config.InviterBonusCents
	if commission > inviterBonus {
		inviterBonus = commission
	}

	if inviterBonus > 0 {
		desc := fmt.Sprintf("First topup bonus for referral %s", referral.FullName)
		if err := addBalance(tx, referrer, inviterBonus, desc); err != nil {
			return nil, err
		}
		result.ReferrerBonusCents = inviterBonus
	}

	earning := models.ReferralEarning{
		ID:          uuid.NewString(),
		ReferrerID:  referrer.ID,
		ReferralID:  referral.ID,
		AmountCents: inviterBonus,
		Reason:      reason,
	}
	if err := tx.Create(&earning).Error; err != nil {
		return nil, fmt.Errorf("failed to create earning row: %w", err)
	}
	result.EarningID = earning.ID

	referral.HasMadeFirstTopup = true
	if err := tx.Model(&models.User{}).Where("id = ?", referral.ID).
		Update("has_made_first_topup", true).Error; err != nil {
		return nil, fmt.Errorf("failed to flip first-topup flag: %w", err)
	}

	return result, nil
}

// CreditOngoingCommission credits the referrer for one subsequent qualifying
// purchase or topup. Repeatable: every call appends its own earning row.
func (s *ReferralService) CreditOngoingCommission(
	tx *gorm.DB,
	referrer, referral *models.User,
	amountCents int64,
	reason models.EarningReason,
) (*CreditResult, error) {
	if reason != models.ReasonCommission && reason != models.ReasonRestoredCommission {
		return nil, fmt.Errorf("reason %q is not a commission reason", reason)
	}

	percent := s.EffectiveCommissionPercent(referrer)
	commission := amountCents * int64(percent) / 100
	if commission <= 0 {
		return &CreditResult{}, nil
	}

	desc := fmt.Sprintf("Commission %d%% from %s", percent, referral.FullName)
	if err := addBalance(tx, referrer, commission, desc); err != nil {
		return nil, err
	}

	earning := models.ReferralEarning{
		ID:          uuid.NewString(),
		ReferrerID:  referrer.ID,
		ReferralID:  referral.ID,
		AmountCents: commission,
		Reason:      reason,
	}
	if err := tx.Create(&earning).Error; err != nil {
		return nil, fmt.Errorf("failed to create commission row: %w", err)
	}

	return &CreditResult{ReferrerBonusCents: commission, EarningID: earning.ID}, nil
}

// ProcessRegistration records a pending-registration earning when a new user
// arrives with a referrer attached, and captures the registration into any
// active registration contest.
func (s *ReferralService) ProcessRegistration(newUserID string) error {
	var user models.User
	if err := s.DB.First(&user, "id = ?", newUserID).Error; err != nil {
		return fmt.Errorf("new user %s not found: %w", newUserID, err)
	}
	if user.ReferredByID == nil {
		return nil
	}

	earning := models.ReferralEarning{
		ID:         uuid.NewString(),
		ReferrerID: *user.ReferredByID,
		ReferralID: user.ID,
		Reason:     models.ReasonRegistration,
	}
	if err := s.DB.Create(&earning).Error; err != nil {
		return fmt.Errorf("failed to record registration earning: %w", err)
	}

	if s.Contests != nil {
		if err := s.Contests.OnReferralRegistration(user.ID); err != nil {
			log.Printf("⚠️  Contest registration capture failed for user %s: %v", user.ID, err)
		}
	}

	log.Printf("✅ Referral registered: user=%s referrer=%s (bonus deferred to first topup)", user.ID, *user.ReferredByID)
	return nil
}

// ProcessTopup is the live crediting path for a completed deposit. First
// qualifying topup fires the one-shot crediting; anything else earns the
// referrer a plain commission.
func (s *ReferralService) ProcessTopup(userID string, topupAmountCents int64) error {
	var user models.User
	if err := s.DB.First(&user, "id = ?", userID).Error; err != nil {
		return fmt.Errorf("user %s not found: %w", userID, err)
	}
	if user.ReferredByID == nil {
		return nil
	}

	var referrer models.User
	if err := s.DB.First(&referrer, "id = ?", *user.ReferredByID).Error; err != nil {
		return fmt.Errorf("referrer %s not found: %w", *user.ReferredByID, err)
	}

	qualifies := topupAmountCents >= s.Config.MinimumTopupCents

	return s.DB.Transaction(func(tx *gorm.DB) error {
		if !user.HasMadeFirstTopup && qualifies {
			result, err := s.CreditFirstTopup(tx, &referrer, &user, topupAmountCents, models.ReasonFirstTopup)
			if err != nil {
				return err
			}
			if result.AlreadyCredited {
				log.Printf("⏭️  First topup already credited for pair (%s, %s)", referrer.ID, user.ID)
				return nil
			}

			// The pending-registration marker is superseded by the credit.
			if err := tx.Where("referrer_id = ? AND referral_id = ? AND reason = ?",
				referrer.ID, user.ID, models.ReasonRegistration).
				Delete(&models.ReferralEarning{}).Error; err != nil {
				return fmt.Errorf("failed to clear registration marker: %w", err)
			}

			log.Printf("💰 First topup credited: referral=%s +%d, referrer=%s +%d",
				user.ID, result.ReferralBonusCents, referrer.ID, result.ReferrerBonusCents)
			return nil
		}

		// Below-minimum first deposits and every later deposit both earn a
		// commission only.
		_, err := s.CreditOngoingCommission(tx, &referrer, &user, topupAmountCents, models.ReasonCommission)
		return err
	})
}

// ProcessPurchase credits the ongoing commission for a subscription purchase
// and feeds the contest ledger.
func (s *ReferralService) ProcessPurchase(userID string, purchaseAmountCents int64) error {
	var user models.User
	if err := s.DB.First(&user, "id = ?", userID).Error; err != nil {
		return fmt.Errorf("user %s not found: %w", userID, err)
	}

	if user.ReferredByID != nil {
		var referrer models.User
		if err := s.DB.First(&referrer, "id = ?", *user.ReferredByID).Error; err != nil {
			return fmt.Errorf("referrer %s not found: %w", *user.ReferredByID, err)
		}

		err := s.DB.Transaction(func(tx *gorm.DB) error {
			_, err := s.CreditOngoingCommission(tx, &referrer, &user, purchaseAmountCents, models.ReasonCommission)
			return err
		})
		if err != nil {
			return err
		}

		if s.Contests != nil {
			if err := s.Contests.OnSubscriptionPayment(user.ID, purchaseAmountCents); err != nil {
				log.Printf("⚠️  Contest capture failed for user %s: %v", user.ID, err)
			}
		}
	}

	if !user.HasHadPaidSubscription {
		if err := s.DB.Model(&models.User{}).Where("id = ?", user.ID).
			Update("has_had_paid_subscription", true).Error; err != nil {
			return fmt.Errorf("failed to mark paid subscription: %w", err)
		}
	}

	return nil
}
