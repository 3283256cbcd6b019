package services

import (
	"testing"
	"time"

	"referral-reward-system/models"

	"github.com/stretchr/testify/require"
)

func testConfig() ReferralConfig {
	return ReferralConfig{
		MinimumTopupCents:    10000,
		FirstTopupBonusCents: 5000,
		InviterBonusCents:    5000,
		CommissionPercent:    10,
	}
}

func TestCreditFirstTopupIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	svc := NewReferralService(db, testConfig())

	referrer := makeUser(t, db, 42, "refB2", nil, time.Time{})
	referral := makeUser(t, db, 777, "refOwn", &referrer.ID, time.Time{})

	result, err := svc.CreditFirstTopup(db, referrer, referral, 100000, models.ReasonFirstTopup)
	require.NoError(t, err)
	require.False(t, result.AlreadyCredited)
	require.Equal(t, int64(5000), result.ReferralBonusCents)
	// 10% of 100000 beats the 5000 floor.
	require.Equal(t, int64(10000), result.ReferrerBonusCents)

	var refState models.User
	require.NoError(t, db.First(&refState, "id = ?", referrer.ID).Error)
	require.Equal(t, int64(10000), refState.BalanceCents)

	var subjState models.User
	require.NoError(t, db.First(&subjState, "id = ?", referral.ID).Error)
	require.Equal(t, int64(5000), subjState.BalanceCents)
	require.True(t, subjState.HasMadeFirstTopup)

	// Second attempt, including under the restored reason, is a no-op.
	again, err := svc.CreditFirstTopup(db, referrer, referral, 100000, models.ReasonRestoredFirstTopup)
	require.NoError(t, err)
	require.True(t, again.AlreadyCredited)

	require.NoError(t, db.First(&refState, "id = ?", referrer.ID).Error)
	require.Equal(t, int64(10000), refState.BalanceCents)

	var earnings int64
	require.NoError(t, db.Model(&models.ReferralEarning{}).
		Where("referrer_id = ? AND referral_id = ?", referrer.ID, referral.ID).
		Count(&earnings).Error)
	require.Equal(t, int64(1), earnings)
}

func TestCreditFirstTopupFixedFloor(t *testing.T) {
	db := openTestDB(t)
	svc := NewReferralService(db, testConfig())

	referrer := makeUser(t, db, 1, "refA", nil, time.Time{})
	referral := makeUser(t, db, 2, "refB", &referrer.ID, time.Time{})

	// 10% of 20000 is 2000, below the 5000 floor.
	result, err := svc.CreditFirstTopup(db, referrer, referral, 20000, models.ReasonFirstTopup)
	require.NoError(t, err)
	require.Equal(t, int64(5000), result.ReferrerBonusCents)
}

func TestCreditFirstTopupRejectsCommissionReason(t *testing.T) {
	db := openTestDB(t)
	svc := NewReferralService(db, testConfig())

	referrer := makeUser(t, db, 1, "refA", nil, time.Time{})
	referral := makeUser(t, db, 2, "refB", &referrer.ID, time.Time{})

	_, err := svc.CreditFirstTopup(db, referrer, referral, 20000, models.ReasonCommission)
	require.Error(t, err)
}

func TestCreditOngoingCommissionRepeats(t *testing.T) {
	db := openTestDB(t)
	svc := NewReferralService(db, testConfig())

	referrer := makeUser(t, db, 1, "refA", nil, time.Time{})
	referral := makeUser(t, db, 2, "refB", &referrer.ID, time.Time{})

	for i := 0; i < 3; i++ {
		result, err := svc.CreditOngoingCommission(db, referrer, referral, 30000, models.ReasonCommission)
		require.NoError(t, err)
		require.Equal(t, int64(3000), result.ReferrerBonusCents)
	}

	var rows int64
	require.NoError(t, db.Model(&models.ReferralEarning{}).
		Where("referrer_id = ? AND referral_id = ? AND reason = ?", referrer.ID, referral.ID, models.ReasonCommission).
		Count(&rows).Error)
	require.Equal(t, int64(3), rows)

	var refState models.User
	require.NoError(t, db.First(&refState, "id = ?", referrer.ID).Error)
	require.Equal(t, int64(9000), refState.BalanceCents)
}

func TestCommissionOverridePercent(t *testing.T) {
	db := openTestDB(t)
	svc := NewReferralService(db, testConfig())

	referrer := makeUser(t, db, 1, "refA", nil, time.Time{})
	override := 25
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", referrer.ID).
		Update("commission_percent", override).Error)
	referrer.CommissionPercent = &override

	require.Equal(t, 25, svc.EffectiveCommissionPercent(referrer))

	referral := makeUser(t, db, 2, "refB", &referrer.ID, time.Time{})
	result, err := svc.CreditOngoingCommission(db, referrer, referral, 10000, models.ReasonCommission)
	require.NoError(t, err)
	require.Equal(t, int64(2500), result.ReferrerBonusCents)
}

func TestProcessTopupBelowMinimumPaysCommissionOnly(t *testing.T) {
	db := openTestDB(t)
	svc := NewReferralService(db, testConfig())

	referrer := makeUser(t, db, 1, "refA", nil, time.Time{})
	referral := makeUser(t, db, 2, "refB", &referrer.ID, time.Time{})

	require.NoError(t, svc.ProcessTopup(referral.ID, 5000))

	var subjState models.User
	require.NoError(t, db.First(&subjState, "id = ?", referral.ID).Error)
	require.False(t, subjState.HasMadeFirstTopup)

	var reasons []models.EarningReason
	require.NoError(t, db.Model(&models.ReferralEarning{}).
		Where("referral_id = ?", referral.ID).
		Pluck("reason", &reasons).Error)
	require.Equal(t, []models.EarningReason{models.ReasonCommission}, reasons)
}

func TestProcessTopupFirstQualifyingCreditsAndClearsMarker(t *testing.T) {
	db := openTestDB(t)
	svc := NewReferralService(db, testConfig())

	referrer := makeUser(t, db, 1, "refA", nil, time.Time{})
	referral := makeUser(t, db, 2, "refB", &referrer.ID, time.Time{})

	require.NoError(t, svc.ProcessRegistration(referral.ID))

	var markers int64
	require.NoError(t, db.Model(&models.ReferralEarning{}).
		Where("referral_id = ? AND reason = ?", referral.ID, models.ReasonRegistration).
		Count(&markers).Error)
	require.Equal(t, int64(1), markers)

	require.NoError(t, svc.ProcessTopup(referral.ID, 100000))

	require.NoError(t, db.Model(&models.ReferralEarning{}).
		Where("referral_id = ? AND reason = ?", referral.ID, models.ReasonRegistration).
		Count(&markers).Error)
	require.Zero(t, markers)

	var subjState models.User
	require.NoError(t, db.First(&subjState, "id = ?", referral.ID).Error)
	require.True(t, subjState.HasMadeFirstTopup)
}

func TestProcessTopupWithoutReferrerIsNoop(t *testing.T) {
	db := openTestDB(t)
	svc := NewReferralService(db, testConfig())

	user := makeUser(t, db, 2, "refB", nil, time.Time{})
	require.NoError(t, svc.ProcessTopup(user.ID, 100000))

	var earnings int64
	require.NoError(t, db.Model(&models.ReferralEarning{}).Count(&earnings).Error)
	require.Zero(t, earnings)
}
