package services

import (
	"fmt"
	"testing"
	"time"

	"referral-reward-system/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// openTestDB gives each test its own in-memory database, fully migrated.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))
	return db
}

func makeUser(t *testing.T, db *gorm.DB, externalID int64, code string, referredBy *string, createdAt time.Time) *models.User {
	t.Helper()

	user := models.User{
		ID:           uuid.NewString(),
		ExternalID:   externalID,
		FullName:     fmt.Sprintf("User %d", externalID),
		ReferralCode: code,
		ReferredByID: referredBy,
	}
	require.NoError(t, db.Create(&user).Error)
	if !createdAt.IsZero() {
		require.NoError(t, db.Model(&models.User{}).Where("id = ?", user.ID).
			Update("created_at", createdAt).Error)
		user.CreatedAt = createdAt
	}
	return &user
}

func makeDeposit(t *testing.T, db *gorm.DB, userID string, amountCents int64, method *string, at time.Time) *models.Transaction {
	t.Helper()

	tx := models.Transaction{
		ID:            uuid.NewString(),
		UserID:        userID,
		Type:          models.TransactionDeposit,
		AmountCents:   amountCents,
		IsCompleted:   true,
		PaymentMethod: method,
	}
	require.NoError(t, db.Create(&tx).Error)
	if !at.IsZero() {
		require.NoError(t, db.Model(&models.Transaction{}).Where("id = ?", tx.ID).
			Update("created_at", at).Error)
		tx.CreatedAt = at
	}
	return &tx
}

func makeSubscriptionPayment(t *testing.T, db *gorm.DB, userID string, amountCents int64, at time.Time) *models.Transaction {
	t.Helper()

	tx := models.Transaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		Type:        models.TransactionSubscriptionPayment,
		AmountCents: amountCents,
		IsCompleted: true,
	}
	require.NoError(t, db.Create(&tx).Error)
	if !at.IsZero() {
		require.NoError(t, db.Model(&models.Transaction{}).Where("id = ?", tx.ID).
			Update("created_at", at).Error)
		tx.CreatedAt = at
	}
	return &tx
}

func strPtr(s string) *string { return &s }
