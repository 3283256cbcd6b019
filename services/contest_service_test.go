package services

import (
	"testing"
	"time"

	"referral-reward-system/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func makeContest(t *testing.T, svc *ContestService, ctype models.ContestType, start, end time.Time) *models.Contest {
	t.Helper()
	contest, err := svc.CreateContest(CreateContestParams{
		Title:       "Summer Referral Race",
		ContestType: ctype,
		StartAt:     start,
		EndAt:       end,
	})
	require.NoError(t, err)
	return contest
}

func TestContestWindowNormalizesDateOnlyEnd(t *testing.T) {
	contest := &models.Contest{
		StartAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		EndAt:   time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
	}

	_, end := contestWindow(contest)
	require.Equal(t, 23, end.Hour())
	require.True(t, inWindow(time.Date(2025, 6, 30, 18, 0, 0, 0, time.UTC), contest.StartAt, end))
	require.False(t, inWindow(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), contest.StartAt, end))

	// An explicit intraday end is left alone.
	precise := &models.Contest{
		StartAt: contest.StartAt,
		EndAt:   time.Date(2025, 6, 30, 15, 30, 0, 0, time.UTC),
	}
	_, end = contestWindow(precise)
	require.Equal(t, precise.EndAt, end)
}

func TestCaptureRequiresRegistrationInWindow(t *testing.T) {
	db := openTestDB(t)
	svc := NewContestService(db)

	now := time.Now().UTC()
	contest := makeContest(t, svc, models.ContestTypeReferralPaid, now.Add(-24*time.Hour), now.Add(24*time.Hour))

	referrer := makeUser(t, db, 1, "refA", nil, now.Add(-60*24*time.Hour))
	inside := makeUser(t, db, 2, "refB", &referrer.ID, now.Add(-time.Hour))
	outside := makeUser(t, db, 3, "refC", &referrer.ID, now.Add(-10*24*time.Hour))
	noReferrer := makeUser(t, db, 4, "refD", nil, now.Add(-time.Hour))

	require.NoError(t, svc.OnSubscriptionPayment(inside.ID, 30000))
	require.NoError(t, svc.OnSubscriptionPayment(outside.ID, 30000))
	require.NoError(t, svc.OnSubscriptionPayment(noReferrer.ID, 30000))

	var events []models.ContestEvent
	require.NoError(t, db.Where("contest_id = ?", contest.ID).Find(&events).Error)
	require.Len(t, events, 1)
	require.Equal(t, inside.ID, events[0].ReferralID)
	require.Equal(t, referrer.ID, events[0].ReferrerID)
}

func TestCaptureIsOncePerReferral(t *testing.T) {
	db := openTestDB(t)
	svc := NewContestService(db)

	now := time.Now().UTC()
	contest := makeContest(t, svc, models.ContestTypeReferralPaid, now.Add(-24*time.Hour), now.Add(24*time.Hour))

	referrer := makeUser(t, db, 1, "refA", nil, now.Add(-60*24*time.Hour))
	referral := makeUser(t, db, 2, "refB", &referrer.ID, now.Add(-time.Hour))

	require.NoError(t, svc.OnSubscriptionPayment(referral.ID, 30000))
	require.NoError(t, svc.OnSubscriptionPayment(referral.ID, 45000))

	var count int64
	require.NoError(t, db.Model(&models.ContestEvent{}).
		Where("contest_id = ?", contest.ID).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestInactiveContestCapturesNothing(t *testing.T) {
	db := openTestDB(t)
	svc := NewContestService(db)

	now := time.Now().UTC()
	contest := makeContest(t, svc, models.ContestTypeReferralPaid, now.Add(-24*time.Hour), now.Add(24*time.Hour))
	require.NoError(t, db.Model(&models.Contest{}).Where("id = ?", contest.ID).
		Update("is_active", false).Error)

	referrer := makeUser(t, db, 1, "refA", nil, now.Add(-60*24*time.Hour))
	referral := makeUser(t, db, 2, "refB", &referrer.ID, now.Add(-time.Hour))

	require.NoError(t, svc.OnSubscriptionPayment(referral.ID, 30000))

	var count int64
	require.NoError(t, db.Model(&models.ContestEvent{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestSyncContestRecomputesAndConverges(t *testing.T) {
	db := openTestDB(t)
	svc := NewContestService(db)

	now := time.Now().UTC()
	start, end := now.Add(-10*24*time.Hour), now.Add(24*time.Hour)
	contest := makeContest(t, svc, models.ContestTypeReferralPaid, start, end)

	referrer := makeUser(t, db, 1, "refA", nil, now.Add(-60*24*time.Hour))
	referral := makeUser(t, db, 2, "refB", &referrer.ID, now.Add(-5*24*time.Hour))

	event := models.ContestEvent{
		ID:          uuid.NewString(),
		ContestID:   contest.ID,
		ReferrerID:  referrer.ID,
		ReferralID:  referral.ID,
		AmountCents: 999, // stale, must be recomputed
		EventType:   models.EventSubscriptionPurchase,
		OccurredAt:  now.Add(-time.Hour),
	}
	require.NoError(t, db.Create(&event).Error)

	// Two in-window subscription payments, one pre-window, one bonus deposit.
	makeSubscriptionPayment(t, db, referral.ID, 30000, now.Add(-4*24*time.Hour))
	makeSubscriptionPayment(t, db, referral.ID, 20000, now.Add(-time.Hour))
	makeSubscriptionPayment(t, db, referral.ID, 70000, now.Add(-20*24*time.Hour))
	makeDeposit(t, db, referral.ID, 50000, nil, now.Add(-time.Hour))

	stats, err := svc.SyncContest(contest.ID)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Updated)
	require.Equal(t, int64(50000), stats.TotalAmountCents)
	require.Equal(t, int64(50000), stats.SubscriptionTotal)
	// The bonus deposit carries no payment method, so it never counts.
	require.Zero(t, stats.DepositTotal)

	var fresh models.ContestEvent
	require.NoError(t, db.First(&fresh, "id = ?", event.ID).Error)
	require.Equal(t, int64(50000), fresh.AmountCents)

	// Converged: a second run writes nothing.
	stats2, err := svc.SyncContest(contest.ID)
	require.NoError(t, err)
	require.Zero(t, stats2.Updated)
	require.Equal(t, 1, stats2.Skipped)
}

func TestCleanupRemovesOutOfWindowReferrals(t *testing.T) {
	db := openTestDB(t)
	svc := NewContestService(db)

	now := time.Now().UTC()
	contest := makeContest(t, svc, models.ContestTypeReferralPaid, now.Add(-10*24*time.Hour), now.Add(24*time.Hour))

	referrer := makeUser(t, db, 1, "refA", nil, now.Add(-60*24*time.Hour))
	inside := makeUser(t, db, 2, "refB", &referrer.ID, now.Add(-5*24*time.Hour))
	outside := makeUser(t, db, 3, "refC", &referrer.ID, now.Add(-30*24*time.Hour))

	for _, u := range []*models.User{inside, outside} {
		require.NoError(t, db.Create(&models.ContestEvent{
			ID:         uuid.NewString(),
			ContestID:  contest.ID,
			ReferrerID: referrer.ID,
			ReferralID: u.ID,
			EventType:  models.EventSubscriptionPurchase,
			OccurredAt: now.Add(-time.Hour),
		}).Error)
	}

	stats, err := svc.CleanupContest(contest.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.TotalBefore)
	require.Equal(t, int64(1), stats.Deleted)
	require.Equal(t, int64(1), stats.Remaining)

	var events []models.ContestEvent
	require.NoError(t, db.Where("contest_id = ?", contest.ID).Find(&events).Error)
	require.Len(t, events, 1)
	require.Equal(t, inside.ID, events[0].ReferralID)
}

func TestLeaderboardMergesVirtualAndSorts(t *testing.T) {
	db := openTestDB(t)
	svc := NewContestService(db)

	now := time.Now().UTC()
	contest := makeContest(t, svc, models.ContestTypeReferralPaid, now.Add(-10*24*time.Hour), now.Add(24*time.Hour))

	alice := makeUser(t, db, 1, "refAlice", nil, now.Add(-60*24*time.Hour))
	bob := makeUser(t, db, 2, "refBob", nil, now.Add(-60*24*time.Hour))

	mk := func(referrerID string, base int64, n int, amount int64) {
		for i := 0; i < n; i++ {
			referral := makeUser(t, db, base+int64(i), uuid.NewString()[:8], &referrerID, now.Add(-time.Hour))
			require.NoError(t, db.Create(&models.ContestEvent{
				ID:          uuid.NewString(),
				ContestID:   contest.ID,
				ReferrerID:  referrerID,
				ReferralID:  referral.ID,
				AmountCents: amount,
				EventType:   models.EventSubscriptionPurchase,
				OccurredAt:  now.Add(-time.Hour),
			}).Error)
		}
	}
	mk(alice.ID, 100, 2, 10000) // 2 referrals, 20000 total
	mk(bob.ID, 200, 2, 30000)   // 2 referrals, 60000 total

	_, err := svc.AddVirtualParticipant(contest.ID, "Ghost Racer", 5, 1000)
	require.NoError(t, err)

	entries, err := svc.Leaderboard(contest.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// Count first, then amount.
	require.Equal(t, "Ghost Racer", entries[0].DisplayName)
	require.True(t, entries[0].IsVirtual)
	require.Equal(t, bob.ID, entries[1].ReferrerID)
	require.Equal(t, int64(60000), entries[1].TotalAmountCents)
	require.Equal(t, alice.ID, entries[2].ReferrerID)

	top2, err := svc.Leaderboard(contest.ID, 2)
	require.NoError(t, err)
	require.Len(t, top2, 2)
}

func TestDailySummaryMonotonicMarkers(t *testing.T) {
	db := openTestDB(t)
	svc := NewContestService(db)

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	contest, err := svc.CreateContest(CreateContestParams{
		Title:             "June Race",
		ContestType:       models.ContestTypeReferralPaid,
		StartAt:           start,
		EndAt:             end,
		DailySummaryTimes: "09:00,18:00",
	})
	require.NoError(t, err)

	// Before the first slot: nothing due.
	_, ok := svc.DueDailySummary(contest, time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC))
	require.False(t, ok)

	// After the first slot: the 09:00 summary is due.
	due, ok := svc.DueDailySummary(contest, time.Date(2025, 6, 10, 9, 30, 0, 0, time.UTC))
	require.True(t, ok)
	require.Equal(t, time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC), due)

	// Mark sent; the same slot never fires again.
	contest.LastDailySummaryAt = &due
	_, ok = svc.DueDailySummary(contest, time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC))
	require.False(t, ok)

	// The evening slot still fires.
	due2, ok := svc.DueDailySummary(contest, time.Date(2025, 6, 10, 18, 5, 0, 0, time.UTC))
	require.True(t, ok)
	require.Equal(t, 18, due2.Hour())

	// Outside the contest days: nothing due.
	_, ok = svc.DueDailySummary(contest, time.Date(2025, 7, 2, 9, 30, 0, 0, time.UTC))
	require.False(t, ok)
}

func TestSummaryTextFormatsMoneyAndCounts(t *testing.T) {
	contest := &models.Contest{Title: "June Race"}
	entries := []RankedEntry{
		{DisplayName: "Alice", ReferralCount: 1200, TotalAmountCents: 1234567},
		{DisplayName: "Ghost Racer", ReferralCount: 5, TotalAmountCents: 1000, IsVirtual: true},
	}

	text := SummaryText(contest, entries, 1205, false)
	require.Contains(t, text, `Contest "June Race" — standings`)
	require.Contains(t, text, "Total referrals: 1,205")
	require.Contains(t, text, "🥇 Alice — 1,200 referrals, $12,345.67")
	require.Contains(t, text, "🥈 Ghost Racer — 5 referrals, $10.00")

	final := SummaryText(contest, entries, 1205, true)
	require.Contains(t, final, "finished — final standings")
}

type recordingNotifier struct {
	daily int
	final int
}

func (n *recordingNotifier) NotifySummary(_ *models.Contest, _ []RankedEntry, _ int64, isFinal bool) error {
	if isFinal {
		n.final++
	} else {
		n.daily++
	}
	return nil
}

func TestFinalSummaryDeactivatesContest(t *testing.T) {
	db := openTestDB(t)
	svc := NewContestService(db)
	notifier := &recordingNotifier{}
	svc.Notifier = notifier

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	contest, err := svc.CreateContest(CreateContestParams{
		Title:             "Short Race",
		ContestType:       models.ContestTypeReferralPaid,
		StartAt:           start,
		EndAt:             end,
		DailySummaryTimes: "12:00",
	})
	require.NoError(t, err)

	after := time.Date(2025, 6, 10, 12, 30, 0, 0, time.UTC)
	require.True(t, svc.DueFinalSummary(contest, after))
	require.False(t, svc.DueFinalSummary(contest, time.Date(2025, 6, 9, 12, 30, 0, 0, time.UTC)))

	require.NoError(t, svc.ProcessDueSummaries(after))
	require.Equal(t, 1, notifier.final)

	var fresh models.Contest
	require.NoError(t, db.First(&fresh, "id = ?", contest.ID).Error)
	require.True(t, fresh.FinalSummarySent)
	require.False(t, fresh.IsActive)

	// Re-polling after completion sends nothing more.
	require.NoError(t, svc.ProcessDueSummaries(after.Add(time.Hour)))
	require.Equal(t, 1, notifier.final)
}
