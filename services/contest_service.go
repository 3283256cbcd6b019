// services/contest_service.go
package services

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"referral-reward-system/models"
	"referral-reward-system/utils"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// SummaryNotifier is the messaging boundary. The engine only decides that a
// summary is due and what it contains; delivery lives outside this core.
type SummaryNotifier interface {
	NotifySummary(contest *models.Contest, entries []RankedEntry, totalEvents int64, isFinal bool) error
}

// SummaryText renders the human-readable standings block every notifier
// channel shares. Top ten entries, medal markers for the podium, money and
// counts formatted for reading.
func SummaryText(contest *models.Contest, entries []RankedEntry, totalEvents int64, isFinal bool) string {
	var b strings.Builder
	if isFinal {
		fmt.Fprintf(&b, "🏁 Contest %q finished — final standings\n", contest.Title)
	} else {
		fmt.Fprintf(&b, "🏆 Contest %q — standings\n", contest.Title)
	}
	fmt.Fprintf(&b, "Total referrals: %s\n", utils.FormatCount(totalEvents))

	medals := []string{"🥇", "🥈", "🥉"}
	for i, e := range entries {
		if i >= 10 {
			break
		}
		marker := fmt.Sprintf("%d.", i+1)
		if i < len(medals) {
			marker = medals[i]
		}
		fmt.Fprintf(&b, "%s %s — %s referrals, %s\n",
			marker, e.DisplayName, utils.FormatCount(e.ReferralCount), utils.FormatCents(e.TotalAmountCents))
	}
	return b.String()
}

// LogNotifier is the default no-channel notifier.
type LogNotifier struct{}

func (LogNotifier) NotifySummary(contest *models.Contest, entries []RankedEntry, totalEvents int64, isFinal bool) error {
	log.Printf("%s", SummaryText(contest, entries, totalEvents, isFinal))
	return nil
}

// ContestService maintains the period-scoped contest event ledger and derives
// standings from the transaction ledger.
type ContestService struct {
	DB       *gorm.DB
	Notifier SummaryNotifier
}

func NewContestService(db *gorm.DB) *ContestService {
	return &ContestService{DB: db, Notifier: LogNotifier{}}
}

// RankedEntry is one leaderboard row. Virtual entries are tagged so the
// presentation layer can mark them distinctly.
type RankedEntry struct {
	ReferrerID       string `json:"referrer_id,omitempty"`
	DisplayName      string `json:"display_name"`
	ReferralCount    int64  `json:"referral_count"`
	TotalAmountCents int64  `json:"total_amount_cents"`
	IsVirtual        bool   `json:"is_virtual"`
}

// SyncStats reports one sync run.
type SyncStats struct {
	Updated           int   `json:"updated"`
	Skipped           int   `json:"skipped"`
	TotalEvents       int   `json:"total_events"`
	FilteredOutEvents int   `json:"filtered_out_events"`
	TotalAmountCents  int64 `json:"total_amount_cents"`
	PaidCount         int   `json:"paid_count"`
	UnpaidCount       int   `json:"unpaid_count"`
	SubscriptionTotal int64 `json:"subscription_total_cents"`
	DepositTotal      int64 `json:"deposit_total_cents"`
}

// CleanupStats reports one cleanup run.
type CleanupStats struct {
	Deleted     int64 `json:"deleted"`
	Remaining   int64 `json:"remaining"`
	TotalBefore int64 `json:"total_before"`
}

// CreateContestParams is the admin-facing creation payload.
type CreateContestParams struct {
	Title             string             `json:"title"`
	Description       string             `json:"description"`
	PrizeText         string             `json:"prize_text"`
	ContestType       models.ContestType `json:"contest_type"`
	StartAt           time.Time          `json:"start_at"`
	EndAt             time.Time          `json:"end_at"`
	Timezone          string             `json:"timezone"`
	DailySummaryTimes string             `json:"daily_summary_times"`
	CreatedBy         *string            `json:"created_by,omitempty"`
}

func (s *ContestService) CreateContest(p CreateContestParams) (*models.Contest, error) {
	if p.Title == "" {
		return nil, errors.New("contest title is required")
	}
	if !p.EndAt.After(p.StartAt) {
		return nil, errors.New("contest end must be after start")
	}
	if p.ContestType == "" {
		p.ContestType = models.ContestTypeReferralPaid
	}
	if p.Timezone == "" {
		p.Timezone = "UTC"
	}

	contest := models.Contest{
		ID:                uuid.NewString(),
		Title:             p.Title,
		Slug:              slug.Make(p.Title),
		Description:       p.Description,
		PrizeText:         p.PrizeText,
		ContestType:       p.ContestType,
		StartAt:           p.StartAt.UTC(),
		EndAt:             p.EndAt.UTC(),
		Timezone:          p.Timezone,
		DailySummaryTimes: p.DailySummaryTimes,
		IsActive:          true,
		CreatedBy:         p.CreatedBy,
	}
	if err := s.DB.Create(&contest).Error; err != nil {
		return nil, fmt.Errorf("failed to create contest: %w", err)
	}
	return &contest, nil
}

func (s *ContestService) GetContest(id string) (*models.Contest, error) {
	var contest models.Contest
	if err := s.DB.First(&contest, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &contest, nil
}

func (s *ContestService) ListContests(limit, offset int) ([]models.Contest, error) {
	var contests []models.Contest
	q := s.DB.Order("start_at DESC").Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&contests).Error; err != nil {
		return nil, err
	}
	return contests, nil
}

// contestWindow widens a date-only EndAt (midnight) to the end of that day so
// the inclusive [StartAt, EndAt] comparison covers the whole final day.
func contestWindow(c *models.Contest) (time.Time, time.Time) {
	start := c.StartAt
	end := c.EndAt
	if end.Hour() == 0 && end.Minute() == 0 && end.Second() == 0 {
		end = end.Add(24*time.Hour - time.Microsecond)
	}
	return start, end
}

func inWindow(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}

// activeContests returns contests eligible for event capture right now.
func (s *ContestService) activeContests(now time.Time, contestType models.ContestType) ([]models.Contest, error) {
	var contests []models.Contest
	err := s.DB.
		Where("is_active = ? AND start_at <= ? AND end_at >= ?", true, now, now).
		Where("contest_type = ?", contestType).
		Find(&contests).Error
	return contests, err
}

// addEvent appends a contest event unless the (contest, referral) pair already
// holds one. Returns whether a new row was created.
func (s *ContestService) addEvent(
	contestID, referrerID, referralID string,
	amountCents int64,
	eventType models.ContestEventType,
) (bool, error) {
	var existing models.ContestEvent
	err := s.DB.Where("contest_id = ? AND referral_id = ?", contestID, referralID).
		First(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	event := models.ContestEvent{
		ID:          uuid.NewString(),
		ContestID:   contestID,
		ReferrerID:  referrerID,
		ReferralID:  referralID,
		AmountCents: amountCents,
		EventType:   eventType,
		OccurredAt:  time.Now().UTC(),
	}
	if err := s.DB.Create(&event).Error; err != nil {
		return false, fmt.Errorf("failed to create contest event: %w", err)
	}
	return true, nil
}

// captureForUser records an event in every active contest of the given type,
// provided the referral registered inside the contest window. Registrations
// outside the window are ignored at capture time.
func (s *ContestService) captureForUser(
	user *models.User,
	amountCents int64,
	contestType models.ContestType,
	eventType models.ContestEventType,
) error {
	if user.ReferredByID == nil {
		return nil
	}

	contests, err := s.activeContests(time.Now().UTC(), contestType)
	if err != nil {
		return err
	}

	for i := range contests {
		contest := &contests[i]
		start, end := contestWindow(contest)
		if !inWindow(user.CreatedAt, start, end) {
			continue
		}
		created, err := s.addEvent(contest.ID, *user.ReferredByID, user.ID, amountCents, eventType)
		if err != nil {
			log.Printf("❌ Failed to record contest event (contest=%s referral=%s): %v", contest.ID, user.ID, err)
			continue
		}
		if created {
			log.Printf("🏆 Contest %s: event recorded referrer=%s referral=%s", contest.ID, *user.ReferredByID, user.ID)
		}
	}
	return nil
}

// OnSubscriptionPayment captures a qualifying purchase into paid-type contests.
func (s *ContestService) OnSubscriptionPayment(userID string, amountCents int64) error {
	var user models.User
	if err := s.DB.First(&user, "id = ?", userID).Error; err != nil {
		return fmt.Errorf("user %s not found: %w", userID, err)
	}
	return s.captureForUser(&user, amountCents, models.ContestTypeReferralPaid, models.EventSubscriptionPurchase)
}

// OnReferralRegistration captures a new referral into registration contests.
func (s *ContestService) OnReferralRegistration(userID string) error {
	var user models.User
	if err := s.DB.First(&user, "id = ?", userID).Error; err != nil {
		return fmt.Errorf("user %s not found: %w", userID, err)
	}
	return s.captureForUser(&user, 0, models.ContestTypeReferralRegistered, models.EventReferralRegistration)
}

// OnRestoredReferral lets the repair path enter a recovered referral into
// whatever active contests it qualifies for.
func (s *ContestService) OnRestoredReferral(referral *models.User, amountCents int64) error {
	if err := s.captureForUser(referral, amountCents, models.ContestTypeReferralPaid, models.EventRestoredReferral); err != nil {
		return err
	}
	return s.captureForUser(referral, 0, models.ContestTypeReferralRegistered, models.EventRestoredRegistration)
}

// SyncContest recomputes every surviving event's amount from the transaction
// ledger, strictly inside the contest window. Amounts are written only when
// they differ, so a converged contest produces zero writes.
func (s *ContestService) SyncContest(contestID string) (*SyncStats, error) {
	contest, err := s.GetContest(contestID)
	if err != nil {
		return nil, fmt.Errorf("contest not found: %w", err)
	}
	start, end := contestWindow(contest)

	stats := &SyncStats{}

	var totalAllEvents int64
	if err := s.DB.Model(&models.ContestEvent{}).
		Where("contest_id = ?", contestID).
		Count(&totalAllEvents).Error; err != nil {
		return nil, err
	}

	// Only events whose referral registered in-window; the rest belong to
	// cleanup, not sync.
	var events []models.ContestEvent
	if err := s.DB.Model(&models.ContestEvent{}).
		Select("contest_events.*").
		Joins("JOIN users ON users.id = contest_events.referral_id").
		Where("contest_events.contest_id = ? AND users.created_at >= ? AND users.created_at <= ?",
			contestID, start, end).
		Find(&events).Error; err != nil {
		return nil, err
	}

	stats.TotalEvents = len(events)
	stats.FilteredOutEvents = int(totalAllEvents) - len(events)

	for i := range events {
		event := &events[i]

		var subscriptionPaid int64
		if err := s.DB.Model(&models.Transaction{}).
			Select("COALESCE(SUM(ABS(amount_cents)), 0)").
			Where("user_id = ? AND is_completed = ? AND type = ? AND created_at >= ? AND created_at <= ?",
				event.ReferralID, true, models.TransactionSubscriptionPayment, start, end).
			Scan(&subscriptionPaid).Error; err != nil {
			return nil, err
		}

		// Real deposits only; bonuses carry no payment method.
		var depositPaid int64
		if err := s.DB.Model(&models.Transaction{}).
			Select("COALESCE(SUM(amount_cents), 0)").
			Where("user_id = ? AND is_completed = ? AND type = ? AND payment_method IS NOT NULL AND created_at >= ? AND created_at <= ?",
				event.ReferralID, true, models.TransactionDeposit, start, end).
			Scan(&depositPaid).Error; err != nil {
			return nil, err
		}

		stats.SubscriptionTotal += subscriptionPaid
		stats.DepositTotal += depositPaid

		// Subscription spend is the scored metric.
		totalPaid := subscriptionPaid
		if totalPaid > 0 {
			stats.TotalAmountCents += totalPaid
			stats.PaidCount++
		} else {
			stats.UnpaidCount++
		}

		if event.AmountCents != totalPaid {
			if err := s.DB.Model(&models.ContestEvent{}).Where("id = ?", event.ID).
				Update("amount_cents", totalPaid).Error; err != nil {
				return nil, fmt.Errorf("failed to update event %s: %w", event.ID, err)
			}
			stats.Updated++
		} else {
			stats.Skipped++
		}
	}

	log.Printf("✅ Contest %s synced: updated=%d skipped=%d amount=%d", contestID, stats.Updated, stats.Skipped, stats.TotalAmountCents)
	return stats, nil
}

// CleanupContest removes events whose referral registered outside the contest
// window — late data corrections and pre-fix rows.
func (s *ContestService) CleanupContest(contestID string) (*CleanupStats, error) {
	contest, err := s.GetContest(contestID)
	if err != nil {
		return nil, fmt.Errorf("contest not found: %w", err)
	}
	start, end := contestWindow(contest)

	stats := &CleanupStats{}
	if err := s.DB.Model(&models.ContestEvent{}).
		Where("contest_id = ?", contestID).
		Count(&stats.TotalBefore).Error; err != nil {
		return nil, err
	}

	var invalidIDs []string
	if err := s.DB.Model(&models.ContestEvent{}).
		Joins("JOIN users ON users.id = contest_events.referral_id").
		Where("contest_events.contest_id = ? AND NOT (users.created_at >= ? AND users.created_at <= ?)",
			contestID, start, end).
		Pluck("contest_events.id", &invalidIDs).Error; err != nil {
		return nil, err
	}

	if len(invalidIDs) > 0 {
		result := s.DB.Where("id IN ?", invalidIDs).Delete(&models.ContestEvent{})
		if result.Error != nil {
			return nil, fmt.Errorf("failed to delete invalid events: %w", result.Error)
		}
		stats.Deleted = result.RowsAffected
	}

	if err := s.DB.Model(&models.ContestEvent{}).
		Where("contest_id = ?", contestID).
		Count(&stats.Remaining).Error; err != nil {
		return nil, err
	}

	log.Printf("🧹 Contest %s cleanup: deleted=%d remaining=%d (was %d)", contestID, stats.Deleted, stats.Remaining, stats.TotalBefore)
	return stats, nil
}

// Leaderboard merges real participants with virtual ones into one ranked
// sequence: (referral count desc, total amount desc). Pure merge-then-sort —
// no shared collection is mutated while iterating.
func (s *ContestService) Leaderboard(contestID string, limit int) ([]RankedEntry, error) {
	contest, err := s.GetContest(contestID)
	if err != nil {
		return nil, fmt.Errorf("contest not found: %w", err)
	}
	start, end := contestWindow(contest)

	type row struct {
		ReferrerID       string
		FullName         string
		ReferralCount    int64
		TotalAmountCents int64
	}
	var rows []row
	if err := s.DB.Model(&models.ContestEvent{}).
		Select("contest_events.referrer_id, users.full_name, COUNT(contest_events.id) AS referral_count, COALESCE(SUM(contest_events.amount_cents), 0) AS total_amount_cents").
		Joins("JOIN users ON users.id = contest_events.referrer_id").
		Where("contest_events.contest_id = ? AND contest_events.occurred_at >= ? AND contest_events.occurred_at <= ?",
			contestID, start, end).
		Group("contest_events.referrer_id, users.full_name").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	virtual, err := s.ListVirtualParticipants(contestID)
	if err != nil {
		return nil, err
	}

	merged := make([]RankedEntry, 0, len(rows)+len(virtual))
	for _, r := range rows {
		merged = append(merged, RankedEntry{
			ReferrerID:       r.ReferrerID,
			DisplayName:      r.FullName,
			ReferralCount:    r.ReferralCount,
			TotalAmountCents: r.TotalAmountCents,
		})
	}
	for _, vp := range virtual {
		merged = append(merged, RankedEntry{
			DisplayName:      vp.DisplayName,
			ReferralCount:    vp.ReferralCount,
			TotalAmountCents: vp.TotalAmountCents,
			IsVirtual:        true,
		})
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].ReferralCount != merged[j].ReferralCount {
			return merged[i].ReferralCount > merged[j].ReferralCount
		}
		return merged[i].TotalAmountCents > merged[j].TotalAmountCents
	})

	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// ContestStats is the read-only aggregate view for the admin surface.
type ContestStats struct {
	Contest          *models.Contest                   `json:"contest"`
	TotalEvents      int64                             `json:"total_events"`
	TotalAmountCents int64                             `json:"total_amount_cents"`
	EventsByType     map[models.ContestEventType]int64 `json:"events_by_type"`
	VirtualCount     int64                             `json:"virtual_count"`
}

// Stats summarizes a contest without touching any row.
func (s *ContestService) Stats(contestID string) (*ContestStats, error) {
	contest, err := s.GetContest(contestID)
	if err != nil {
		return nil, fmt.Errorf("contest not found: %w", err)
	}

	stats := &ContestStats{Contest: contest, EventsByType: make(map[models.ContestEventType]int64)}

	if err := s.DB.Model(&models.ContestEvent{}).
		Where("contest_id = ?", contestID).
		Count(&stats.TotalEvents).Error; err != nil {
		return nil, err
	}
	if err := s.DB.Model(&models.ContestEvent{}).
		Select("COALESCE(SUM(amount_cents), 0)").
		Where("contest_id = ?", contestID).
		Scan(&stats.TotalAmountCents).Error; err != nil {
		return nil, err
	}

	type typeRow struct {
		EventType models.ContestEventType
		N         int64
	}
	var rows []typeRow
	if err := s.DB.Model(&models.ContestEvent{}).
		Select("event_type, COUNT(*) AS n").
		Where("contest_id = ?", contestID).
		Group("event_type").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		stats.EventsByType[r.EventType] = r.N
	}

	if err := s.DB.Model(&models.VirtualParticipant{}).
		Where("contest_id = ?", contestID).
		Count(&stats.VirtualCount).Error; err != nil {
		return nil, err
	}

	return stats, nil
}

// --- Virtual participants ---

func (s *ContestService) AddVirtualParticipant(contestID, displayName string, referralCount, totalAmountCents int64) (*models.VirtualParticipant, error) {
	if _, err := s.GetContest(contestID); err != nil {
		return nil, fmt.Errorf("contest not found: %w", err)
	}
	vp := models.VirtualParticipant{
		ID:               uuid.NewString(),
		ContestID:        contestID,
		DisplayName:      displayName,
		ReferralCount:    referralCount,
		TotalAmountCents: totalAmountCents,
	}
	if err := s.DB.Create(&vp).Error; err != nil {
		return nil, err
	}
	return &vp, nil
}

func (s *ContestService) ListVirtualParticipants(contestID string) ([]models.VirtualParticipant, error) {
	var vps []models.VirtualParticipant
	err := s.DB.Where("contest_id = ?", contestID).
		Order("referral_count DESC").
		Find(&vps).Error
	return vps, err
}

func (s *ContestService) DeleteVirtualParticipant(id string) (bool, error) {
	result := s.DB.Where("id = ?", id).Delete(&models.VirtualParticipant{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// --- Summary scheduling ---

func (s *ContestService) contestLocation(c *models.Contest) *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Printf("⚠️  Unknown timezone %q for contest %s, using UTC", c.Timezone, c.ID)
		return time.UTC
	}
	return loc
}

type summaryTime struct {
	hour, minute int
}

// parseSummaryTimes parses the configured "HH:MM,HH:MM" list, defaulting to a
// single midday summary. Unparseable entries are skipped.
func parseSummaryTimes(raw string) []summaryTime {
	var times []summaryTime
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		t, err := time.Parse("15:04", part)
		if err != nil {
			continue
		}
		times = append(times, summaryTime{hour: t.Hour(), minute: t.Minute()})
	}
	if len(times) == 0 {
		times = append(times, summaryTime{hour: 12})
	}
	sort.Slice(times, func(i, j int) bool {
		if times[i].hour != times[j].hour {
			return times[i].hour < times[j].hour
		}
		return times[i].minute < times[j].minute
	})
	return times
}

// DueDailySummary returns the due summary instant for the contest at `now`,
// or false when nothing is due (outside the contest days, before the
// configured time, or already sent for that slot).
func (s *ContestService) DueDailySummary(c *models.Contest, now time.Time) (time.Time, bool) {
	loc := s.contestLocation(c)
	nowLocal := now.In(loc)
	startLocal := c.StartAt.In(loc)
	endLocal := c.EndAt.In(loc)

	nowDate := nowLocal.Format("2006-01-02")
	if nowDate < startLocal.Format("2006-01-02") || nowDate > endLocal.Format("2006-01-02") {
		return time.Time{}, false
	}

	for _, st := range parseSummaryTimes(c.DailySummaryTimes) {
		due := time.Date(nowLocal.Year(), nowLocal.Month(), nowLocal.Day(), st.hour, st.minute, 0, 0, loc).UTC()
		if now.Before(due) {
			continue
		}
		if c.LastDailySummaryAt != nil && !c.LastDailySummaryAt.Before(due) {
			continue
		}
		return due, true
	}
	return time.Time{}, false
}

// DueFinalSummary reports whether the final summary should fire now: the
// contest has ended and the last configured summary time on the final day has
// passed.
func (s *ContestService) DueFinalSummary(c *models.Contest, now time.Time) bool {
	if c.FinalSummarySent {
		return false
	}
	if now.Before(c.EndAt) {
		return false
	}

	loc := s.contestLocation(c)
	endLocal := c.EndAt.In(loc)
	times := parseSummaryTimes(c.DailySummaryTimes)
	last := times[len(times)-1]
	due := time.Date(endLocal.Year(), endLocal.Month(), endLocal.Day(), last.hour, last.minute, 0, 0, loc).UTC()
	return !now.Before(due)
}

// ProcessDueSummaries is the poller entry point: emits whatever daily or
// final summaries are due and advances the monotonic sent markers so repeated
// polling never re-sends.
func (s *ContestService) ProcessDueSummaries(now time.Time) error {
	var contests []models.Contest
	if err := s.DB.Where("is_active = ?", true).Find(&contests).Error; err != nil {
		return err
	}

	for i := range contests {
		contest := &contests[i]

		if due, ok := s.DueDailySummary(contest, now); ok {
			if err := s.emitSummary(contest, false); err != nil {
				log.Printf("❌ Daily summary failed for contest %s: %v", contest.ID, err)
				continue
			}
			contest.LastDailySummaryAt = &due
			if err := s.DB.Model(&models.Contest{}).Where("id = ?", contest.ID).
				Update("last_daily_summary_at", due).Error; err != nil {
				return err
			}
		}

		if s.DueFinalSummary(contest, now) {
			if err := s.emitSummary(contest, true); err != nil {
				log.Printf("❌ Final summary failed for contest %s: %v", contest.ID, err)
				continue
			}
			// Final summary completes the contest.
			if err := s.DB.Model(&models.Contest{}).Where("id = ?", contest.ID).
				Updates(map[string]interface{}{"final_summary_sent": true, "is_active": false}).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *ContestService) emitSummary(contest *models.Contest, isFinal bool) error {
	entries, err := s.Leaderboard(contest.ID, 0)
	if err != nil {
		return err
	}

	var totalEvents int64
	if err := s.DB.Model(&models.ContestEvent{}).
		Where("contest_id = ?", contest.ID).
		Count(&totalEvents).Error; err != nil {
		return err
	}
	var virtualCount int64
	if err := s.DB.Model(&models.VirtualParticipant{}).
		Select("COALESCE(SUM(referral_count), 0)").
		Where("contest_id = ?", contest.ID).
		Scan(&virtualCount).Error; err != nil {
		return err
	}

	notifier := s.Notifier
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return notifier.NotifySummary(contest, entries, totalEvents+virtualCount, isFinal)
}
