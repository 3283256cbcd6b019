// services/diagnostics.go
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"referral-reward-system/models"

	"gorm.io/gorm"
)

// LostReason classifies why a click produced no attribution.
type LostReason string

const (
	// The subject never registered at all.
	LostUnregistered LostReason = "unregistered"
	// Registered through the click, but no referrer was recorded.
	LostNoReferrer LostReason = "no_referrer"
	// Registered with a different referrer than the clicked code.
	LostReferrerMismatch LostReason = "referrer_mismatch"
)

// LostReferral is one click whose attribution is missing or wrong, with
// everything the repair path needs to act on it.
type LostReferral struct {
	ExternalID int64      `json:"external_id"`
	CleanCode  string     `json:"clean_code"`
	ClickedAt  time.Time  `json:"clicked_at"`
	Reason     LostReason `json:"reason"`

	UserID             *string `json:"user_id,omitempty"`
	Username           *string `json:"username,omitempty"`
	CurrentReferrerID  *string `json:"current_referrer_id,omitempty"`
	ExpectedReferrerID *string `json:"expected_referrer_id,omitempty"`

	LogLine string `json:"log_line,omitempty"`
}

// DiagnosticReport is the read-only output of one analysis pass.
type DiagnosticReport struct {
	PeriodStart time.Time  `json:"period_start"`
	PeriodEnd   time.Time  `json:"period_end"`
	Parse       ParseStats `json:"parse"`

	TotalClicks    int `json:"total_clicks"`
	UniqueSubjects int `json:"unique_subjects"`

	Lost       []LostReferral     `json:"lost"`
	ByReason   map[LostReason]int `json:"by_reason"`
	Attributed int                `json:"attributed"`
	Veterans   int                `json:"veterans"`
}

// FixDetail is the per-case outcome of a repair run.
type FixDetail struct {
	ExternalID int64  `json:"external_id"`
	CleanCode  string `json:"clean_code"`
	// restored | linked | skipped | failed
	Outcome       string `json:"outcome"`
	Note          string `json:"note,omitempty"`
	CreditedCents int64  `json:"credited_cents,omitempty"`
}

// FixReport aggregates a repair run. Preview and apply emit the same shape so
// operators can diff the two.
type FixReport struct {
	Preview bool        `json:"preview"`
	Fixed   int         `json:"fixed"`
	Skipped int         `json:"skipped"`
	Failed  int         `json:"failed"`
	Total   int         `json:"total"`
	Details []FixDetail `json:"details"`

	TotalCreditedCents int64 `json:"total_credited_cents"`
}

// MissingBonus is an attributed referral whose qualifying first topup never
// produced a ledger row.
type MissingBonus struct {
	UserID           string    `json:"user_id"`
	ReferrerID       string    `json:"referrer_id"`
	TopupAmountCents int64     `json:"topup_amount_cents"`
	TopupAt          time.Time `json:"topup_at"`
}

// errPreviewRollback terminates a preview transaction. It never leaves this
// package.
var errPreviewRollback = errors.New("preview rollback")

// DiagnosticService correlates click logs against registration state and
// repairs what the live path lost. It never mutates anything during analysis;
// only the explicit apply paths write.
type DiagnosticService struct {
	DB        *gorm.DB
	Rewards   *ReferralService
	Extractor *LogExtractor
}

func NewDiagnosticService(db *gorm.DB, rewards *ReferralService, extractor *LogExtractor) *DiagnosticService {
	return &DiagnosticService{DB: db, Rewards: rewards, Extractor: extractor}
}

// dedupeClicks keeps the last click per subject: a user who clicked several
// referral links is attributed to the one they acted on most recently.
func dedupeClicks(clicks []ReferralClick) []ReferralClick {
	seen := make(map[int64]int)
	var out []ReferralClick
	for _, c := range clicks {
		if idx, ok := seen[c.ExternalID]; ok {
			out[idx] = c
			continue
		}
		seen[c.ExternalID] = len(out)
		out = append(out, c)
	}
	return out
}

// findLostReferrals classifies each deduplicated click. The rule order is
// fixed: unregistered, then veteran (registered before the click, never
// flagged), then missing referrer, then referrer mismatch.
func (s *DiagnosticService) findLostReferrals(clicks []ReferralClick) ([]LostReferral, int, int, error) {
	clicks = dedupeClicks(clicks)
	if len(clicks) == 0 {
		return nil, 0, 0, nil
	}

	externalIDs := make([]int64, 0, len(clicks))
	codeSet := make(map[string]bool)
	for _, c := range clicks {
		externalIDs = append(externalIDs, c.ExternalID)
		codeSet[c.CleanCode] = true
	}
	codes := make([]string, 0, len(codeSet))
	for code := range codeSet {
		codes = append(codes, code)
	}

	var users []models.User
	if err := s.DB.Where("external_id IN ?", externalIDs).Find(&users).Error; err != nil {
		return nil, 0, 0, fmt.Errorf("failed to load subjects: %w", err)
	}
	byExternal := make(map[int64]*models.User, len(users))
	for i := range users {
		byExternal[users[i].ExternalID] = &users[i]
	}

	var referrers []models.User
	if err := s.DB.Where("referral_code IN ?", codes).Find(&referrers).Error; err != nil {
		return nil, 0, 0, fmt.Errorf("failed to load referrers: %w", err)
	}
	byCode := make(map[string]*models.User, len(referrers))
	for i := range referrers {
		byCode[referrers[i].ReferralCode] = &referrers[i]
	}

	var lost []LostReferral
	attributed, veterans := 0, 0

	for _, click := range clicks {
		var expectedID *string
		if ref, ok := byCode[click.CleanCode]; ok {
			id := ref.ID
			expectedID = &id
		}

		user, registered := byExternal[click.ExternalID]
		if !registered {
			lost = append(lost, LostReferral{
				ExternalID:         click.ExternalID,
				CleanCode:          click.CleanCode,
				ClickedAt:          click.Timestamp,
				Reason:             LostUnregistered,
				ExpectedReferrerID: expectedID,
				LogLine:            click.LogLine,
			})
			continue
		}

		// A subject registered before the click was already someone's user (or
		// nobody's); the click could not have been their registration referral.
		if user.CreatedAt.Before(click.Timestamp) {
			veterans++
			continue
		}

		if user.ReferredByID == nil {
			lost = append(lost, LostReferral{
				ExternalID:         click.ExternalID,
				CleanCode:          click.CleanCode,
				ClickedAt:          click.Timestamp,
				Reason:             LostNoReferrer,
				UserID:             &user.ID,
				Username:           user.Username,
				ExpectedReferrerID: expectedID,
				LogLine:            click.LogLine,
			})
			continue
		}

		if expectedID != nil && *user.ReferredByID != *expectedID {
			lost = append(lost, LostReferral{
				ExternalID:         click.ExternalID,
				CleanCode:          click.CleanCode,
				ClickedAt:          click.Timestamp,
				Reason:             LostReferrerMismatch,
				UserID:             &user.ID,
				Username:           user.Username,
				CurrentReferrerID:  user.ReferredByID,
				ExpectedReferrerID: expectedID,
				LogLine:            click.LogLine,
			})
			continue
		}

		attributed++
	}

	return lost, attributed, veterans, nil
}

func (s *DiagnosticService) buildReport(clicks []ReferralClick, stats ParseStats, start, end time.Time) (*DiagnosticReport, error) {
	lost, attributed, veterans, err := s.findLostReferrals(clicks)
	if err != nil {
		return nil, err
	}

	subjects := make(map[int64]bool)
	for _, c := range clicks {
		subjects[c.ExternalID] = true
	}

	byReason := make(map[LostReason]int)
	for _, l := range lost {
		byReason[l.Reason]++
	}

	report := &DiagnosticReport{
		PeriodStart:    start,
		PeriodEnd:      end,
		Parse:          stats,
		TotalClicks:    len(clicks),
		UniqueSubjects: len(subjects),
		Lost:           lost,
		ByReason:       byReason,
		Attributed:     attributed,
		Veterans:       veterans,
	}

	log.Printf("🔍 Diagnostics %s..%s: clicks=%d subjects=%d lost=%d attributed=%d veterans=%d",
		start.Format("2006-01-02"), end.Format("2006-01-02"),
		report.TotalClicks, report.UniqueSubjects, len(lost), attributed, veterans)
	return report, nil
}

// AnalyzePeriod runs the full pipeline over the configured log file.
func (s *DiagnosticService) AnalyzePeriod(start, end time.Time) (*DiagnosticReport, error) {
	clicks, stats, err := s.Extractor.ParseWindow(start, end, false)
	if err != nil {
		return nil, err
	}
	return s.buildReport(clicks, stats, start, end)
}

// AnalyzeToday covers the current UTC day so far.
func (s *DiagnosticService) AnalyzeToday() (*DiagnosticReport, error) {
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return s.AnalyzePeriod(start, now)
}

// AnalyzeReader analyzes an arbitrary log stream (uploads, pulled archives).
func (s *DiagnosticService) AnalyzeReader(r io.Reader, start, end time.Time, skipDateFilter bool) (*DiagnosticReport, error) {
	clicks, stats := ParseClicks(r, start, end, skipDateFilter)
	return s.buildReport(clicks, stats, start, end)
}

// AnalyzeFile analyzes one specific log file.
func (s *DiagnosticService) AnalyzeFile(path string, start, end time.Time, skipDateFilter bool) (*DiagnosticReport, error) {
	ext := &LogExtractor{Path: path}
	clicks, stats, err := ext.ParseWindow(start, end, skipDateFilter)
	if err != nil {
		return nil, err
	}
	return s.buildReport(clicks, stats, start, end)
}

// contestJoin is deferred past the repair transaction so contest capture never
// holds or aborts a crediting commit.
type contestJoin struct {
	user        models.User
	amountCents int64
}

// fixOne repairs a single lost case on tx. Preview and apply share this exact
// code path; only the surrounding transaction handling differs.
func (s *DiagnosticService) fixOne(tx *gorm.DB, c LostReferral) (FixDetail, *contestJoin, error) {
	detail := FixDetail{ExternalID: c.ExternalID, CleanCode: c.CleanCode}

	var user models.User
	err := tx.Where("external_id = ?", c.ExternalID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		detail.Outcome = "skipped"
		detail.Note = "not registered"
		return detail, nil, nil
	}
	if err != nil {
		return detail, nil, err
	}

	var referrer models.User
	err = tx.Where("referral_code = ?", c.CleanCode).First(&referrer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		detail.Outcome = "skipped"
		detail.Note = "referrer not found"
		return detail, nil, nil
	}
	if err != nil {
		return detail, nil, err
	}

	if referrer.ID == user.ID {
		detail.Outcome = "skipped"
		detail.Note = "self referral"
		return detail, nil, nil
	}

	// Relink. An existing attribution is only overwritten for a confirmed
	// mismatch case; anything else with a referrer attached keeps it.
	if user.ReferredByID == nil || (c.Reason == LostReferrerMismatch && *user.ReferredByID != referrer.ID) {
		if err := tx.Model(&models.User{}).Where("id = ?", user.ID).
			Update("referred_by_id", referrer.ID).Error; err != nil {
			return detail, nil, fmt.Errorf("failed to link referrer: %w", err)
		}
		user.ReferredByID = &referrer.ID
	}

	// Qualifying first topup: the earliest completed real-money deposit at or
	// above the minimum.
	var topup models.Transaction
	err = tx.Where("user_id = ? AND type = ? AND is_completed = ? AND payment_method IS NOT NULL AND amount_cents >= ?",
		user.ID, models.TransactionDeposit, true, s.Rewards.Config.MinimumTopupCents).
		Order("created_at ASC").
		First(&topup).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		detail.Outcome = "linked"
		detail.Note = "no qualifying topup"
		return detail, nil, nil
	}
	if err != nil {
		return detail, nil, err
	}

	result, err := s.Rewards.CreditFirstTopup(tx, &referrer, &user, topup.AmountCents, models.ReasonRestoredFirstTopup)
	if err != nil {
		return detail, nil, err
	}
	if result.AlreadyCredited {
		detail.Outcome = "skipped"
		detail.Note = "already credited"
		return detail, nil, nil
	}

	detail.Outcome = "restored"
	detail.CreditedCents = result.ReferralBonusCents + result.ReferrerBonusCents
	join := &contestJoin{user: user, amountCents: topup.AmountCents}
	return detail, join, nil
}

func (r *FixReport) tally(d FixDetail) {
	r.Total++
	r.Details = append(r.Details, d)
	switch d.Outcome {
	case "restored", "linked":
		r.Fixed++
		r.TotalCreditedCents += d.CreditedCents
	case "failed":
		r.Failed++
	default:
		r.Skipped++
	}
}

// PreviewFixes runs every repair inside one transaction and rolls it all back.
// The report shows exactly what ApplyFixes would do; the database is untouched
// by construction.
func (s *DiagnosticService) PreviewFixes(ctx context.Context, cases []LostReferral) (*FixReport, error) {
	report := &FixReport{Preview: true}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		for _, c := range cases {
			if err := ctx.Err(); err != nil {
				return err
			}
			detail, _, err := s.fixOne(tx, c)
			if err != nil {
				detail.Outcome = "failed"
				detail.Note = err.Error()
			}
			report.tally(detail)
		}
		return errPreviewRollback
	})
	if err != nil && !errors.Is(err, errPreviewRollback) {
		return nil, err
	}

	log.Printf("👀 Fix preview: total=%d fixed=%d skipped=%d failed=%d (no writes)",
		report.Total, report.Fixed, report.Skipped, report.Failed)
	return report, nil
}

// ApplyFixes repairs each case in its own transaction so one failure never
// poisons the rest, then enters restored referrals into active contests.
func (s *DiagnosticService) ApplyFixes(ctx context.Context, cases []LostReferral) (*FixReport, error) {
	report := &FixReport{}

	for _, c := range cases {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		var detail FixDetail
		var join *contestJoin
		err := s.DB.Transaction(func(tx *gorm.DB) error {
			var err error
			detail, join, err = s.fixOne(tx, c)
			return err
		})
		if err != nil {
			detail = FixDetail{ExternalID: c.ExternalID, CleanCode: c.CleanCode, Outcome: "failed", Note: err.Error()}
			join = nil
		}
		report.tally(detail)

		if join != nil && s.Rewards.Contests != nil {
			if err := s.Rewards.Contests.OnRestoredReferral(&join.user, join.amountCents); err != nil {
				log.Printf("⚠️  Contest join failed for restored referral %s: %v", join.user.ID, err)
			}
		}
	}

	log.Printf("🔧 Fixes applied: total=%d fixed=%d skipped=%d failed=%d credited=%d",
		report.Total, report.Fixed, report.Skipped, report.Failed, report.TotalCreditedCents)
	return report, nil
}

// CheckMissingBonuses sweeps the database alone (no logs) for attributed
// referrals whose qualifying first topup never produced a ledger row.
func (s *DiagnosticService) CheckMissingBonuses() ([]MissingBonus, error) {
	var users []models.User
	if err := s.DB.Where("referred_by_id IS NOT NULL").Find(&users).Error; err != nil {
		return nil, err
	}

	var missing []MissingBonus
	for i := range users {
		user := &users[i]

		credited, err := HasFirstTopupEarning(s.DB, *user.ReferredByID, user.ID)
		if err != nil {
			return nil, err
		}
		if credited {
			continue
		}

		var topup models.Transaction
		err = s.DB.Where("user_id = ? AND type = ? AND is_completed = ? AND payment_method IS NOT NULL AND amount_cents >= ?",
			user.ID, models.TransactionDeposit, true, s.Rewards.Config.MinimumTopupCents).
			Order("created_at ASC").
			First(&topup).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		missing = append(missing, MissingBonus{
			UserID:           user.ID,
			ReferrerID:       *user.ReferredByID,
			TopupAmountCents: topup.AmountCents,
			TopupAt:          topup.CreatedAt,
		})
	}

	log.Printf("🔍 Missing-bonus sweep: %d of %d attributed referrals uncredited with a qualifying topup", len(missing), len(users))
	return missing, nil
}

// FixMissingBonuses credits every missing bonus found by the sweep, one
// transaction per referral, under the same restored reason and dedupe rules as
// log-driven repairs.
func (s *DiagnosticService) FixMissingBonuses(ctx context.Context, preview bool) (*FixReport, error) {
	missing, err := s.CheckMissingBonuses()
	if err != nil {
		return nil, err
	}

	creditOne := func(tx *gorm.DB, m MissingBonus) (FixDetail, *contestJoin, error) {
		var detail FixDetail

		var user, referrer models.User
		if err := tx.First(&user, "id = ?", m.UserID).Error; err != nil {
			return detail, nil, err
		}
		if err := tx.First(&referrer, "id = ?", m.ReferrerID).Error; err != nil {
			return detail, nil, err
		}
		detail.ExternalID = user.ExternalID
		detail.CleanCode = referrer.ReferralCode

		result, err := s.Rewards.CreditFirstTopup(tx, &referrer, &user, m.TopupAmountCents, models.ReasonRestoredFirstTopup)
		if err != nil {
			return detail, nil, err
		}
		if result.AlreadyCredited {
			detail.Outcome = "skipped"
			detail.Note = "already credited"
			return detail, nil, nil
		}
		detail.Outcome = "restored"
		detail.CreditedCents = result.ReferralBonusCents + result.ReferrerBonusCents
		return detail, &contestJoin{user: user, amountCents: m.TopupAmountCents}, nil
	}

	report := &FixReport{Preview: preview}

	if preview {
		err := s.DB.Transaction(func(tx *gorm.DB) error {
			for _, m := range missing {
				if err := ctx.Err(); err != nil {
					return err
				}
				detail, _, err := creditOne(tx, m)
				if err != nil {
					detail.Outcome = "failed"
					detail.Note = err.Error()
				}
				report.tally(detail)
			}
			return errPreviewRollback
		})
		if err != nil && !errors.Is(err, errPreviewRollback) {
			return nil, err
		}
		return report, nil
	}

	for _, m := range missing {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		var detail FixDetail
		var join *contestJoin
		err := s.DB.Transaction(func(tx *gorm.DB) error {
			var err error
			detail, join, err = creditOne(tx, m)
			return err
		})
		if err != nil {
			detail.Outcome = "failed"
			detail.Note = err.Error()
			join = nil
		}
		report.tally(detail)

		if join != nil && s.Rewards.Contests != nil {
			if err := s.Rewards.Contests.OnRestoredReferral(&join.user, join.amountCents); err != nil {
				log.Printf("⚠️  Contest join failed for restored referral %s: %v", join.user.ID, err)
			}
		}
	}

	log.Printf("🔧 Missing bonuses fixed: total=%d fixed=%d skipped=%d failed=%d",
		report.Total, report.Fixed, report.Skipped, report.Failed)
	return report, nil
}
