// services/scheduler.go
package services

import (
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartSummaryScheduler runs the contest summary check every minute. Due-ness
// is decided against the persisted markers, so a missed tick is caught up on
// the next one.
func (s *ContestService) StartSummaryScheduler() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			if err := s.ProcessDueSummaries(time.Now().UTC()); err != nil {
				log.Printf("[Scheduler] Summary processing error: %v", err)
			}
		}),
	)

	// Every 6 hours: reconcile contest amounts against the transaction ledger.
	_, _ = sched.NewJob(
		gocron.DurationJob(6*time.Hour),
		gocron.NewTask(func() {
			contests, err := s.ListContests(0, 0)
			if err != nil {
				log.Printf("[Scheduler] DB error: %v", err)
				return
			}
			for _, c := range contests {
				if !c.IsActive {
					continue
				}
				if _, err := s.SyncContest(c.ID); err != nil {
					log.Printf("[Scheduler] Failed to sync contest %s: %v", c.ID, err)
				}
			}
		}),
	)
}
