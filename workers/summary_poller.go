package workers

import (
	"context"
	"log"
	"time"

	"referral-reward-system/services"
)

// PollSummaries checks for due contest summaries on a fixed interval. It is
// the embedded-context alternative to the gocron scheduler; deployments run
// one or the other, never both.
func PollSummaries(ctx context.Context, contests *services.ContestService, pollInterval time.Duration) {
	log.Println("Starting contest summary polling...")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Contest summary polling stopped.")
			return
		case <-ticker.C:
			if err := contests.ProcessDueSummaries(time.Now().UTC()); err != nil {
				log.Printf("❌ Error processing contest summaries: %v", err)
			}
		}
	}
}
