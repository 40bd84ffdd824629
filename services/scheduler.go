// services/scheduler.go
package services

import (
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// BalanceSweeper evicts expired balance-cache entries; satisfied by
// chain.BalanceCache.
type BalanceSweeper interface {
	Sweep() int
}

// StartRefreshScheduler runs the periodic jobs: a safety-net leaderboard
// recompute (event-driven recomputes cover the common path) and the balance
// cache sweep.
func (s *LeaderboardService) StartRefreshScheduler(sweeper BalanceSweeper) {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	// Every 5 minutes: rebuild the current season buckets.
	_, _ = sched.NewJob(
		gocron.DurationJob(5*time.Minute),
		gocron.NewTask(func() {
			if err := s.RecomputeAll(time.Now().UTC()); err != nil {
				log.Printf("[Scheduler] Leaderboard recompute failed: %v", err)
				return
			}
			log.Println("✅ Leaderboard buckets recomputed")
		}),
	)

	// Every 10 minutes: drop expired balance cache entries.
	if sweeper != nil {
		_, _ = sched.NewJob(
			gocron.DurationJob(10*time.Minute),
			gocron.NewTask(func() {
				if dropped := sweeper.Sweep(); dropped > 0 {
					log.Printf("[Scheduler] Swept %d expired balance cache entries", dropped)
				}
			}),
		)
	}
}
