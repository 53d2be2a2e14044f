/*
refresher.go - Periodic leaderboard snapshot refresh

PURPOSE:
  Rebuilds the leaderboard snapshot on a fixed interval so ranks track the
  ledger within a bounded staleness window. Reads are always served from
  the last completed snapshot; a refresh never blocks them.
*/
package api

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/gameforge/chips-engine/ledger"
)

// DefaultRefreshInterval bounds how stale a served rank can be.
const DefaultRefreshInterval = 15 * time.Second

// Refresher periodically rebuilds the leaderboard snapshot.
type Refresher struct {
	lb        *ledger.Leaderboard
	interval  time.Duration
	scheduler gocron.Scheduler
}

// NewRefresher creates a refresher. A non-positive interval falls back to
// the default.
func NewRefresher(lb *ledger.Leaderboard, interval time.Duration) (*Refresher, error) {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Refresher{lb: lb, interval: interval, scheduler: s}, nil
}

// Start registers the refresh job and begins the schedule.
func (r *Refresher) Start(ctx context.Context) error {
	_, err := r.scheduler.NewJob(
		gocron.DurationJob(r.interval),
		gocron.NewTask(func() {
			if err := r.lb.Refresh(ctx); err != nil {
				log.Printf("[Refresher] leaderboard refresh failed: %v", err)
			}
		}),
	)
	if err != nil {
		return err
	}

	r.scheduler.Start()
	log.Printf("[Refresher] leaderboard refresh every %s", r.interval)
	return nil
}

// Stop shuts the scheduler down, waiting for a running refresh to finish.
func (r *Refresher) Stop() error {
	return r.scheduler.Shutdown()
}
