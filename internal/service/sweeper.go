package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/mononoSaya/auto-novel/internal/jobs"
	"github.com/mononoSaya/auto-novel/pkg/icron"
	"github.com/mononoSaya/auto-novel/pkg/log"
)

// Sweeper periodically drops failed ledger records past their retention.
type Sweeper struct {
	ledger   *jobs.Ledger
	cron     *cron.Cron
	cronExpr string
	group    singleflight.Group
}

func NewSweeper(ledger *jobs.Ledger, c *cron.Cron, cronExpr string) *Sweeper {
	return &Sweeper{
		ledger:   ledger,
		cron:     c,
		cronExpr: cronExpr,
	}
}

// Schedule registers the sweep on the cron. Overlapping triggers collapse
// into the run already in progress.
func (s *Sweeper) Schedule(ctx context.Context) error {
	runFunc := func() {
		if _, err := s.RunOnce(ctx); err != nil {
			log.Error("Failed to sweep failed jobs: %v", err)
		}
	}
	if _, err := s.cron.AddFunc(s.cronExpr, runFunc); err != nil {
		return err
	}

	if info, err := icron.GetTriggerInfo(s.cronExpr, time.Now()); err == nil {
		log.Info("Job sweep scheduled with %q, next run in %s", s.cronExpr, info.TimeUntilNext.Round(time.Second))
	}
	return nil
}

func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	v, err, _ := s.group.Do("sweep", func() (any, error) {
		return s.ledger.Sweep(ctx)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}
