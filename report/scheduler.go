package report

import (
	"context"
	"fmt"
	log "log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

type fullReporter interface {
	ReportAll(ctx context.Context) error
}

// Scheduler periodically re-reports the state of all devices, which heals reports that were
// coalesced away or failed.
type Scheduler struct {
	cron *cron.Cron
	spec string
}

func NewScheduler(spec string, reporter fullReporter, timeout time.Duration) (*Scheduler, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := reporter.ReportAll(ctx); err != nil {
			log.Warn("scheduled state report failed", "error", err)
			return
		}
		log.Debug("scheduled state report done")
	})
	if err != nil {
		return nil, fmt.Errorf("invalid report schedule %q: %w", spec, err)
	}
	return &Scheduler{cron: c, spec: spec}, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info("started report schedule", "schedule", s.spec)
}

// Stop waits for a running scheduled report to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
