package report

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Sink receives every scheduled report
type Sink func(Report)

// Scheduler emits reports on a cron schedule
type Scheduler struct {
	cron *cron.Cron
	src  Sources
	sink Sink
	now  func() time.Time
}

// NewScheduler parses spec (five fields or a descriptor such as "@every 5m")
// and prepares a scheduler. A nil sink logs the report.
func NewScheduler(spec string, src Sources, sink Sink) (*Scheduler, error) {
	if sink == nil {
		sink = func(r Report) { r.Log(log.Logger) }
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s := &Scheduler{
		cron: cron.New(cron.WithParser(parser)),
		src:  src,
		sink: sink,
		now:  time.Now,
	}
	if _, err := s.cron.AddFunc(spec, s.Emit); err != nil {
		return nil, fmt.Errorf("invalid report schedule %q: %w", spec, err)
	}
	return s, nil
}

// Emit collects and delivers one report immediately
func (s *Scheduler) Emit() {
	s.sink(Collect(s.src, s.now()))
}

// Start runs the schedule in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info().Int("entries", len(s.cron.Entries())).Msg("Report scheduler started")
}

// Stop halts the schedule and waits for a running report up to ctx
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
