package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Refresher is what the scheduler triggers on every tick.
type Refresher interface {
	EnsureFresh(ctx context.Context) (bool, error)
}

// Scheduler runs staleness-gated ingestion on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	spec   string
	target Refresher
	logger *slog.Logger
}

func NewScheduler(spec string, target Refresher, logger *slog.Logger) (*Scheduler, error) {
	// standard 5-field cron (minute hour day month weekday) plus descriptors like @hourly
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	return &Scheduler{
		cron:   cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		spec:   spec,
		target: target,
		logger: logger.With("component", "scheduler"),
	}, nil
}

// Start schedules runs until ctx is cancelled, then waits for a running tick to finish.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule ingestion: %w", err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "schedule", s.spec)

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) tick(ctx context.Context) {
	ran, err := s.target.EnsureFresh(ctx)
	switch {
	case errors.Is(err, ErrRunInProgress):
		s.logger.Info("scheduled run skipped, another run is in progress")
	case err != nil:
		s.logger.Error("scheduled run failed", "error", err)
	case ran:
		s.logger.Info("scheduled run completed")
	default:
		s.logger.Debug("catalog fresh, nothing to do")
	}
}
