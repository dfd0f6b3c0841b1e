package services

import (
	"context"
	"time"

	"rag-chatbot-platform/internal/logger"

	"github.com/go-co-op/gocron"
)

// DocumentJanitor is the maintenance surface of the document store:
// purging delete-marked documents and failing stuck processing runs.
type DocumentJanitor interface {
	PurgeMarked(ctx context.Context) (int, error)
	FailStuckProcessing(ctx context.Context, deadline time.Duration) (int64, error)
}

// Sweeper runs the periodic housekeeping jobs: deletion purge and the
// stuck-processing reaper.
type Sweeper struct {
	scheduler *gocron.Scheduler
	janitor   DocumentJanitor

	interval time.Duration
	deadline time.Duration
}

func NewSweeper(janitor DocumentJanitor, interval, deadline time.Duration) *Sweeper {
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()
	return &Sweeper{
		scheduler: s,
		janitor:   janitor,
		interval:  interval,
		deadline:  deadline,
	}
}

// Start registers the jobs and runs the scheduler in the background.
func (s *Sweeper) Start() error {
	if _, err := s.scheduler.Every(s.interval).Tag("purge-deleted").Do(s.purge); err != nil {
		return err
	}
	if _, err := s.scheduler.Every(s.interval).Tag("reap-stuck").Do(s.reap); err != nil {
		return err
	}
	s.scheduler.StartAsync()
	logger.Info("Sweeper started", "interval", s.interval.String())
	return nil
}

func (s *Sweeper) Stop() {
	s.scheduler.Stop()
}

func (s *Sweeper) purge() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	purged, err := s.janitor.PurgeMarked(ctx)
	if err != nil {
		logger.Error("Deletion purge failed", "error", err)
		return
	}
	if purged > 0 {
		logger.Info("Purged deleted documents", "count", purged)
	}
}

func (s *Sweeper) reap() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	failed, err := s.janitor.FailStuckProcessing(ctx, s.deadline)
	if err != nil {
		logger.Error("Stuck-processing reap failed", "error", err)
		return
	}
	if failed > 0 {
		logger.Warn("Failed stuck processing documents", "count", failed)
	}
}
