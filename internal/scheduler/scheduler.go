package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/etl-connectors/internal/connector"
)

// Scheduler periodically executes a connector's pipeline run and records the
// outcome in the run history.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    *connector.Runner
	history   *connector.RunHistory
	interval  time.Duration
	timeout   time.Duration
}

// New creates a Scheduler running the pipeline every interval. timeout bounds
// each individual run so a hung upstream cannot stall the schedule forever.
func New(runner *connector.Runner, history *connector.RunHistory, interval, timeout time.Duration) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		runner:    runner,
		history:   history,
		interval:  interval,
		timeout:   timeout,
	}
}

// Start schedules the periodic job and starts the underlying scheduler. The
// first run fires immediately, then every interval. Singleton mode keeps a
// slow run from overlapping the next one.
func (s *Scheduler) Start() error {
	_, err := s.scheduler.Every(s.interval).StartImmediately().SingletonMode().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		res, err := s.runner.Run(ctx)
		if err != nil {
			res.Error = err.Error()
			log.Printf("scheduler: run %s failed: %v", res.RunID, err)
		} else {
			log.Printf("scheduler: run %s wrote %d document(s) (%d inserted, %d updated)",
				res.RunID, res.Documents(), res.Inserted, res.Updated)
		}
		s.history.Record(res)
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
