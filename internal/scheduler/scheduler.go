// Package scheduler triggers matchmaking runs on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"log"

	"github.com/robfig/cron/v3"

	"github.com/fundmatch/orchestrator/internal/domain"
	"github.com/fundmatch/orchestrator/internal/pipeline"
)

// Scheduler starts scheduled runs. A run rejected because another is
// already active is logged and dropped, never queued.
type Scheduler struct {
	cron        *cron.Cron
	coordinator *pipeline.Coordinator
	expr        string
}

// New creates a scheduler for the given five-field cron expression.
func New(coordinator *pipeline.Coordinator, expr string) *Scheduler {
	return &Scheduler{
		cron:        cron.New(),
		coordinator: coordinator,
		expr:        expr,
	}
}

// Start registers the trigger and begins the cron loop.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.expr, s.trigger)
	if err != nil {
		return err
	}
	s.cron.Start()
	log.Printf("INFO: scheduler started with expression %q", s.expr)
	return nil
}

// Stop halts the cron loop. Runs already started keep going.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) trigger() {
	run, err := s.coordinator.Start(context.Background(), domain.TriggerScheduled, domain.RunInput{})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyRunning) {
			log.Printf("WARN: scheduled run skipped: another run is active")
			return
		}
		log.Printf("ERROR: scheduled run failed to start: %v", err)
		return
	}
	log.Printf("INFO: scheduled run %s started", run.RunID)
}
