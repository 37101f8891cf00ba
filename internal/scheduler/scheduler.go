// Package scheduler runs cron-scheduled maintenance tasks in the same
// process as request traffic: cache GC, empty-room reaping, and session
// sweeps.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Task is one named, cron-scheduled job.
type Task struct {
	Name string
	Cron string
	Run  func(ctx context.Context) error
}

// Scheduler wraps robfig/cron, logging each tick the way the teacher logs
// its monitorMemory/healthCheckRoutine ticks.
type Scheduler struct {
	cr *cron.Cron
}

// New builds a Scheduler with second-level precision disabled (standard
// five-field cron expressions, matching the Cron tasks described in
// the component design).
func New() *Scheduler {
	return &Scheduler{cr: cron.New()}
}

// Register adds task to the schedule. It must be called before Start.
func (s *Scheduler) Register(task Task) error {
	_, err := s.cr.AddFunc(task.Cron, func() {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if err := task.Run(ctx); err != nil {
			log.Warn().Err(err).Str("task", task.Name).Dur("elapsed", time.Since(start)).Msg("scheduled task failed")
			return
		}
		log.Debug().Str("task", task.Name).Dur("elapsed", time.Since(start)).Msg("scheduled task completed")
	})
	return err
}

// Start runs the scheduler's dispatch loop in the background.
func (s *Scheduler) Start() {
	s.cr.Start()
}

// Stop halts dispatch and waits for any in-flight task to finish.
func (s *Scheduler) Stop() {
	ctx := s.cr.Stop()
	<-ctx.Done()
}
