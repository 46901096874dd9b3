// Package scheduler fires research tasks on cron schedules. What a firing
// does with the task (template resolution, session setup) belongs to the
// handler; the scheduler only keeps time.
package scheduler

import (
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/user/deepscout/internal/state"
	"github.com/user/deepscout/internal/types"
)

// Handler is invoked with a copy of the task each time its schedule fires.
type Handler func(task types.ResearchTask)

// Scheduler evaluates cron expressions from the task store and fires tasks
// through a handler callback.
type Scheduler struct {
	store   *state.TaskStore
	handler Handler
	cron    *cron.Cron
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a Scheduler backed by the given task store. The handler is
// called each time a scheduled task fires.
func New(store *state.TaskStore, handler Handler) *Scheduler {
	return &Scheduler{
		store:   store,
		handler: handler,
		cron:    cron.New(cron.WithParser(cronParser)),
	}
}

// Start loads tasks from the store, registers enabled tasks that have a
// schedule as cron entries, and starts the cron ticker.
func (s *Scheduler) Start() error {
	tasks, err := s.store.List()
	if err != nil {
		return err
	}

	for _, task := range tasks {
		if task.Schedule == "" || !task.Enabled {
			continue
		}

		fired := *task
		_, err := s.cron.AddFunc(fired.Schedule, func() {
			slog.Info("cron firing research task", "name", fired.Name, "session_key", string(fired.SessionKey))
			s.handler(fired)
		})
		if err != nil {
			slog.Error("invalid cron schedule", "name", fired.Name, "schedule", fired.Schedule, "error", err)
			continue
		}
		slog.Info("scheduled research task", "name", fired.Name, "schedule", fired.Schedule)
	}

	s.cron.Start()
	return nil
}

// Reload stops the existing cron, creates a new one, and calls Start() again.
// Used after task store edits so changes apply without a restart.
func (s *Scheduler) Reload() error {
	s.cron.Stop()
	s.cron = cron.New(cron.WithParser(cronParser))
	return s.Start()
}

// Stop stops the cron ticker.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
