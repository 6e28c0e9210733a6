// Package scheduler hosts the drift poller: M workers that claim due
// drift tasks under SKIP LOCKED, run the matching kernel, write alerts,
// and re-arm the task for its next cron firing; plus a reaper that
// reclaims tasks stranded in Processing by a crashed worker.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/sawpanic/scouter/internal/drift"
	"github.com/sawpanic/scouter/internal/metrics"
	"github.com/sawpanic/scouter/internal/persistence"
)

// cronParser accepts standard 5-field cron expressions.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Notifier dispatches a written alert to the outside world. The alert row
// is already durable when Dispatch runs; dispatch failures are logged and
// not retried.
type Notifier interface {
	Dispatch(ctx context.Context, alert persistence.Alert) error
}

// LogNotifier writes alerts to the structured log, the default sink when
// no external channel is configured.
type LogNotifier struct {
	Log zerolog.Logger
}

func (n LogNotifier) Dispatch(_ context.Context, alert persistence.Alert) error {
	n.Log.Warn().
		Int64("entity_id", alert.EntityID).
		Str("entity_name", alert.EntityName).
		Str("drift_type", string(alert.DriftType)).
		Interface("alert", alert.Alert).
		Msg("drift alert")
	return nil
}

// Config sizes and paces the poller.
type Config struct {
	Workers      int
	PollInterval time.Duration
	// TaskTTL bounds how long a claim may sit in Processing before the
	// reaper re-arms it.
	TaskTTL time.Duration
	// DrainTimeout bounds how long a worker may spend finishing its
	// current task after shutdown is signalled.
	DrainTimeout time.Duration
	// StartupStagger separates worker cold boots so they do not contend
	// on the same task row.
	StartupStagger time.Duration
}

// DefaultConfig paces workers at one claim attempt per second.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		PollInterval:   time.Second,
		TaskTTL:        10 * time.Minute,
		DrainTimeout:   30 * time.Second,
		StartupStagger: 150 * time.Millisecond,
	}
}

// Poller runs the claim/evaluate/alert cycle.
type Poller struct {
	cfg      Config
	tasks    persistence.TaskRepo
	profiles persistence.ProfileRepo
	alerts   persistence.AlertRepo
	eval     *drift.Evaluator
	notify   Notifier
	reg      *metrics.Registry
	log      zerolog.Logger

	wg sync.WaitGroup
}

// NewPoller wires the poller's collaborators.
func NewPoller(cfg Config, tasks persistence.TaskRepo, profiles persistence.ProfileRepo, alerts persistence.AlertRepo, eval *drift.Evaluator, notify Notifier, reg *metrics.Registry, logger zerolog.Logger) *Poller {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Poller{
		cfg: cfg, tasks: tasks, profiles: profiles, alerts: alerts,
		eval: eval, notify: notify, reg: reg, log: logger,
	}
}

// Start launches the workers and the reaper. They exit when ctx is done.
func (p *Poller) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.wg.Add(1)
	go p.reaper(ctx)
}

// Wait blocks until all workers have exited.
func (p *Poller) Wait() { p.wg.Wait() }

func (p *Poller) worker(ctx context.Context, idx int) {
	defer p.wg.Done()
	owner := fmt.Sprintf("poller-%d", idx)
	logger := p.log.With().Str("worker", owner).Logger()

	// Staggered cold boot.
	select {
	case <-ctx.Done():
		return
	case <-time.After(time.Duration(idx) * p.cfg.StartupStagger):
	}

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Drain the due backlog before going back to sleep.
			for p.pollOnce(ctx, owner, logger) {
				if ctx.Err() != nil {
					return
				}
			}
		}
	}
}

// pollOnce claims and processes at most one task, reporting whether a task
// was claimed.
func (p *Poller) pollOnce(ctx context.Context, owner string, logger zerolog.Logger) bool {
	task, err := p.tasks.Claim(ctx, owner)
	if err != nil {
		logger.Warn().Err(err).Msg("claim failed")
		return false
	}
	if task == nil {
		return false
	}

	// A worker finishes its current task even when shutdown has been
	// signalled, bounded by the drain timeout.
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.DrainTimeout)
	defer cancel()

	if err := p.process(taskCtx, *task, logger); err != nil {
		p.reg.TasksProcessed.WithLabelValues("failed").Inc()
		logger.Warn().Err(err).Int64("entity_id", task.EntityID).Msg("task failed")
		if ferr := p.tasks.Fail(taskCtx, task.EntityID, err.Error()); ferr != nil {
			logger.Error().Err(ferr).Int64("entity_id", task.EntityID).Msg("could not mark task failed")
		}
		return true
	}
	p.reg.TasksProcessed.WithLabelValues("processed").Inc()
	return true
}

func (p *Poller) process(ctx context.Context, task persistence.DriftTask, logger zerolog.Logger) error {
	prof, err := p.profiles.GetByEntityID(ctx, task.EntityID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	window := persistence.TimeRange{From: task.PreviousRun, To: now}
	alerts, err := p.eval.Evaluate(ctx, task.EntityID, prof, window)
	if err != nil {
		return err
	}

	for _, alert := range alerts {
		if _, err := p.alerts.Insert(ctx, alert); err != nil {
			return err
		}
		p.reg.AlertsRaised.WithLabelValues(string(alert.DriftType)).Inc()
		if p.notify != nil {
			if derr := p.notify.Dispatch(ctx, alert); derr != nil {
				logger.Warn().Err(derr).Int64("entity_id", alert.EntityID).Msg("alert dispatch failed")
			}
		}
	}

	sched, err := cronParser.Parse(task.Schedule)
	if err != nil {
		return err
	}
	return p.tasks.Complete(ctx, task.EntityID, now, sched.Next(now))
}

// reaper re-arms stalled tasks once per TTL interval, so a poller restart
// recovers claims orphaned by a crash.
func (p *Poller) reaper(ctx context.Context) {
	defer p.wg.Done()
	interval := p.cfg.TaskTTL
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.tasks.Reap(ctx, p.cfg.TaskTTL)
			if err != nil {
				p.log.Warn().Err(err).Msg("reap failed")
				continue
			}
			if n > 0 {
				p.reg.TasksReclaimed.Add(float64(n))
				p.log.Info().Int64("reclaimed", n).Msg("re-armed stalled drift tasks")
			}
		}
	}
}
