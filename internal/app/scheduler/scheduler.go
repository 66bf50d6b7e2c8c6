// Package scheduler implements the §4.E Scheduler: a single background
// coordinator owning the seven named jobs in the cadence table, each
// protected from overlapping with itself by robfig/cron/v3's
// SkipIfStillRunning job wrapper.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/Zerostate-IO/powerblockade/internal/app/blocking"
	"github.com/Zerostate-IO/powerblockade/internal/app/policy"
	"github.com/Zerostate-IO/powerblockade/internal/app/precache"
	"github.com/Zerostate-IO/powerblockade/internal/app/retention"
	"github.com/Zerostate-IO/powerblockade/internal/app/rollup"
	"github.com/Zerostate-IO/powerblockade/internal/app/schedule"
	core "github.com/Zerostate-IO/powerblockade/internal/app/core/service"
	"github.com/Zerostate-IO/powerblockade/internal/app/system"
)

// gracePeriod bounds how long Stop waits for in-flight jobs to finish.
const gracePeriod = 10 * time.Second

// LocalMetricsScraper fetches and parses the local resolver's own metrics
// into a NodeMetrics row for the primary node. Implemented separately
// (internal/app/resolvermetrics) so this package stays free of HTTP/gjson
// concerns.
type LocalMetricsScraper interface {
	Scrape(ctx context.Context) error
}

// Scheduler is the cron coordinator described in §4.E. It implements
// system.Service so it can be started/stopped in the same lifecycle as
// every other long-running component.
type Scheduler struct {
	compiler  *policy.Compiler
	schedule  *schedule.Engine
	rollup    *rollup.Engine
	retention *retention.Engine
	precache  *precache.Warmer
	blocking  *blocking.Machine
	metrics   LocalMetricsScraper

	loc   *time.Location
	log   *logrus.Entry
	clock func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

var _ system.Service = (*Scheduler)(nil)
var _ system.DescriptorProvider = (*Scheduler)(nil)

// Deps bundles the engines the Scheduler dispatches onto. metrics may be
// nil (local-metrics job becomes a no-op), matching the other engines'
// tolerance for missing optional collaborators.
type Deps struct {
	Compiler  *policy.Compiler
	Schedule  *schedule.Engine
	Rollup    *rollup.Engine
	Retention *retention.Engine
	Precache  *precache.Warmer
	Blocking  *blocking.Machine
	Metrics   LocalMetricsScraper
}

// New builds a Scheduler evaluating cadences in loc (the primary's
// configured IANA timezone, per §4.D/§4.E).
func New(deps Deps, loc *time.Location, log *logrus.Entry) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Scheduler{
		compiler:  deps.Compiler,
		schedule:  deps.Schedule,
		rollup:    deps.Rollup,
		retention: deps.Retention,
		precache:  deps.Precache,
		blocking:  deps.Blocking,
		metrics:   deps.Metrics,
		loc:       loc,
		log:       log,
		clock:     time.Now,
	}
}

func (s *Scheduler) Name() string { return "scheduler" }

func (s *Scheduler) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "scheduler",
		Domain:       "powerblockade",
		Layer:        core.LayerEngine,
		Capabilities: []string{"cron", "blocklist-refresh", "rollup", "retention", "precache"},
	}
}

// Start registers and runs the seven named jobs. Each entry is wrapped
// with cron.SkipIfStillRunning so a slow run is skipped rather than piled
// on top of itself (§4.E "Overlap within a job is prevented").
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}

	c := cron.New(cron.WithLocation(s.loc), cron.WithChain(
		cron.Recover(cronLogger{s.log}),
		cron.SkipIfStillRunning(cronLogger{s.log}),
	))

	jobs := []struct {
		spec string
		name string
		fn   func(context.Context)
	}{
		{"*/15 * * * *", "blocklist-refresh", s.runBlocklistRefresh},
		{"*/5 * * * *", "schedule-check", s.runScheduleCheck},
		{"5 * * * *", "rollup", s.runRollup},
		{"0 3 * * *", "retention", s.runRetention},
		{"*/5 * * * *", "precache", s.runPrecache},
		{"* * * * *", "local-metrics", s.runLocalMetrics},
		{"* * * * *", "blocking-resume", s.runBlockingResume},
	}
	for _, j := range jobs {
		job := j
		if _, err := c.AddFunc(job.spec, func() { job.fn(ctx) }); err != nil {
			s.mu.Unlock()
			return err
		}
	}

	c.Start()
	s.cron = c
	s.running = true
	s.mu.Unlock()

	s.log.Info("scheduler started")
	return nil
}

// Stop halts acceptance of new job runs and waits (bounded) for any
// in-flight job to finish, per §4.E's cancellation rule.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c := s.cron
	s.running = false
	s.cron = nil
	s.mu.Unlock()

	stopCtx := c.Stop()
	grace, cancel := context.WithTimeout(ctx, gracePeriod)
	defer cancel()
	select {
	case <-stopCtx.Done():
	case <-grace.Done():
	}

	s.log.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) runBlocklistRefresh(ctx context.Context) {
	if s.compiler == nil {
		return
	}
	result, err := s.compiler.RefreshAndCompile(ctx, false)
	if err != nil {
		s.log.WithError(err).Warn("scheduler: blocklist-refresh failed")
		return
	}
	if result.Refreshed > 0 {
		s.log.WithField("refreshed", result.Refreshed).WithField("failed", result.Failed).Info("scheduler: blocklist-refresh recompiled")
	}
}

func (s *Scheduler) runScheduleCheck(ctx context.Context) {
	if s.schedule == nil {
		return
	}
	changed, err := s.schedule.Run(ctx)
	if err != nil {
		s.log.WithError(err).Warn("scheduler: schedule-check failed")
		return
	}
	if changed && s.compiler != nil {
		if _, err := s.compiler.Compile(ctx); err != nil {
			s.log.WithError(err).Warn("scheduler: schedule-check recompile failed")
		}
	}
}

// runRollup aggregates the closed previous hour, and between 00:00 and
// 02:00 local time also aggregates the previous day from hourly rows, per
// §4.E's rollup job row.
func (s *Scheduler) runRollup(ctx context.Context) {
	if s.rollup == nil {
		return
	}
	now := s.clock().In(s.loc)
	hourStart := now.Truncate(time.Hour).Add(-time.Hour)
	if err := s.rollup.RunHourly(ctx, hourStart); err != nil {
		s.log.WithError(err).Warn("scheduler: hourly rollup failed")
	}
	if now.Hour() >= 0 && now.Hour() < 2 {
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc).AddDate(0, 0, -1)
		if err := s.rollup.RunDaily(ctx, dayStart); err != nil {
			s.log.WithError(err).Warn("scheduler: daily rollup failed")
		}
	}
}

func (s *Scheduler) runRetention(ctx context.Context) {
	if s.retention == nil {
		return
	}
	result, err := s.retention.Run(ctx)
	if err != nil {
		s.log.WithError(err).Warn("scheduler: retention failed")
		return
	}
	s.log.WithField("events", result.EventsDeleted).
		WithField("rollups", result.RollupsDeleted).
		WithField("metrics", result.MetricsDeleted).
		Info("scheduler: retention ran")
}

func (s *Scheduler) runPrecache(ctx context.Context) {
	if s.precache == nil {
		return
	}
	if _, err := s.precache.Run(ctx); err != nil {
		s.log.WithError(err).Warn("scheduler: precache failed")
	}
}

func (s *Scheduler) runLocalMetrics(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	if err := s.metrics.Scrape(ctx); err != nil {
		s.log.WithError(err).Warn("scheduler: local-metrics scrape failed")
	}
}

func (s *Scheduler) runBlockingResume(ctx context.Context) {
	if s.blocking == nil {
		return
	}
	resumed, err := s.blocking.ResumeIfExpired(ctx)
	if err != nil {
		s.log.WithError(err).Warn("scheduler: blocking-resume failed")
		return
	}
	if resumed && s.compiler != nil {
		if _, err := s.compiler.Compile(ctx); err != nil {
			s.log.WithError(err).Warn("scheduler: blocking-resume recompile failed")
		}
	}
}

// cronLogger adapts *logrus.Entry to cron.Logger so SkipIfStillRunning and
// Recover can report through the same structured logger as the rest of the
// application.
type cronLogger struct {
	entry *logrus.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(kvFields(keysAndValues)).Info(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(kvFields(keysAndValues)).WithError(err).Error(msg)
}

func kvFields(kv []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields[key] = kv[i+1]
	}
	return fields
}
