package app

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"restorebot/internal/config"
	"restorebot/internal/storage"
	logx "restorebot/pkg/logx"
)

const (
	defaultPruneSpec     = "@daily"
	defaultRetentionDays = 7
	maintenanceTimeout   = 5 * time.Minute
)

// Pruner drops usage rows older than a day key.
type Pruner interface {
	PruneUsage(ctx context.Context, before string) (int64, error)
}

// Refresher refreshes the credential pool.
type Refresher interface {
	RefreshCredentials(ctx context.Context) (int, error)
}

// maintenance runs periodic housekeeping on a cron schedule.
type maintenance struct {
	c   *cron.Cron
	log logx.Logger
	now func() time.Time
}

type maintenanceJob struct {
	name    string
	spec    string
	running atomic.Bool
	run     func(ctx context.Context) error
}

func newMaintenance(cfg config.CronConfig, prune Pruner, refresh Refresher, log logx.Logger) (*maintenance, error) {
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("cron.timezone: %w", err)
		}
		loc = l
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	m := &maintenance{
		c:   cron.New(cron.WithParser(parser), cron.WithLocation(loc)),
		log: log.With(logx.String("comp", "cron")),
		now: time.Now,
	}

	var jobs []*maintenanceJob
	if prune != nil {
		spec := strings.TrimSpace(cfg.PruneUsage)
		if spec == "" {
			spec = defaultPruneSpec
		}
		days := cfg.UsageRetentionDays
		if days <= 0 {
			days = defaultRetentionDays
		}
		jobs = append(jobs, &maintenanceJob{name: "prune_usage", spec: spec, run: func(ctx context.Context) error {
			before := storage.Day(m.now().In(loc).AddDate(0, 0, -days))
			n, err := prune.PruneUsage(ctx, before)
			if err != nil {
				return err
			}
			m.log.Info("usage pruned", logx.String("before", before), logx.Int64("rows", n))
			return nil
		}})
	}
	if spec := strings.TrimSpace(cfg.RefreshCredentials); spec != "" && refresh != nil {
		jobs = append(jobs, &maintenanceJob{name: "refresh_credentials", spec: spec, run: func(ctx context.Context) error {
			n, err := refresh.RefreshCredentials(ctx)
			m.log.Info("credentials refreshed", logx.Int("refreshed", n))
			return err
		}})
	}

	for _, j := range jobs {
		if _, err := m.c.AddJob(j.spec, cron.FuncJob(func() { m.runJob(j) })); err != nil {
			return nil, fmt.Errorf("cron %s: %w", j.name, err)
		}
	}
	return m, nil
}

// runJob skips a run while the previous one is still going.
func (m *maintenance) runJob(j *maintenanceJob) {
	if !j.running.CompareAndSwap(false, true) {
		m.log.Warn("job still running; skipped", logx.String("job", j.name))
		return
	}
	defer j.running.Store(false)
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("job panicked", logx.String("job", j.name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
	defer cancel()
	start := time.Now()
	if err := j.run(ctx); err != nil {
		m.log.Warn("job failed", logx.String("job", j.name), logx.Duration("took", time.Since(start)), logx.Err(err))
	}
}

func (m *maintenance) Start() {
	m.c.Start()
	m.log.Info("service started", logx.Int("jobs", len(m.c.Entries())))
}

// Stop prevents new runs and waits for running ones until ctx ends.
func (m *maintenance) Stop(ctx context.Context) {
	select {
	case <-m.c.Stop().Done():
	case <-ctx.Done():
	}
}
