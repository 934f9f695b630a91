package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restorebot/internal/config"
	logx "restorebot/pkg/logx"
)

type fakePruner struct {
	before string
	calls  atomic.Int32
}

func (f *fakePruner) PruneUsage(_ context.Context, before string) (int64, error) {
	f.calls.Add(1)
	f.before = before
	return 3, nil
}

type fakeRefresher struct {
	calls atomic.Int32
	err   error
}

func (f *fakeRefresher) RefreshCredentials(context.Context) (int, error) {
	f.calls.Add(1)
	return 1, f.err
}

func TestMaintenanceRegistersJobs(t *testing.T) {
	t.Parallel()
	m, err := newMaintenance(config.CronConfig{Enabled: true, RefreshCredentials: "*/30 * * * *"}, &fakePruner{}, &fakeRefresher{}, logx.Nop())
	require.NoError(t, err)
	assert.Len(t, m.c.Entries(), 2)

	m, err = newMaintenance(config.CronConfig{Enabled: true}, &fakePruner{}, &fakeRefresher{}, logx.Nop())
	require.NoError(t, err)
	assert.Len(t, m.c.Entries(), 1, "refresh is off without a schedule")
}

func TestMaintenanceRejectsBadInput(t *testing.T) {
	t.Parallel()
	_, err := newMaintenance(config.CronConfig{Timezone: "Mars/Olympus"}, &fakePruner{}, nil, logx.Nop())
	assert.ErrorContains(t, err, "cron.timezone")

	_, err = newMaintenance(config.CronConfig{PruneUsage: "every now and then"}, &fakePruner{}, nil, logx.Nop())
	assert.ErrorContains(t, err, "prune_usage")
}

func TestPruneJobUsesRetention(t *testing.T) {
	t.Parallel()
	p := &fakePruner{}
	m, err := newMaintenance(config.CronConfig{Timezone: "UTC", UsageRetentionDays: 3}, p, nil, logx.Nop())
	require.NoError(t, err)
	m.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	m.c.Entries()[0].Job.Run()
	assert.Equal(t, int32(1), p.calls.Load())
	assert.Equal(t, "2026-03-07", p.before)
}

func TestRunJobSkipsWhileRunning(t *testing.T) {
	t.Parallel()
	m, err := newMaintenance(config.CronConfig{}, nil, nil, logx.Nop())
	require.NoError(t, err)

	var runs atomic.Int32
	j := &maintenanceJob{name: "slow", run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}
	j.running.Store(true)
	m.runJob(j)
	assert.Zero(t, runs.Load())

	j.running.Store(false)
	m.runJob(j)
	assert.Equal(t, int32(1), runs.Load())
	assert.False(t, j.running.Load())
}

func TestRunJobSurvivesPanicAndError(t *testing.T) {
	t.Parallel()
	m, err := newMaintenance(config.CronConfig{}, nil, nil, logx.Nop())
	require.NoError(t, err)

	j := &maintenanceJob{name: "boom", run: func(context.Context) error { panic("boom") }}
	assert.NotPanics(t, func() { m.runJob(j) })
	assert.False(t, j.running.Load())

	r := &fakeRefresher{err: errors.New("upstream down")}
	m.runJob(&maintenanceJob{name: "refresh", run: func(ctx context.Context) error {
		_, err := r.RefreshCredentials(ctx)
		return err
	}})
	assert.Equal(t, int32(1), r.calls.Load())
}

func TestMaintenanceStartStop(t *testing.T) {
	t.Parallel()
	m, err := newMaintenance(config.CronConfig{}, &fakePruner{}, nil, logx.Nop())
	require.NoError(t, err)
	m.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.Stop(ctx)
	assert.NoError(t, ctx.Err())
}
