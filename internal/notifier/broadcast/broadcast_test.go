package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "restorebot/internal/transport"
	"restorebot/internal/transport/transporttest"
	logx "restorebot/pkg/logx"
)

// adapterSender sends straight through a transport adapter.
type adapterSender struct{ kit.Adapter }

func (a adapterSender) Send(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return a.SendText(ctx, to, text, opt)
}

func startService(t *testing.T, cfg Config, ad *transporttest.Adapter) *Service {
	t.Helper()
	s := New(cfg, adapterSender{ad}, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestBroadcastSendsToEveryTargetOnce(t *testing.T) {
	ad := transporttest.New()
	s := startService(t, Config{Workers: 3, RatePerSec: 1000}, ad)

	id, err := s.NewJob("noti", []int64{1, 2, 3, 2, 4}, "hello", nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := s.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 4, st.Done)
	assert.Zero(t, st.Failed)

	got := map[int64]int{}
	for _, c := range ad.Find("send", "hello") {
		got[c.Ref.ChatID]++
	}
	assert.Equal(t, map[int64]int{1: 1, 2: 1, 3: 1, 4: 1}, got)
}

func TestBroadcastCountsBlockedUsers(t *testing.T) {
	ad := transporttest.New()
	ad.Fail = func(op string, ref kit.MessageRef) error {
		if op == "send" && ref.ChatID == 2 {
			return kit.ErrBlocked
		}
		return nil
	}
	s := startService(t, Config{Workers: 2, RatePerSec: 1000}, ad)

	id, err := s.NewJob("noti", []int64{1, 2, 3}, "hi", nil, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := s.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Done)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, 1, st.Blocked)
}

func TestBroadcastReportsProgress(t *testing.T) {
	ad := transporttest.New()
	s := startService(t, Config{Workers: 2, RatePerSec: 1000, ProgressEvery: 2}, ad)

	var (
		mu      sync.Mutex
		reports []JobStatus
	)
	targets := []int64{1, 2, 3, 4, 5}
	id, err := s.NewJob("noti", targets, "hi", nil, func(st JobStatus) {
		mu.Lock()
		reports = append(reports, st)
		mu.Unlock()
	})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = s.Wait(ctx, id)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reports) > 0 && reports[len(reports)-1].Finished()
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	last := reports[len(reports)-1]
	assert.Equal(t, 5, last.Done)
	assert.GreaterOrEqual(t, len(reports), 2)
}

func TestNewJobRejections(t *testing.T) {
	ad := transporttest.New()
	s := New(Config{}, adapterSender{ad}, logx.Nop())

	_, err := s.NewJob("noti", nil, "hi", nil, nil)
	assert.ErrorIs(t, err, ErrNoTargets)

	_, err = s.NewJob("noti", []int64{1}, "hi", nil, nil)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestStatusPruneKeepsRunningJobs(t *testing.T) {
	s := New(Config{}, adapterSender{transporttest.New()}, logx.Nop())
	s.statusMax = 1
	old := time.Now().Add(-time.Hour)
	s.status["a"] = &JobStatus{ID: "a", CreatedAt: old, Running: true}
	s.status["b"] = &JobStatus{ID: "b", CreatedAt: old.Add(time.Minute)}
	s.status["c"] = &JobStatus{ID: "c", CreatedAt: old.Add(2 * time.Minute)}

	s.pruneStatus(time.Now())
	_, okA := s.Status("a")
	assert.True(t, okA)
	assert.Len(t, s.status, 1)
}
