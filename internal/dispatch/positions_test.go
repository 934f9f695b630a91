package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restorebot/internal/transport"
)

func queuedJob(target string, msgID int) *Job {
	return &Job{ID: "job-" + target, Target: target, Reply: transport.MessageRef{ChatID: 5, MessageID: msgID}}
}

func TestPositionFeedSkipsDequeuedJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), Deps{})
	j := queuedJob("t1", 3)
	j.dequeued.Store(true)

	h.c.feed.send(pendingEdit{p: Placement{Job: j, Position: 1}, almost: true})
	assert.Empty(t, h.notify.find("edit", ""))
	assert.Empty(t, h.notify.find("send", ""))
	assert.Nil(t, j.feedEdit)
}

func TestPositionFeedMarksEditDone(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), Deps{})
	j := queuedJob("t1", 3)

	h.c.feed.send(pendingEdit{p: Placement{Job: j, Position: 2, Ahead: 1}})
	assert.Len(t, h.notify.find("edit", "queued t1 pos=2 ahead=1"), 1)
	require.NotNil(t, j.feedEdit)
	select {
	case <-j.feedEdit:
	default:
		t.Fatal("feed edit still marked in flight")
	}
}

func TestClaimWaitsForInFlightFeedEdit(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), Deps{})
	j := queuedJob("t1", 3)
	inFlight := make(chan struct{})
	j.feedEdit = inFlight
	j.dequeued.Store(true)

	claimed := make(chan struct{})
	go func() {
		h.c.claim(j)
		close(claimed)
	}()

	select {
	case <-claimed:
		t.Fatal("claim returned while the feed edit was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(inFlight)
	select {
	case <-claimed:
	case <-time.After(time.Second):
		t.Fatal("claim never returned")
	}
}

func TestClaimIsBoundedByNotifyTimeout(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.NotifyTimeout = 20 * time.Millisecond
	h := newHarness(t, cfg, Deps{})
	j := queuedJob("t1", 3)
	j.feedEdit = make(chan struct{})

	start := time.Now()
	h.c.claim(j)
	assert.Less(t, time.Since(start), time.Second)

	// No edit in flight: nothing to wait for.
	h.c.claim(queuedJob("t2", 4))
}
