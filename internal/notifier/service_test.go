package notifier

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restorebot/internal/dispatch"
	"restorebot/internal/eventbus"
	kit "restorebot/internal/transport"
	"restorebot/internal/transport/transporttest"
	logx "restorebot/pkg/logx"
)

var _ dispatch.Notifier = (*Service)(nil)

func newService(ad kit.Adapter, bus eventbus.Bus) *Service {
	return New(Config{RatePerSec: 1000, RetryMax: 2, RetryBase: time.Millisecond}, ad, logx.Nop(), bus)
}

func TestSendStatusUsesHTMLAndReturnsRef(t *testing.T) {
	ad := transporttest.New()
	s := newService(ad, nil)

	ref, err := s.SendStatus(context.Background(), kit.ChatTarget{ChatID: 7}, "<b>hi</b>")
	require.NoError(t, err)
	assert.Equal(t, int64(7), ref.ChatID)
	assert.NotZero(t, ref.MessageID)

	last := ad.Last()
	assert.Equal(t, "send", last.Op)
	assert.Equal(t, "HTML", last.Options.ParseMode)
	assert.True(t, last.Options.DisablePreview)
}

func TestSendRetriesTransientErrors(t *testing.T) {
	ad := transporttest.New()
	var failures atomic.Int32
	ad.Fail = func(op string, _ kit.MessageRef) error {
		if op == "send" && failures.Add(1) <= 2 {
			return errors.New("temporary")
		}
		return nil
	}
	bus := eventbus.New()
	events, unsubscribe := bus.Subscribe(8)
	defer unsubscribe()

	s := newService(ad, bus)
	_, err := s.SendStatus(context.Background(), kit.ChatTarget{ChatID: 1}, "x")
	require.NoError(t, err)
	assert.Len(t, ad.Find("send", "x"), 1)

	ev := <-events
	assert.Equal(t, EventSent, ev.Type)
	assert.Equal(t, 3, ev.Data.(NotificationEvent).Attempts)
}

func TestSendGivesUpAfterRetryMax(t *testing.T) {
	ad := transporttest.New()
	var calls atomic.Int32
	ad.Fail = func(string, kit.MessageRef) error {
		calls.Add(1)
		return errors.New("down")
	}
	s := newService(ad, nil)

	_, err := s.SendStatus(context.Background(), kit.ChatTarget{ChatID: 1}, "x")
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())

	h := s.History()
	require.Len(t, h, 1)
	assert.Equal(t, "down", h[0].Err)
}

func TestBlockedIsNotRetried(t *testing.T) {
	ad := transporttest.New()
	var calls atomic.Int32
	ad.Fail = func(string, kit.MessageRef) error {
		calls.Add(1)
		return kit.ErrBlocked
	}
	s := newService(ad, nil)

	_, err := s.SendStatus(context.Background(), kit.ChatTarget{ChatID: 1}, "x")
	require.ErrorIs(t, err, kit.ErrBlocked)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEditStatusToleratesNotModifiedAndGone(t *testing.T) {
	for _, fail := range []error{kit.ErrNotModified, kit.ErrMessageNotFound} {
		ad := transporttest.New()
		ad.Fail = func(string, kit.MessageRef) error { return fail }
		s := newService(ad, nil)
		assert.NoError(t, s.EditStatus(context.Background(), kit.MessageRef{ChatID: 1, MessageID: 2}, "x"), fail.Error())
	}
}

func TestDeleteToleratesGone(t *testing.T) {
	ad := transporttest.New()
	ad.Fail = func(string, kit.MessageRef) error { return kit.ErrMessageNotFound }
	s := newService(ad, nil)
	assert.NoError(t, s.Delete(context.Background(), kit.MessageRef{ChatID: 1, MessageID: 2}))
}

func TestSendFinalPhotoWithCaption(t *testing.T) {
	ad := transporttest.New()
	s := newService(ad, nil)

	require.NoError(t, s.SendFinal(context.Background(), kit.ChatTarget{ChatID: 3}, "done", "photo-id"))
	calls := ad.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "photo", calls[0].Op)
	assert.Equal(t, "photo-id", calls[0].Photo)
	assert.Equal(t, "done", calls[0].Text)
}

func TestSendFinalLongTextFollowsPhoto(t *testing.T) {
	ad := transporttest.New()
	s := newService(ad, nil)
	long := strings.Repeat("a", captionLimit+1)

	require.NoError(t, s.SendFinal(context.Background(), kit.ChatTarget{ChatID: 3}, long, "photo-id"))
	calls := ad.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "photo", calls[0].Op)
	assert.Empty(t, calls[0].Text)
	assert.Equal(t, "send", calls[1].Op)
	assert.Equal(t, long, calls[1].Text)
}

func TestSendFinalFallsBackToText(t *testing.T) {
	ad := transporttest.New()
	ad.Fail = func(op string, _ kit.MessageRef) error {
		if op == "photo" {
			return errors.New("bad file id")
		}
		return nil
	}
	s := New(Config{RatePerSec: 1000}, ad, logx.Nop(), nil)

	require.NoError(t, s.SendFinal(context.Background(), kit.ChatTarget{ChatID: 3}, "done", "broken"))
	calls := ad.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "send", calls[0].Op)
	assert.Equal(t, "done", calls[0].Text)
}

func TestSendFinalWithoutPhoto(t *testing.T) {
	ad := transporttest.New()
	s := newService(ad, nil)
	require.NoError(t, s.SendFinal(context.Background(), kit.ChatTarget{ChatID: 3}, "done", ""))
	assert.Equal(t, "send", ad.Last().Op)
}

func TestCanceledContextStopsRetries(t *testing.T) {
	ad := transporttest.New()
	ad.Fail = func(string, kit.MessageRef) error { return errors.New("down") }
	s := New(Config{RatePerSec: 1000, RetryMax: 5, RetryBase: time.Hour}, ad, logx.Nop(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.SendStatus(ctx, kit.ChatTarget{ChatID: 1}, "x")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetryDelayIsCapped(t *testing.T) {
	cfg := Config{RetryBase: time.Second, RetryMaxDelay: 3 * time.Second}.withDefaults()
	for attempt := 1; attempt < 10; attempt++ {
		d := retryDelay(cfg, attempt)
		assert.LessOrEqual(t, d, 3*time.Second)
		assert.Greater(t, d, time.Duration(0))
	}
}
