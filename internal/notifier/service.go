package notifier

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"restorebot/internal/eventbus"
	kit "restorebot/internal/transport"
	logx "restorebot/pkg/logx"
)

// captionLimit is the longest photo caption the platform accepts.
const captionLimit = 1024

const historyMax = 100

var ErrNoAdapter = errors.New("notifier: no adapter")

// Service sends, edits and deletes chat messages under a shared rate
// limit. It is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	adapter kit.Adapter
	log     logx.Logger
	bus     eventbus.Bus

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	s := &Service{
		adapter: adapter,
		log:     log.With(logx.String("comp", "notifier")),
		bus:     bus,
	}
	s.applyLocked(cfg)
	return s
}

// Apply swaps rate and retry settings; in-flight calls keep the old ones.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	s.cfg = cfg.withDefaults()
	s.limiter = rate.NewLimiter(rate.Limit(s.cfg.RatePerSec), s.cfg.Burst)
}

func (s *Service) snapshot() (Config, *rate.Limiter, kit.Adapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.limiter, s.adapter
}

func (s *Service) options(opt *kit.SendOptions) *kit.SendOptions {
	cfg, _, _ := s.snapshot()
	o := kit.SendOptions{ParseMode: cfg.ParseMode, DisablePreview: true}
	if opt != nil {
		o = *opt
		if o.ParseMode == "" {
			o.ParseMode = cfg.ParseMode
		}
	}
	return &o
}

// Send delivers text with explicit options such as a keyboard.
func (s *Service) Send(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	var ref kit.MessageRef
	err := s.do(ctx, "send", to.ChatID, to.ThreadID, text, func(c context.Context, ad kit.Adapter) error {
		r, err := ad.SendText(c, to, text, s.options(opt))
		ref = r
		return err
	})
	return ref, err
}

// Edit replaces a message's text. A not-modified answer is success.
func (s *Service) Edit(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	err := s.do(ctx, "edit", ref.ChatID, ref.ThreadID, text, func(c context.Context, ad kit.Adapter) error {
		return ad.EditText(c, ref, text, s.options(opt))
	})
	if errors.Is(err, kit.ErrNotModified) {
		return nil
	}
	return err
}

// SendStatus posts a new status message and returns its reference.
func (s *Service) SendStatus(ctx context.Context, to kit.ChatTarget, text string) (kit.MessageRef, error) {
	return s.Send(ctx, to, text, nil)
}

// EditStatus rewrites a status message. A message the user already
// deleted is not an error.
func (s *Service) EditStatus(ctx context.Context, ref kit.MessageRef, text string) error {
	err := s.Edit(ctx, ref, text, nil)
	if errors.Is(err, kit.ErrMessageNotFound) {
		s.log.Debug("status message gone", logx.Int64("chat_id", ref.ChatID), logx.Int("message_id", ref.MessageID))
		return nil
	}
	return err
}

// SendFinal posts the closing message. With a photo the text becomes its
// caption, or follows it when too long to be one. If the photo cannot be
// sent the text is delivered alone.
func (s *Service) SendFinal(ctx context.Context, to kit.ChatTarget, text, photo string) error {
	if photo == "" {
		_, err := s.Send(ctx, to, text, nil)
		return err
	}

	caption := text
	if utf8.RuneCountInString(text) > captionLimit {
		caption = ""
	}
	err := s.do(ctx, "photo", to.ChatID, to.ThreadID, caption, func(c context.Context, ad kit.Adapter) error {
		_, err := ad.SendPhoto(c, to, photo, caption, s.options(nil))
		return err
	})
	switch {
	case errors.Is(err, kit.ErrBlocked), ctx.Err() != nil:
		return err
	case err != nil:
		s.log.Warn("final photo failed, sending text", logx.Int64("chat_id", to.ChatID), logx.Err(err))
		_, err = s.Send(ctx, to, text, nil)
		return err
	case caption == "" && text != "":
		_, err = s.Send(ctx, to, text, nil)
		return err
	}
	return nil
}

// Delete removes a message. A message that is already gone is not an
// error.
func (s *Service) Delete(ctx context.Context, ref kit.MessageRef) error {
	err := s.do(ctx, "delete", ref.ChatID, ref.ThreadID, "", func(c context.Context, ad kit.Adapter) error {
		return ad.DeleteMessage(c, ref)
	})
	if errors.Is(err, kit.ErrMessageNotFound) {
		return nil
	}
	return err
}

// History returns recent deliveries, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	out := make([]HistoryItem, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Service) appendHistory(it HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if over := len(s.history) - historyMax; over > 0 {
		s.history = append(s.history[:0], s.history[over:]...)
	}
	s.hmu.Unlock()
}

func (s *Service) do(ctx context.Context, op string, chatID int64, threadID int, text string, call func(context.Context, kit.Adapter) error) error {
	cfg, lim, ad := s.snapshot()
	if ad == nil {
		return ErrNoAdapter
	}

	attempts := 1 + cfg.RetryMax
	var (
		last error
		n    int
	)
	for n = 1; n <= attempts; n++ {
		if err := lim.Wait(ctx); err != nil {
			last = err
			break
		}
		last = call(ctx, ad)
		if last == nil || !retryable(last) {
			break
		}
		if n == attempts {
			break
		}
		delay := retryDelay(cfg, n)
		s.log.Debug("send retry scheduled",
			logx.String("op", op),
			logx.Int64("chat_id", chatID),
			logx.Int("attempt", n+1),
			logx.Duration("delay", delay),
			logx.Err(last),
		)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			last = ctx.Err()
		case <-t.C:
		}
		if ctx.Err() != nil {
			break
		}
	}
	if n > attempts {
		n = attempts
	}

	now := time.Now()
	ev := NotificationEvent{Op: op, ChatID: chatID, ThreadID: threadID, At: now, Attempts: n}
	it := HistoryItem{At: now, Op: op, Text: text}
	if last != nil && !errors.Is(last, kit.ErrNotModified) {
		ev.Error = last.Error()
		it.Err = last.Error()
		s.bus.Publish(eventbus.Event{Type: EventFailed, Time: now, Data: ev})
	} else {
		s.bus.Publish(eventbus.Event{Type: EventSent, Time: now, Data: ev})
	}
	s.appendHistory(it)
	return last
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, kit.ErrNotModified),
		errors.Is(err, kit.ErrMessageNotFound),
		errors.Is(err, kit.ErrBlocked),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// retryDelay is the pause before attempt+1: base*2^(attempt-1) with
// 0.7..1.3 jitter, capped at RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
