package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"restorebot/internal/bot"
	"restorebot/internal/config"
	"restorebot/internal/dispatch"
	"restorebot/internal/eventbus"
	"restorebot/internal/messages"
	"restorebot/internal/notifier"
	"restorebot/internal/notifier/broadcast"
	"restorebot/internal/opsserver"
	"restorebot/internal/provision"
	"restorebot/internal/restore"
	rtsup "restorebot/internal/runtime/supervisor"
	"restorebot/internal/storage"
	kit "restorebot/internal/transport"
	telegram "restorebot/internal/transport/telegram/adapter"
	"restorebot/internal/transport/telegram/router"
	logx "restorebot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	notif   *notifier.Service
	bcast   *broadcast.Service
	ctl     *dispatch.Controller
	router  *router.Router
	ops     *opsserver.Service
	cron    *maintenance

	updates chan kit.Update
}

// NewApp loads cfgPath and wires every component. Nothing runs until Start.
func NewApp(cfgPath string) (_ *App, err error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(validateConfig)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	defer func() {
		if err != nil {
			_ = logSvc.Close()
		}
	}()

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, log)
	if err != nil {
		return nil, err
	}
	logSvc.SetTelegramSink(func(ctx context.Context, chatID int64, text string) error {
		_, err := ad.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{DisablePreview: true})
		return err
	})

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err != nil {
			_ = store.Close()
		}
	}()
	log.Info("storage ready", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(ncfg, ad, log, bus)

	rcfg, err := mapRestoreConfig(cfg)
	if err != nil {
		return nil, err
	}
	rc, err := restore.New(rcfg, log)
	if err != nil {
		return nil, err
	}

	dcfg, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	deps := dispatch.Deps{
		Store:     store,
		Notifier:  notif,
		Executor:  rc,
		Refresher: rc,
		Presenter: messages.Presenter{},
		Bus:       bus,
		Log:       log,
	}
	if cfg.Provision.Enabled {
		deps.Companion = provision.NewNextDNS(mapProvisionConfig(cfg), log)
	}
	var gate *bot.ChannelGate
	if channels := mapChannels(cfg); len(channels) > 0 {
		gate = bot.NewChannelGate(ad, channels, log)
		deps.Gate = gate
	}
	ctl, err := dispatch.New(dcfg, deps)
	if err != nil {
		return nil, err
	}

	bc := broadcast.New(mapBroadcastConfig(cfg), notif, log)

	bcfg, err := mapBotConfig(cfg)
	if err != nil {
		return nil, err
	}
	b, err := bot.New(bcfg, bot.Deps{
		Controller:  ctl,
		Store:       store,
		Messenger:   notif,
		Callbacks:   ad,
		Resolver:    rc,
		Broadcaster: bc,
		Gate:        gate,
		Log:         log,
	})
	if err != nil {
		return nil, err
	}
	r := router.New(router.Options{Adapter: ad, Log: log, IsAdmin: b.IsAdmin})
	b.Register(r)

	ocfg, err := mapOpsConfig(cfg)
	if err != nil {
		return nil, err
	}
	ops := opsserver.New(ocfg, ctl, store, log)

	var cr *maintenance
	if cfg.Cron.Enabled {
		if cr, err = newMaintenance(cfg.Cron, store, ctl, log); err != nil {
			return nil, err
		}
	}

	return &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		notif:   notif,
		bcast:   bc,
		ctl:     ctl,
		router:  r,
		ops:     ops,
		cron:    cr,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log)

	if err := a.ctl.Restore(ctx); err != nil {
		return fmt.Errorf("restore dispatcher state: %w", err)
	}
	static := staticCredentials(a.cfgm.Get())
	for _, c := range static {
		a.ctl.Pool().Append(c)
	}
	a.log.Info("credentials loaded", logx.Int("total", a.ctl.Pool().Len()), logx.Int("static", len(static)))

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if err := a.router.PublishMenu(ctx); err != nil {
		a.log.Warn("command menu not published", logx.Err(err))
	}

	// The dispatcher outlives the app context so Stop can drain it.
	if err := a.ctl.Start(context.WithoutCancel(a.sup.Context())); err != nil {
		return err
	}
	a.bcast.Start(a.sup.Context())
	a.ops.Start(a.sup.Context())
	if a.cron != nil {
		a.cron.Start()
	}

	a.sup.Go("router", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				next = latest(sub, next)
				a.applyConfig(last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.String("bot", a.adapter.Username()))
	return nil
}

// validateConfig also runs the mappers so a reload never commits a config
// the components would reject.
func validateConfig(_ context.Context, cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	_, err := mapDispatchConfig(cfg)
	return err
}

// latest drains queued reloads and keeps the newest.
func latest(sub <-chan *config.Config, cfg *config.Config) *config.Config {
	for {
		select {
		case newer, ok := <-sub:
			if !ok || newer == nil {
				return cfg
			}
			cfg = newer
		default:
			return cfg
		}
	}
}

// applyConfig pushes the hot-reloadable sections to live components.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.Summarize(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.Strings("sections", restart))
	}

	a.logs.Apply(mapLogConfig(next))

	if next.Quota.DailyLimit > 0 && next.Quota.DailyLimit != prev.Quota.DailyLimit {
		a.ctl.Quota().SetLimit(next.Quota.DailyLimit)
	}
	if ncfg, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}
	a.bcast.Apply(mapBroadcastConfig(next))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Stops polling and the router; the dispatcher keeps running until its step.
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("cron", 2*time.Second, func(c context.Context) error {
		if a.cron != nil {
			a.cron.Stop(c)
		}
		return nil
	})
	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("broadcast", 2*time.Second, func(c context.Context) error { a.bcast.Stop(c); return nil })
	step("dispatch", 20*time.Second, a.ctl.Stop)
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error {
		if err := a.sup.Wait(c); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}
