package app

import (
	"fmt"
	"strings"
	"time"

	"restorebot/internal/bot"
	"restorebot/internal/config"
	"restorebot/internal/credential"
	"restorebot/internal/dispatch"
	"restorebot/internal/notifier"
	"restorebot/internal/notifier/broadcast"
	"restorebot/internal/opsserver"
	"restorebot/internal/provision"
	"restorebot/internal/restore"
	"restorebot/internal/storage"
	logx "restorebot/pkg/logx"
)

const defaultDBPath = "./restorebot.db"

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "sqlite", Path: defaultDBPath, BusyTimeout: time.Second}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "file", "memory":
		return storage.Config{Driver: driver, Path: path}, nil
	case "", "sqlite", "sqlite3":
		if path == "" {
			path = defaultDBPath
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Logging.Telegram.ChatID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	d := cfg.Dispatch
	out := dispatch.Config{
		Workers:         d.Workers,
		SuperAdminID:    cfg.Telegram.SuperAdminID,
		DailyLimit:      cfg.Quota.DailyLimit,
		AlmostThreshold: d.AlmostThreshold,
		ProgressLines:   d.ProgressLines,
		DonatePhoto:     d.DonatePhoto,
		HistorySize:     d.HistorySize,
	}
	durations := []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"dispatch.exec_timeout", d.ExecTimeout, &out.ExecTimeout},
		{"dispatch.refresh_timeout", d.RefreshTimeout, &out.RefreshTimeout},
		{"dispatch.companion_timeout", d.CompanionTimeout, &out.CompanionTimeout},
		{"dispatch.notify_timeout", d.NotifyTimeout, &out.NotifyTimeout},
		{"dispatch.progress_interval", d.ProgressInterval, &out.ProgressInterval},
		{"dispatch.settle_delay", d.SettleDelay, &out.SettleDelay},
	}
	for _, f := range durations {
		v, err := config.ParseDuration(f.path, f.raw)
		if err != nil {
			return dispatch.Config{}, err
		}
		*f.dst = v
	}
	return out, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	if cfg.Notifier == nil {
		return notifier.Config{}, nil
	}
	n := cfg.Notifier
	base, err := config.ParseDuration("notifier.retry_base", n.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{RatePerSec: n.RatePerSec, Burst: n.Burst, RetryMax: n.RetryMax, RetryBase: base}, nil
}

func mapBroadcastConfig(cfg *config.Config) broadcast.Config {
	b := cfg.Broadcast
	return broadcast.Config{Workers: b.Workers, RatePerSec: b.RatePerSec, ProgressEvery: b.ProgressEvery}
}

func mapRestoreConfig(cfg *config.Config) (restore.Config, error) {
	r := cfg.Restore
	timeout, err := config.ParseDuration("restore.timeout", r.Timeout)
	if err != nil {
		return restore.Config{}, err
	}
	return restore.Config{BaseURL: r.BaseURL, ProductID: r.ProductID, UserAgent: r.UserAgent, Timeout: timeout}, nil
}

// staticCredentials turns config-listed credentials into pool entries. They
// carry no store id and are not persisted.
func staticCredentials(cfg *config.Config) []credential.Credential {
	out := make([]credential.Credential, 0, len(cfg.Restore.Credentials))
	for i, c := range cfg.Restore.Credentials {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			name = fmt.Sprintf("Config %d", i+1)
		}
		mode := credential.ModeProduction
		if c.Sandbox {
			mode = credential.ModeSandbox
		}
		out = append(out, credential.Credential{
			Name: name,
			Secret: credential.Secret{
				FetchToken:     c.FetchToken,
				AppTransaction: c.AppTransaction,
				HashParams:     c.HashParams,
				HashHeaders:    c.HashHeaders,
			},
			Mode: mode,
		})
	}
	return out
}

func mapProvisionConfig(cfg *config.Config) provision.Config {
	p := cfg.Provision
	return provision.Config{APIKey: p.APIKey, BaseURL: p.BaseURL, ProfileName: p.ProfileName, LinkBase: p.LinkBase}
}

func mapBotConfig(cfg *config.Config) (bot.Config, error) {
	ttl, err := config.ParseDuration("bot.pending_ttl", cfg.Bot.PendingTTL)
	if err != nil {
		return bot.Config{}, err
	}
	return bot.Config{GroupOnly: cfg.Bot.GroupOnly, GroupLink: cfg.Bot.GroupLink, PendingTTL: ttl}, nil
}

func mapChannels(cfg *config.Config) []bot.Channel {
	out := make([]bot.Channel, 0, len(cfg.Membership.Channels))
	for _, ch := range cfg.Membership.Channels {
		out = append(out, bot.Channel{ID: strings.TrimSpace(ch.ID), Name: ch.Name, Link: ch.Link})
	}
	return out
}

func mapOpsConfig(cfg *config.Config) (opsserver.Config, error) {
	o := cfg.Ops
	rt, err := config.ParseDurationOrDefault("ops.read_timeout", o.ReadTimeout, 10*time.Second)
	if err != nil {
		return opsserver.Config{}, err
	}
	wt, err := config.ParseDurationOrDefault("ops.write_timeout", o.WriteTimeout, 10*time.Second)
	if err != nil {
		return opsserver.Config{}, err
	}
	return opsserver.Config{Enabled: o.Enabled, Addr: o.Addr, Token: o.Token, ReadTimeout: rt, WriteTimeout: wt, Profiler: o.Pprof}, nil
}
