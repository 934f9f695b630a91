package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate checks a parsed config before it is committed.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if cfg.Telegram.SuperAdminID == 0 {
		errs = append(errs, errors.New("telegram.super_admin_id is required"))
	}
	if cfg.Quota.DailyLimit < 0 {
		errs = append(errs, errors.New("quota.daily_limit must be >= 0"))
	}
	if cfg.Dispatch.Workers < 0 {
		errs = append(errs, errors.New("dispatch.workers must be >= 0"))
	}

	durations := map[string]string{
		"telegram.poll_timeout":      cfg.Telegram.PollTimeout,
		"bot.pending_ttl":            cfg.Bot.PendingTTL,
		"dispatch.exec_timeout":      cfg.Dispatch.ExecTimeout,
		"dispatch.refresh_timeout":   cfg.Dispatch.RefreshTimeout,
		"dispatch.companion_timeout": cfg.Dispatch.CompanionTimeout,
		"dispatch.notify_timeout":    cfg.Dispatch.NotifyTimeout,
		"dispatch.progress_interval": cfg.Dispatch.ProgressInterval,
		"dispatch.settle_delay":      cfg.Dispatch.SettleDelay,
		"restore.timeout":            cfg.Restore.Timeout,
		"ops.read_timeout":           cfg.Ops.ReadTimeout,
		"ops.write_timeout":          cfg.Ops.WriteTimeout,
	}
	if cfg.Storage != nil {
		durations["storage.busy_timeout"] = cfg.Storage.BusyTimeout
	}
	if cfg.Notifier != nil {
		durations["notifier.retry_base"] = cfg.Notifier.RetryBase
	}
	for path, raw := range durations {
		if _, err := ParseDuration(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Restore.BaseURL) == "" {
		errs = append(errs, errors.New("restore.base_url is required"))
	}
	for i, c := range cfg.Restore.Credentials {
		if c.FetchToken == "" || c.AppTransaction == "" {
			errs = append(errs, fmt.Errorf("restore.credentials[%d]: fetch_token and app_transaction are required", i))
		}
	}
	if cfg.Provision.Enabled && strings.TrimSpace(cfg.Provision.APIKey) == "" {
		errs = append(errs, errors.New("provision.api_key is required when provision is enabled"))
	}
	for i, ch := range cfg.Membership.Channels {
		if strings.TrimSpace(ch.ID) == "" {
			errs = append(errs, fmt.Errorf("membership.channels[%d].id is required", i))
		}
	}

	if cfg.Cron.Enabled {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		for path, spec := range map[string]string{
			"cron.prune_usage":         cfg.Cron.PruneUsage,
			"cron.refresh_credentials": cfg.Cron.RefreshCredentials,
		} {
			if strings.TrimSpace(spec) == "" {
				continue
			}
			if _, err := parser.Parse(spec); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", path, err))
			}
		}
	}
	return errors.Join(errs...)
}
