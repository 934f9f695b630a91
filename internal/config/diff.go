package config

import (
	"reflect"
	"sort"
	"strings"

	logx "restorebot/pkg/logx"
)

// Summarize lists the sections that differ between two configs, with
// log fields safe to print. Secrets are reported only as "set" flags.
func Summarize(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)
	section := func(name string, differ bool, fields ...logx.Field) {
		if differ {
			changed = append(changed, name)
			attrs = append(attrs, fields...)
		}
	}

	o, n := oldCfg.Telegram, newCfg.Telegram
	section("telegram", o.Token != n.Token || o.SuperAdminID != n.SuperAdminID || o.PollTimeout != n.PollTimeout,
		logx.Bool("telegram.token_changed", o.Token != n.Token),
		logx.String("telegram.poll_timeout", n.PollTimeout),
	)

	section("bot", oldCfg.Bot != newCfg.Bot, logx.Bool("bot.group_only", newCfg.Bot.GroupOnly))

	section("logging", !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging),
		logx.String("logging.level", newCfg.Logging.Level),
		logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
	)

	section("dispatch", !reflect.DeepEqual(oldCfg.Dispatch, newCfg.Dispatch),
		logx.Int("dispatch.workers", newCfg.Dispatch.Workers),
		logx.String("dispatch.exec_timeout", newCfg.Dispatch.ExecTimeout),
	)

	section("quota", oldCfg.Quota != newCfg.Quota, logx.Int("quota.daily_limit", newCfg.Quota.DailyLimit))

	section("storage", !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage))

	or, nr := oldCfg.Restore, newCfg.Restore
	section("restore", or.BaseURL != nr.BaseURL || or.ProductID != nr.ProductID || or.Timeout != nr.Timeout ||
		or.UserAgent != nr.UserAgent || !reflect.DeepEqual(or.Credentials, nr.Credentials),
		logx.String("restore.base_url", nr.BaseURL),
		logx.Int("restore.static_credentials", len(nr.Credentials)),
	)

	section("provision", oldCfg.Provision != newCfg.Provision,
		logx.Bool("provision.enabled", newCfg.Provision.Enabled),
		logx.Bool("provision.api_key_set", strings.TrimSpace(newCfg.Provision.APIKey) != ""),
	)

	section("membership", !reflect.DeepEqual(oldCfg.Membership, newCfg.Membership),
		logx.Int("membership.channels", len(newCfg.Membership.Channels)),
	)
	section("notifier", !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier))
	section("broadcast", oldCfg.Broadcast != newCfg.Broadcast)
	section("ops", oldCfg.Ops != newCfg.Ops,
		logx.Bool("ops.enabled", newCfg.Ops.Enabled),
		logx.String("ops.addr", newCfg.Ops.Addr),
	)
	section("cron", oldCfg.Cron != newCfg.Cron, logx.Bool("cron.enabled", newCfg.Cron.Enabled))

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired reports the changed sections that only take effect
// after a restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "telegram", "bot", "storage", "dispatch", "restore", "provision", "membership", "ops", "cron":
			out = append(out, s)
		}
	}
	return out
}
