package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restorebot/internal/config"
	"restorebot/internal/credential"
)

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	sc, err := mapStorageConfig(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, defaultDBPath, sc.Path)
	assert.Equal(t, time.Second, sc.BusyTimeout)

	sc, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: " SQLite3 ", BusyTimeout: "5s"}})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, 5*time.Second, sc.BusyTimeout)

	sc, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "file", Path: "state.json"}})
	require.NoError(t, err)
	assert.Equal(t, "file", sc.Driver)
	assert.Equal(t, "state.json", sc.Path)

	_, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "postgres"}})
	assert.ErrorContains(t, err, "unknown storage.driver")

	_, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{BusyTimeout: "soon"}})
	assert.Error(t, err)
}

func TestMapDispatchConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Telegram: config.TelegramConfig{SuperAdminID: 7},
		Quota:    config.QuotaConfig{DailyLimit: 4},
		Dispatch: config.DispatchConfig{
			Workers:     5,
			ExecTimeout: "90s",
			SettleDelay: "-1s",
		},
	}
	d, err := mapDispatchConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(7), d.SuperAdminID)
	assert.Equal(t, 4, d.DailyLimit)
	assert.Equal(t, 5, d.Workers)
	assert.Equal(t, 90*time.Second, d.ExecTimeout)
	assert.Equal(t, -time.Second, d.SettleDelay)
	assert.Zero(t, d.RefreshTimeout)

	cfg.Dispatch.NotifyTimeout = "ten seconds"
	_, err = mapDispatchConfig(cfg)
	assert.ErrorContains(t, err, "dispatch.notify_timeout")
}

func TestMapNotifierConfig(t *testing.T) {
	t.Parallel()
	n, err := mapNotifierConfig(&config.Config{})
	require.NoError(t, err)
	assert.Zero(t, n.RatePerSec)

	n, err = mapNotifierConfig(&config.Config{Notifier: &config.NotifierConfig{RatePerSec: 25, RetryMax: 2, RetryBase: "250ms"}})
	require.NoError(t, err)
	assert.Equal(t, 25, n.RatePerSec)
	assert.Equal(t, 2, n.RetryMax)
	assert.Equal(t, 250*time.Millisecond, n.RetryBase)
}

func TestStaticCredentials(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Restore: config.RestoreConfig{Credentials: []config.StaticCredential{
		{FetchToken: "a", AppTransaction: "b"},
		{Name: "Spare", FetchToken: "c", AppTransaction: "d", Sandbox: true},
	}}}
	creds := staticCredentials(cfg)
	require.Len(t, creds, 2)

	assert.Equal(t, "Config 1", creds[0].Name)
	assert.Equal(t, credential.ModeProduction, creds[0].Mode)
	assert.Zero(t, creds[0].ID)

	assert.Equal(t, "Spare", creds[1].Name)
	assert.True(t, creds[1].Sandbox())
	assert.Equal(t, "c", creds[1].Secret.FetchToken)
}

func TestMapBotAndOpsConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Bot: config.BotConfig{GroupOnly: true, GroupLink: "https://t.me/g", PendingTTL: "5m"},
		Ops: config.OpsConfig{Enabled: true, Addr: ":9000"},
		Membership: config.MembershipConfig{Channels: []config.ChannelConfig{
			{ID: " @news ", Name: "News", Link: "https://t.me/news"},
		}},
	}
	b, err := mapBotConfig(cfg)
	require.NoError(t, err)
	assert.True(t, b.GroupOnly)
	assert.Equal(t, 5*time.Minute, b.PendingTTL)

	o, err := mapOpsConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, ":9000", o.Addr)
	assert.Equal(t, 10*time.Second, o.ReadTimeout)
	assert.Equal(t, 10*time.Second, o.WriteTimeout)

	chs := mapChannels(cfg)
	require.Len(t, chs, 1)
	assert.Equal(t, "@news", chs[0].ID)

	cfg.Bot.PendingTTL = "later"
	_, err = mapBotConfig(cfg)
	assert.Error(t, err)
}
