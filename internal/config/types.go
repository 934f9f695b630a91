package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("500ms", "3m"); empty means the component default.
type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Bot        BotConfig        `json:"bot"`
	Logging    LoggingConfig    `json:"logging"`
	Dispatch   DispatchConfig   `json:"dispatch"`
	Quota      QuotaConfig      `json:"quota"`
	Storage    *StorageConfig   `json:"storage,omitempty"`
	Restore    RestoreConfig    `json:"restore"`
	Provision  ProvisionConfig  `json:"provision"`
	Membership MembershipConfig `json:"membership"`
	Notifier   *NotifierConfig  `json:"notifier,omitempty"`
	Broadcast  BroadcastConfig  `json:"broadcast"`
	Ops        OpsConfig        `json:"ops"`
	Cron       CronConfig       `json:"cron"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// SuperAdminID owns credentials and every admin command.
	SuperAdminID int64  `json:"super_admin_id"`
	PollTimeout  string `json:"poll_timeout"`
}

// BotConfig shapes the chat front end.
type BotConfig struct {
	// GroupOnly turns away private chats from users who are neither the
	// owner nor VIP; GroupLink is offered instead.
	GroupOnly  bool   `json:"group_only"`
	GroupLink  string `json:"group_link,omitempty"`
	PendingTTL string `json:"pending_ttl,omitempty"` // default 10m, /addtoken reply window
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards records at or above MinLevel to an operator chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// DispatchConfig tunes the worker pool.
//
// Defaults: workers 3, almost_threshold 2 (negative disables),
// exec_timeout 3m, refresh_timeout 1m, companion_timeout 30s,
// notify_timeout 10s, progress_lines 10, progress_interval 1.5s,
// settle_delay 2s, history_size 50.
type DispatchConfig struct {
	Workers          int    `json:"workers,omitempty"`
	AlmostThreshold  int    `json:"almost_threshold,omitempty"`
	ExecTimeout      string `json:"exec_timeout,omitempty"`
	RefreshTimeout   string `json:"refresh_timeout,omitempty"`
	CompanionTimeout string `json:"companion_timeout,omitempty"`
	NotifyTimeout    string `json:"notify_timeout,omitempty"`
	ProgressLines    int    `json:"progress_lines,omitempty"`
	ProgressInterval string `json:"progress_interval,omitempty"`
	SettleDelay      string `json:"settle_delay,omitempty"`
	HistorySize      int    `json:"history_size,omitempty"`
	DonatePhoto      string `json:"donate_photo,omitempty"`
}

type QuotaConfig struct {
	DailyLimit int `json:"daily_limit"`
}

// StorageConfig selects the persistence backend. Nil means sqlite at the
// default path.
//
//	"storage": { "driver": "sqlite", "path": "./restorebot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// RestoreConfig points the restore client at the subscription API.
type RestoreConfig struct {
	BaseURL   string `json:"base_url"`
	ProductID string `json:"product_id"`
	Timeout   string `json:"timeout,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	// Credentials are loaded into the pool in addition to stored ones.
	Credentials []StaticCredential `json:"credentials,omitempty"`
}

type StaticCredential struct {
	Name           string `json:"name"`
	FetchToken     string `json:"fetch_token"`
	AppTransaction string `json:"app_transaction"`
	HashParams     string `json:"hash_params,omitempty"`
	HashHeaders    string `json:"hash_headers,omitempty"`
	Sandbox        bool   `json:"sandbox,omitempty"`
}

// ProvisionConfig controls the DNS profile created after a success.
type ProvisionConfig struct {
	Enabled     bool   `json:"enabled"`
	APIKey      string `json:"api_key"`
	BaseURL     string `json:"base_url,omitempty"`     // default: https://api.nextdns.io
	ProfileName string `json:"profile_name,omitempty"` // default: "Locket Gold"
	LinkBase    string `json:"link_base,omitempty"`    // default: https://apple.nextdns.io/?profile=
}

// MembershipConfig lists chats a user must have joined before submitting.
type MembershipConfig struct {
	Channels []ChannelConfig `json:"channels,omitempty"`
}

type ChannelConfig struct {
	ID   string `json:"id"` // @username or numeric id
	Name string `json:"name,omitempty"`
	Link string `json:"link,omitempty"`
}

// NotifierConfig controls outbound message delivery.
type NotifierConfig struct {
	RatePerSec int    `json:"rate_per_sec"`
	Burst      int    `json:"burst,omitempty"`
	RetryMax   int    `json:"retry_max"`
	RetryBase  string `json:"retry_base"`
}

type BroadcastConfig struct {
	RatePerSec int `json:"rate_per_sec,omitempty"` // default 20
	Workers    int `json:"workers,omitempty"`      // default 4
	// ProgressEvery edits the admin's progress message every N sends.
	ProgressEvery int `json:"progress_every,omitempty"`
}

// OpsConfig controls the liveness/health HTTP server.
type OpsConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr,omitempty"` // default ":8080"
	Token        string `json:"token,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	// Pprof mounts /debug/pprof on the same server.
	Pprof bool `json:"pprof,omitempty"`
}

// CronConfig schedules maintenance jobs (robfig/cron specs).
type CronConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
	// PruneUsage drops usage rows older than UsageRetentionDays.
	PruneUsage         string `json:"prune_usage,omitempty"` // default "@daily"
	UsageRetentionDays int    `json:"usage_retention_days,omitempty"`
	// RefreshCredentials refreshes the pool ahead of expiry; empty disables.
	RefreshCredentials string `json:"refresh_credentials,omitempty"`
}
