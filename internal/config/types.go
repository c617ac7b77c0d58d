package config

// Config is the on-disk configuration of grievd.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Secret fields accept "env:NAME" to read the value from the environment.
type Config struct {
	Logging     LoggingConfig     `json:"logging"`
	HTTP        HTTPConfig        `json:"http"`
	Dispatcher  DispatcherConfig  `json:"dispatcher"`
	Senders     SendersConfig     `json:"senders"`
	Store       StoreConfig       `json:"store"`
	Feed        FeedConfig        `json:"feed"`
	Directory   DirectoryConfig   `json:"directory"`
	Live        LiveConfig        `json:"live"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	Alerts      AlertsConfig      `json:"alerts"`
	Pprof       PprofConfig       `json:"pprof"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// HTTPConfig controls the API listener.
//
// Defaults: addr ":8080", read_timeout "15s", write_timeout "30s",
// idle_timeout "60s", request_timeout "30s".
type HTTPConfig struct {
	Addr           string   `json:"addr"`
	JWTSecret      string   `json:"jwt_secret"` // do not log
	JWTIssuer      string   `json:"jwt_issuer,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	ReadTimeout    string   `json:"read_timeout,omitempty"`
	WriteTimeout   string   `json:"write_timeout,omitempty"`
	IdleTimeout    string   `json:"idle_timeout,omitempty"`
	RequestTimeout string   `json:"request_timeout,omitempty"`
	MetricsEnabled *bool    `json:"metrics_enabled,omitempty"`
}

// DispatcherConfig controls delivery execution.
//
// Defaults: workers 4, max_concurrency 8, queue_size 256,
// default_timeout "15s", log_timeout "5s".
type DispatcherConfig struct {
	Workers        int               `json:"workers,omitempty"`
	MaxConcurrency int               `json:"max_concurrency,omitempty"`
	QueueSize      int               `json:"queue_size,omitempty"`
	DefaultTimeout string            `json:"default_timeout,omitempty"`
	LogTimeout     string            `json:"log_timeout,omitempty"`
	Timeouts       map[string]string `json:"timeouts,omitempty"` // channel -> duration
}

type SendersConfig struct {
	Push   PushConfig   `json:"push"`
	Email  EmailConfig  `json:"email"`
	Twilio TwilioConfig `json:"twilio"`
}

type PushConfig struct {
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// EmailConfig configures the Resend HTTP API.
type EmailConfig struct {
	APIKey     string `json:"api_key"` // do not log
	From       string `json:"from"`
	BaseURL    string `json:"base_url,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// TwilioConfig configures SMS and voice calls. Voice uses the same number.
type TwilioConfig struct {
	AccountSID     string `json:"account_sid"`
	AuthToken      string `json:"auth_token"` // do not log
	From           string `json:"from"`
	BaseURL        string `json:"base_url,omitempty"`
	RatePerSec     int    `json:"rate_per_sec,omitempty"`
	CallRatePerSec int    `json:"call_rate_per_sec,omitempty"`
}

// StoreConfig selects the notification log backend.
//
// Example:
//
//	"store": { "driver": "sqlite", "path": "./grievd.db" }
type StoreConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // postgres; may be env:NAME
	BusyTimeout string `json:"busy_timeout,omitempty"`
	MaxConns    int32  `json:"max_conns,omitempty"`
}

// DirectoryConfig points at a profile/complaint export loaded at startup.
// Without it the directory only learns from change events.
type DirectoryConfig struct {
	SeedPath string `json:"seed_path,omitempty"`
}

// FeedConfig controls the change feed and its optional external sources.
type FeedConfig struct {
	PolicyBuffer int          `json:"policy_buffer,omitempty"`
	Redis        *RedisSource `json:"redis,omitempty"`
	Kafka        *KafkaSource `json:"kafka,omitempty"`
}

type RedisSource struct {
	Enabled  bool   `json:"enabled"`
	URL      string `json:"url"` // may be env:NAME
	Stream   string `json:"stream"`
	Group    string `json:"group"`
	Consumer string `json:"consumer,omitempty"`
	Block    string `json:"block,omitempty"`
	Count    int64  `json:"count,omitempty"`
}

type KafkaSource struct {
	Enabled bool     `json:"enabled"`
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
	Group   string   `json:"group"`
}

type LiveConfig struct {
	Buffer      int    `json:"buffer,omitempty"`
	DedupWindow string `json:"dedup_window,omitempty"`
	WriteWait   string `json:"write_wait,omitempty"`
	PongWait    string `json:"pong_wait,omitempty"`
	SendBuffer  int    `json:"send_buffer,omitempty"`
}

// MaintenanceConfig controls the pending-attempt reaper.
//
// Defaults: schedule "@every 1m", pending_ttl "10m".
type MaintenanceConfig struct {
	Enabled    bool   `json:"enabled"`
	Schedule   string `json:"schedule,omitempty"`
	PendingTTL string `json:"pending_ttl,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
}

// AlertsConfig forwards warn-and-above log records to a Telegram chat.
type AlertsConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token"` // do not log
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// PprofConfig controls the optional profiling listener.
//
// It binds to loopback by default; a public addr needs a token unless
// allow_insecure is set.
type PprofConfig struct {
	Enabled              bool   `json:"enabled"`
	Addr                 string `json:"addr,omitempty"`
	Token                string `json:"token,omitempty"` // do not log
	AllowInsecure        bool   `json:"allow_insecure,omitempty"`
	MutexProfileFraction int    `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int    `json:"block_profile_rate,omitempty"`
}
