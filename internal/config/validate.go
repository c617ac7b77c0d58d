package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"grievd/internal/domain"
)

const envPrefix = "env:"

// Defaults applied when the matching field is empty.
const (
	DefaultSendTimeout = 15 * time.Second
	DefaultLogTimeout  = 5 * time.Second
	DefaultPendingTTL  = 10 * time.Minute
)

// Duration parses the Go duration string raw found at path. Empty or zero
// values yield def.
func Duration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	case d == 0:
		return def, nil
	}
	return d, nil
}

// Secret resolves an "env:NAME" reference. Other values are returned
// trimmed. A reference to an unset variable resolves to "".
func Secret(raw string) string {
	s := strings.TrimSpace(raw)
	if name, ok := strings.CutPrefix(s, envPrefix); ok {
		return strings.TrimSpace(os.Getenv(strings.TrimSpace(name)))
	}
	return s
}

// Validate checks values that can be checked without touching the
// network. Missing sender credentials are not errors: those channels run
// disabled.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	dur := func(path, raw string, def time.Duration) time.Duration {
		d, err := Duration(path, raw, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		errs = append(errs, errors.New("logging.file.path is required when the file sink is enabled"))
	}

	if Secret(cfg.HTTP.JWTSecret) == "" {
		errs = append(errs, errors.New("http.jwt_secret is required"))
	}
	dur("http.read_timeout", cfg.HTTP.ReadTimeout, 0)
	dur("http.write_timeout", cfg.HTTP.WriteTimeout, 0)
	dur("http.idle_timeout", cfg.HTTP.IdleTimeout, 0)
	dur("http.request_timeout", cfg.HTTP.RequestTimeout, 0)

	d := cfg.Dispatcher
	if d.Workers < 0 || d.MaxConcurrency < 0 || d.QueueSize < 0 {
		errs = append(errs, errors.New("dispatcher: workers, max_concurrency and queue_size must be >= 0"))
	}
	maxSend := dur("dispatcher.default_timeout", d.DefaultTimeout, DefaultSendTimeout)
	logTimeout := dur("dispatcher.log_timeout", d.LogTimeout, DefaultLogTimeout)
	for ch, raw := range d.Timeouts {
		if _, ok := domain.ParseChannel(ch); !ok {
			errs = append(errs, fmt.Errorf("dispatcher.timeouts: unknown channel %q", ch))
			continue
		}
		maxSend = max(maxSend, dur("dispatcher.timeouts."+ch, raw, 0))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Store.Driver)) {
	case "", "memory":
	case "file", "sqlite":
		if strings.TrimSpace(cfg.Store.Path) == "" {
			errs = append(errs, fmt.Errorf("store.path is required for driver %q", cfg.Store.Driver))
		}
	case "postgres":
		if Secret(cfg.Store.DSN) == "" {
			errs = append(errs, errors.New("store.dsn is required for driver postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", cfg.Store.Driver))
	}
	dur("store.busy_timeout", cfg.Store.BusyTimeout, 0)

	if path := strings.TrimSpace(cfg.Directory.SeedPath); path != "" {
		if _, err := os.Stat(path); err != nil {
			errs = append(errs, fmt.Errorf("directory.seed_path: %w", err))
		}
	}

	if r := cfg.Feed.Redis; r != nil && r.Enabled {
		if Secret(r.URL) == "" || strings.TrimSpace(r.Stream) == "" || strings.TrimSpace(r.Group) == "" {
			errs = append(errs, errors.New("feed.redis: url, stream and group are required"))
		}
		dur("feed.redis.block", r.Block, 0)
	}
	if k := cfg.Feed.Kafka; k != nil && k.Enabled {
		if len(k.Brokers) == 0 || strings.TrimSpace(k.Topic) == "" || strings.TrimSpace(k.Group) == "" {
			errs = append(errs, errors.New("feed.kafka: brokers, topic and group are required"))
		}
	}

	dur("live.dedup_window", cfg.Live.DedupWindow, 0)
	dur("live.write_wait", cfg.Live.WriteWait, 0)
	dur("live.pong_wait", cfg.Live.PongWait, 0)

	// An attempt is pending for at most one send plus the append and the status update.
	ttl := dur("maintenance.pending_ttl", cfg.Maintenance.PendingTTL, DefaultPendingTTL)
	if inflight := maxSend + 2*logTimeout; cfg.Maintenance.Enabled && ttl <= inflight {
		errs = append(errs, fmt.Errorf("maintenance.pending_ttl: %s must exceed the longest send plus log writes (%s)", ttl, inflight))
	}
	if tz := strings.TrimSpace(cfg.Maintenance.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("maintenance.timezone: %w", err))
		}
	}

	if a := cfg.Alerts; a.Enabled && (Secret(a.Token) == "" || a.ChatID == 0) {
		errs = append(errs, errors.New("alerts: token and chat_id are required when enabled"))
	}
	if p := cfg.Pprof; p.MutexProfileFraction < 0 || p.BlockProfileRate < 0 {
		errs = append(errs, errors.New("pprof: profile rates must be >= 0"))
	}
	return errors.Join(errs...)
}
