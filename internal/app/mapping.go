package app

import (
	"fmt"
	"strings"
	"time"

	"grievd/internal/config"
	"grievd/internal/domain"
	"grievd/internal/feed/source"
	"grievd/internal/live"
	"grievd/internal/maintenance"
	"grievd/internal/notifier"
	"grievd/internal/observability/pprof"
	"grievd/internal/sender"
	"grievd/internal/storage"
	"grievd/internal/transport/telegram"
	"grievd/internal/transport/ws"
	logx "grievd/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alert: logx.AlertConfig{
			Enabled:    cfg.Alerts.Enabled,
			MinLevel:   cfg.Alerts.MinLevel,
			RatePerSec: cfg.Alerts.RatePerSec,
		},
	}
}

func mapAlertConfig(cfg *config.Config) (telegram.Config, bool) {
	a := cfg.Alerts
	if !a.Enabled {
		return telegram.Config{}, false
	}
	return telegram.Config{
		Token:    config.Secret(a.Token),
		ChatID:   a.ChatID,
		ThreadID: a.ThreadID,
	}, true
}

func mapPprofConfig(cfg *config.Config) pprof.Config {
	p := cfg.Pprof
	return pprof.Config{
		Enabled:              p.Enabled,
		Addr:                 p.Addr,
		Token:                config.Secret(p.Token),
		AllowInsecure:        p.AllowInsecure,
		MutexProfileFraction: p.MutexProfileFraction,
		BlockProfileRate:     p.BlockProfileRate,
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Store
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "memory":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		busy, err := config.Duration("store.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "postgres", "postgresql":
		return storage.Config{Driver: "postgres", DSN: config.Secret(sc.DSN), MaxConns: sc.MaxConns}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown store.driver: %s", sc.Driver)
	}
}

func mapDispatcherConfig(cfg *config.Config) (notifier.Config, error) {
	d := cfg.Dispatcher
	def, err := config.Duration("dispatcher.default_timeout", d.DefaultTimeout, config.DefaultSendTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	logTimeout, err := config.Duration("dispatcher.log_timeout", d.LogTimeout, config.DefaultLogTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	out := notifier.Config{
		Workers:        d.Workers,
		MaxConcurrency: d.MaxConcurrency,
		QueueSize:      d.QueueSize,
		DefaultTimeout: def,
		LogTimeout:     logTimeout,
	}
	for raw, v := range d.Timeouts {
		ch, ok := domain.ParseChannel(raw)
		if !ok {
			return notifier.Config{}, fmt.Errorf("dispatcher.timeouts: unknown channel %q", raw)
		}
		t, err := config.Duration("dispatcher.timeouts."+raw, v, 0)
		if err != nil {
			return notifier.Config{}, err
		}
		if t > 0 {
			if out.Timeouts == nil {
				out.Timeouts = map[domain.Channel]time.Duration{}
			}
			out.Timeouts[ch] = t
		}
	}
	return out, nil
}

// buildSenders maps the senders section. Missing credentials yield a
// disabled sender for that channel only.
func buildSenders(cfg *config.Config, push sender.Pusher) []sender.Sender {
	s := cfg.Senders
	tw := sender.TwilioConfig{
		AccountSID: config.Secret(s.Twilio.AccountSID),
		AuthToken:  config.Secret(s.Twilio.AuthToken),
		From:       s.Twilio.From,
		BaseURL:    s.Twilio.BaseURL,
	}
	callRate := s.Twilio.CallRatePerSec
	if callRate == 0 {
		callRate = s.Twilio.RatePerSec
	}
	return []sender.Sender{
		limit(sender.NewPush(push), s.Push.RatePerSec),
		limit(sender.NewEmail(sender.EmailConfig{
			APIKey:  config.Secret(s.Email.APIKey),
			From:    s.Email.From,
			BaseURL: s.Email.BaseURL,
		}), s.Email.RatePerSec),
		limit(sender.NewSMS(tw), s.Twilio.RatePerSec),
		limit(sender.NewCall(tw), callRate),
	}
}

func limit(snd sender.Sender, perSec int) sender.Sender {
	if sender.IsDisabled(snd) || perSec <= 0 {
		return snd
	}
	return sender.WithRateLimit(snd, perSec)
}

func mapLiveConfig(cfg *config.Config) (live.Config, ws.Config, error) {
	l := cfg.Live
	dedup, err := config.Duration("live.dedup_window", l.DedupWindow, 30*time.Second)
	if err != nil {
		return live.Config{}, ws.Config{}, err
	}
	writeWait, err := config.Duration("live.write_wait", l.WriteWait, 0)
	if err != nil {
		return live.Config{}, ws.Config{}, err
	}
	pongWait, err := config.Duration("live.pong_wait", l.PongWait, 0)
	if err != nil {
		return live.Config{}, ws.Config{}, err
	}
	return live.Config{Buffer: l.Buffer, DedupWindow: dedup},
		ws.Config{
			WriteWait:      writeWait,
			PongWait:       pongWait,
			SendBuffer:     l.SendBuffer,
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
		}, nil
}

func mapMaintenanceConfig(cfg *config.Config) (maintenance.Config, error) {
	m := cfg.Maintenance
	ttl, err := config.Duration("maintenance.pending_ttl", m.PendingTTL, config.DefaultPendingTTL)
	if err != nil {
		return maintenance.Config{}, err
	}
	if strings.TrimSpace(m.Schedule) != "" {
		if err := maintenance.ParseSchedule(m.Schedule); err != nil {
			return maintenance.Config{}, fmt.Errorf("maintenance.schedule: %w", err)
		}
	}
	return maintenance.Config{
		Enabled:    m.Enabled,
		Schedule:   m.Schedule,
		PendingTTL: ttl,
		Timezone:   m.Timezone,
	}, nil
}

func mapRedisSource(cfg *config.Config) (source.RedisConfig, bool, error) {
	r := cfg.Feed.Redis
	if r == nil || !r.Enabled {
		return source.RedisConfig{}, false, nil
	}
	block, err := config.Duration("feed.redis.block", r.Block, 0)
	if err != nil {
		return source.RedisConfig{}, false, err
	}
	return source.RedisConfig{
		URL:      config.Secret(r.URL),
		Stream:   r.Stream,
		Group:    r.Group,
		Consumer: r.Consumer,
		Block:    block,
		Count:    r.Count,
	}, true, nil
}

func mapKafkaSource(cfg *config.Config) (source.KafkaConfig, bool) {
	k := cfg.Feed.Kafka
	if k == nil || !k.Enabled {
		return source.KafkaConfig{}, false
	}
	return source.KafkaConfig{Brokers: k.Brokers, Topic: k.Topic, Group: k.Group}, true
}

type httpTimeouts struct {
	read, write, idle, request time.Duration
}

func mapHTTPTimeouts(cfg *config.Config) (httpTimeouts, error) {
	var (
		t   httpTimeouts
		err error
	)
	h := cfg.HTTP
	if t.read, err = config.Duration("http.read_timeout", h.ReadTimeout, 15*time.Second); err != nil {
		return t, err
	}
	// Zero write timeout: websocket connections are long-lived.
	if t.write, err = config.Duration("http.write_timeout", h.WriteTimeout, 0); err != nil {
		return t, err
	}
	if t.idle, err = config.Duration("http.idle_timeout", h.IdleTimeout, 60*time.Second); err != nil {
		return t, err
	}
	if t.request, err = config.Duration("http.request_timeout", h.RequestTimeout, 30*time.Second); err != nil {
		return t, err
	}
	return t, nil
}

// validate runs every mapping so a reload that would fail to apply is
// rejected before it is committed.
func validate(cfg *config.Config) error {
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDispatcherConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapLiveConfig(cfg); err != nil {
		return err
	}
	if _, err := mapMaintenanceConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapRedisSource(cfg); err != nil {
		return err
	}
	_, err := mapHTTPTimeouts(cfg)
	return err
}

// OpenStore opens the configured notification log for offline inspection.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if sc.Driver == "memory" {
		return nil, fmt.Errorf("store.driver %q is process-local; nothing to inspect", sc.Driver)
	}
	return storage.Open(sc, log)
}

// Validate checks cfg the same way a reload is checked.
func Validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	return validate(cfg)
}
