package config

import (
	"reflect"
	"sort"
	"strings"

	logx "grievd/pkg/logx"
)

// Sections applied without a restart.
var hotSections = map[string]bool{
	"logging":     true,
	"dispatcher":  true,
	"senders":     true,
	"maintenance": true,
	"pprof":       true,
}

// SummarizeConfigChange returns (1) the changed sections, (2) safe
// structured attrs for logging (never secrets) and (3) the changed sections
// that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 9)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Bool("http.jwt_secret_changed", oldCfg.HTTP.JWTSecret != newCfg.HTTP.JWTSecret),
		)
	}

	if !reflect.DeepEqual(oldCfg.Dispatcher, newCfg.Dispatcher) {
		changed = append(changed, "dispatcher")
		keys := make([]string, 0, len(newCfg.Dispatcher.Timeouts))
		for k := range newCfg.Dispatcher.Timeouts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		attrs = append(attrs,
			logx.Int("dispatcher.max_concurrency", newCfg.Dispatcher.MaxConcurrency),
			logx.String("dispatcher.default_timeout", newCfg.Dispatcher.DefaultTimeout),
			logx.Strings("dispatcher.timeout_channels", keys),
		)
	}

	if !reflect.DeepEqual(oldCfg.Senders, newCfg.Senders) {
		changed = append(changed, "senders")
		s := newCfg.Senders
		attrs = append(attrs,
			logx.Bool("senders.email_key_set", Secret(s.Email.APIKey) != ""),
			logx.String("senders.email_from", s.Email.From),
			logx.Bool("senders.twilio_set", Secret(s.Twilio.AccountSID) != "" && Secret(s.Twilio.AuthToken) != ""),
			logx.Int("senders.email_rate", s.Email.RatePerSec),
			logx.Int("senders.sms_rate", s.Twilio.RatePerSec),
		)
	}

	if !reflect.DeepEqual(oldCfg.Store, newCfg.Store) {
		changed = append(changed, "store")
		attrs = append(attrs, logx.String("store.driver", newCfg.Store.Driver))
	}
	if !reflect.DeepEqual(oldCfg.Feed, newCfg.Feed) {
		changed = append(changed, "feed")
	}
	if !reflect.DeepEqual(oldCfg.Directory, newCfg.Directory) {
		changed = append(changed, "directory")
	}
	if !reflect.DeepEqual(oldCfg.Live, newCfg.Live) {
		changed = append(changed, "live")
	}
	if !reflect.DeepEqual(oldCfg.Maintenance, newCfg.Maintenance) {
		changed = append(changed, "maintenance")
		attrs = append(attrs,
			logx.Bool("maintenance.enabled", newCfg.Maintenance.Enabled),
			logx.String("maintenance.schedule", newCfg.Maintenance.Schedule),
		)
	}
	if !reflect.DeepEqual(oldCfg.Alerts, newCfg.Alerts) {
		changed = append(changed, "alerts")
		attrs = append(attrs, logx.Bool("alerts.enabled", newCfg.Alerts.Enabled))
	}
	if !reflect.DeepEqual(oldCfg.Pprof, newCfg.Pprof) {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", newCfg.Pprof.Addr),
			logx.Bool("pprof.token_set", Secret(newCfg.Pprof.Token) != ""),
		)
	}

	var restart []string
	for _, s := range changed {
		if !hotSections[s] {
			restart = append(restart, s)
		}
	}
	return changed, attrs, restart
}
