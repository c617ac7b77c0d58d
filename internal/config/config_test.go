package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalJSON = `{"http":{"jwt_secret":"s"},"store":{"driver":"memory"}}`

func TestDecodeFormats(t *testing.T) {
	yamlSrc := `
http:
  jwt_secret: s
  addr: ":9000"
dispatcher:
  max_concurrency: 3
  timeouts:
    sms: 5s
store:
  driver: sqlite
  path: ./x.db
`
	tomlSrc := `
[http]
jwt_secret = "s"
addr = ":9000"

[dispatcher]
max_concurrency = 3
[dispatcher.timeouts]
sms = "5s"

[store]
driver = "sqlite"
path = "./x.db"
`
	for name, tc := range map[string]struct{ path, src string }{
		"yaml": {"grievd.yaml", yamlSrc},
		"toml": {"grievd.toml", tomlSrc},
	} {
		cfg, err := Decode(tc.path, []byte(tc.src))
		if err != nil {
			t.Fatalf("%s: Decode error: %v", name, err)
		}
		if cfg.HTTP.Addr != ":9000" || cfg.Dispatcher.MaxConcurrency != 3 || cfg.Dispatcher.Timeouts["sms"] != "5s" || cfg.Store.Driver != "sqlite" {
			t.Fatalf("%s: cfg = %+v", name, cfg)
		}
		if err := Validate(cfg); err != nil {
			t.Fatalf("%s: Validate error: %v", name, err)
		}
	}
}

func TestDecodeIsStrict(t *testing.T) {
	if _, err := Decode("c.json", []byte(`{"http":{"jwt_secret":"s","port":1}}`)); err == nil {
		t.Fatal("unknown field accepted")
	}
	if _, err := Decode("c.yaml", []byte("store:\n  drvier: file\n")); err == nil {
		t.Fatal("unknown yaml field accepted")
	}
	if _, err := Decode("c.json", []byte(minimalJSON+minimalJSON)); err == nil {
		t.Fatal("trailing data accepted")
	}
}

func TestSecretFromEnv(t *testing.T) {
	t.Setenv("GRIEVD_TEST_KEY", " re_123 ")
	if got := Secret("env:GRIEVD_TEST_KEY"); got != "re_123" {
		t.Fatalf("Secret = %q", got)
	}
	if got := Secret("env:GRIEVD_UNSET_KEY"); got != "" {
		t.Fatalf("unset Secret = %q", got)
	}
	if got := Secret(" literal "); got != "literal" {
		t.Fatalf("literal Secret = %q", got)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := &Config{
		Logging:    LoggingConfig{Level: "loud"},
		Dispatcher: DispatcherConfig{DefaultTimeout: "soon", Timeouts: map[string]string{"fax": "1s"}},
		Store:      StoreConfig{Driver: "postgres"},
		Alerts:     AlertsConfig{Enabled: true},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"logging.level", "jwt_secret", "dispatcher.default_timeout", `unknown channel "fax"`, "store.dsn", "alerts"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %q", err, want)
		}
	}
}

func TestPendingTTLMustOutlastInflightSends(t *testing.T) {
	base := func(ttl string) *Config {
		return &Config{
			HTTP: HTTPConfig{JWTSecret: "x"},
			Dispatcher: DispatcherConfig{
				DefaultTimeout: "10s",
				LogTimeout:     "5s",
				Timeouts:       map[string]string{"call": "40s"},
			},
			Maintenance: MaintenanceConfig{Enabled: true, PendingTTL: ttl},
		}
	}
	// call 40s + 2 * log 5s
	for _, ttl := range []string{"30s", "50s"} {
		if err := Validate(base(ttl)); err == nil || !strings.Contains(err.Error(), "maintenance.pending_ttl") {
			t.Fatalf("ttl %s: err = %v", ttl, err)
		}
	}
	if err := Validate(base("51s")); err != nil {
		t.Fatalf("ttl 51s: %v", err)
	}
	if err := Validate(base("")); err != nil {
		t.Fatalf("default ttl: %v", err)
	}

	off := base("1s")
	off.Maintenance.Enabled = false
	if err := Validate(off); err != nil {
		t.Fatalf("disabled reaper: %v", err)
	}
}

func TestDuration(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
		ok   bool
	}{
		{"", 3 * time.Second, true},
		{"0s", 3 * time.Second, true},
		{" 250ms ", 250 * time.Millisecond, true},
		{"-1s", 0, false},
		{"soon", 0, false},
	}
	for _, c := range cases {
		got, err := Duration("x", c.raw, 3*time.Second)
		if (err == nil) != c.ok || got != c.want {
			t.Fatalf("Duration(%q) = %v, %v", c.raw, got, err)
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	old := &Config{HTTP: HTTPConfig{JWTSecret: "a"}, Senders: SendersConfig{Email: EmailConfig{APIKey: "k1", RatePerSec: 2}}}
	nw := &Config{HTTP: HTTPConfig{JWTSecret: "b"}, Senders: SendersConfig{Email: EmailConfig{APIKey: "k2", RatePerSec: 5}}}

	changed, attrs, restart := SummarizeConfigChange(old, nw)
	if strings.Join(changed, ",") != "http,senders" {
		t.Fatalf("changed = %v", changed)
	}
	if strings.Join(restart, ",") != "http" {
		t.Fatalf("restart = %v", restart)
	}
	if len(attrs) == 0 {
		t.Fatal("no attrs")
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grievd.json")
	if err := os.WriteFile(path, []byte(minimalJSON), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewConfigManager(path)
	m.debounce = 20 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	updates := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)

	// Invalid reloads are rejected and the last good config stays.
	if err := os.WriteFile(path, []byte(`{"http":{}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(150 * time.Millisecond)
	if m.Get().HTTP.JWTSecret != "s" {
		t.Fatalf("invalid config committed: %+v", m.Get().HTTP)
	}

	if err := os.WriteFile(path, []byte(`{"http":{"jwt_secret":"s2"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(3 * time.Second)
	for {
		select {
		case cfg := <-updates:
			if cfg.HTTP.JWTSecret == "s2" {
				return
			}
		case <-deadline:
			t.Fatal("no config update published")
		}
	}
}
