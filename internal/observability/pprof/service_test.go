package pprof

import (
	"context"
	"net/http"
	"testing"

	logx "grievd/pkg/logx"
)

func get(t *testing.T, url string) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestReconfigureLifecycle(t *testing.T) {
	s := New(Config{}, logx.Nop())
	ctx := context.Background()
	t.Cleanup(func() { s.Stop(ctx) })

	if err := s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", Token: "t0k"}); err != nil {
		t.Fatalf("Reconfigure error: %v", err)
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatal("expected a bound address")
	}
	if code := get(t, "http://"+addr+"/debug/pprof/"); code != http.StatusUnauthorized {
		t.Fatalf("without token status = %d", code)
	}
	if code := get(t, "http://"+addr+"/debug/pprof/?token=t0k"); code != http.StatusOK {
		t.Fatalf("with token status = %d", code)
	}

	if err := s.Reconfigure(ctx, Config{Enabled: false}); err != nil {
		t.Fatalf("disable error: %v", err)
	}
	if s.Addr() != "" {
		t.Fatal("listener still bound after disable")
	}
}

func TestRefusesPublicBindWithoutToken(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		s.Stop(context.Background())
		t.Fatal("expected refusal")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:1":    true,
		"[::1]:6060":     true,
		":6060":          false,
		"10.0.0.5:6060":  false,
		"garbage":        false,
	}
	for in, want := range cases {
		if got := isLoopbackAddr(in); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", in, got, want)
		}
	}
}
