package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"grievd/internal/domain"
	"grievd/internal/identity"
	"grievd/internal/live"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "grievd.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// startApp runs an app from cfg and returns an admin-authenticated caller.
func startApp(t *testing.T, cfg string) func(method, path, body string) *http.Response {
	t.Helper()
	a, err := New(writeConfig(t, cfg))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopAppStop)
	})

	tok, err := identity.NewVerifier("test", "").Issue(live.Actor{ID: "a1", Role: domain.RoleAdmin}, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	base := "http://" + a.Addr()
	return func(method, path, body string) *http.Response {
		t.Helper()
		req, _ := http.NewRequest(method, base+path, strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+tok)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", method, path, err)
		}
		return resp
	}
}

func ingest(t *testing.T, call func(method, path, body string) *http.Response, change string) {
	t.Helper()
	resp := call(http.MethodPost, "/v1/changes", change)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("ingest status = %d", resp.StatusCode)
	}
}

func waitForAttempts(t *testing.T, call func(method, path, body string) *http.Response, query string, want int) []domain.Attempt {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp := call(http.MethodGet, "/v1/notifications?"+query, "")
		var out struct {
			Count int              `json:"count"`
			Items []domain.Attempt `json:"items"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if out.Count == want {
			return out.Items
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s: attempts = %d, want %d (%+v)", query, out.Count, want, out.Items)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func fakeResend(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"id":"em_1"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestAppDeliversIngestedChange(t *testing.T) {
	resend, emails := fakeResend(t)
	call := startApp(t, fmt.Sprintf(`{
		"logging": {"level": "error"},
		"http": {"addr": "127.0.0.1:0", "jwt_secret": "test"},
		"senders": {"email": {"api_key": "re_test", "from": "Portal <portal@example.edu>", "base_url": %q}},
		"store": {"driver": "memory"}
	}`, resend.URL))

	ingest(t, call, `{"entity_type":"complaint","operation":"update",
		"before":{"id":"C1","title":"Leak","status":"Pending","student_id":"s1"},
		"after":{"id":"C1","title":"Leak","status":"Resolved","student_id":"s1","contact_email":"ana@example.edu"}}`)

	waitForAttempts(t, call, "status=sent", 2)
	if emails.Load() != 1 {
		t.Fatalf("provider calls = %d, want 1", emails.Load())
	}
}

func TestAppUsesSeededDirectory(t *testing.T) {
	resend, emails := fakeResend(t)
	seed := filepath.Join(t.TempDir(), "directory.json")
	if err := os.WriteFile(seed, []byte(`{
		"profiles": [
			{"id": "s1", "email": "ana@example.edu", "full_name": "Ana", "phone": "+15551234567"},
			{"id": "s2", "email": "bo@example.edu"}
		],
		"complaints": [
			{"id": "C9", "title": "Gas smell", "status": "Pending", "student_id": "s1", "priority": "urgent"}
		]
	}`), 0o600); err != nil {
		t.Fatal(err)
	}
	call := startApp(t, fmt.Sprintf(`{
		"logging": {"level": "error"},
		"http": {"addr": "127.0.0.1:0", "jwt_secret": "test"},
		"senders": {"email": {"api_key": "re_test", "from": "Portal <portal@example.edu>", "base_url": %q}},
		"store": {"driver": "memory"},
		"directory": {"seed_path": %q}
	}`, resend.URL, seed))

	// No profile change has been seen since start.
	ingest(t, call, `{"entity_type":"announcement","operation":"create",
		"after":{"id":"A1","title":"Exams","message":"Timetable is out","is_active":true}}`)

	items := waitForAttempts(t, call, "channel=email&status=sent", 2)
	got := map[string]bool{}
	for _, it := range items {
		got[it.Recipient] = true
	}
	if !got["ana@example.edu"] || !got["bo@example.edu"] {
		t.Fatalf("email recipients = %v", got)
	}
	if emails.Load() != 2 {
		t.Fatalf("provider calls = %d, want 2", emails.Load())
	}

	// The seeded complaint is known; Twilio is not configured so the call fails.
	resp := call(http.MethodPost, "/v1/complaints/C9/escalate", "")
	var out domain.Outcome
	_ = json.NewDecoder(resp.Body).Decode(&out)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || out.Status != domain.AttemptFailed {
		t.Fatalf("escalate status = %d, outcome = %+v", resp.StatusCode, out)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, `{"http":{"jwt_secret":"x"},"maintenance":{"enabled":true,"schedule":"whenever"}}`)
	if _, err := New(path); err == nil || !strings.Contains(err.Error(), "maintenance.schedule") {
		t.Fatalf("New error = %v", err)
	}
}
