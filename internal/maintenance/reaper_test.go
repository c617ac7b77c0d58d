package maintenance

import (
	"context"
	"testing"
	"time"

	"grievd/internal/domain"
	"grievd/internal/storage"
	logx "grievd/pkg/logx"
)

func seed(t *testing.T, st storage.Store, created time.Time, status domain.AttemptStatus) string {
	t.Helper()
	ctx := context.Background()
	id, err := st.Append(ctx, domain.Attempt{Channel: domain.ChannelEmail, Recipient: "a@example.edu", Body: "b", CreatedAt: created})
	if err != nil {
		t.Fatalf("Append error: %v", err)
	}
	if status != domain.AttemptPending {
		if err := st.UpdateStatus(ctx, id, status, "", nil); err != nil {
			t.Fatalf("UpdateStatus error: %v", err)
		}
	}
	return id
}

func TestSweepClosesOnlyStalePending(t *testing.T) {
	st := storage.NewMemory()
	defer st.Close()
	now := time.Now()
	stale := seed(t, st, now.Add(-time.Hour), domain.AttemptPending)
	fresh := seed(t, st, now.Add(-time.Minute), domain.AttemptPending)
	done := seed(t, st, now.Add(-time.Hour), domain.AttemptSent)

	r := NewReaper(Config{PendingTTL: 10 * time.Minute}, st, logx.Nop())
	var reported int
	r.OnRun(func(n int) { reported = n })

	n, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	if n != 1 || reported != 1 {
		t.Fatalf("closed = %d reported = %d, want 1", n, reported)
	}

	got, _ := st.Get(context.Background(), stale)
	if got.Status != domain.AttemptFailed || got.ErrorMessage != AbandonedReason {
		t.Fatalf("stale attempt = %+v", got)
	}
	if got, _ := st.Get(context.Background(), fresh); got.Status != domain.AttemptPending {
		t.Fatalf("fresh attempt status = %q", got.Status)
	}
	if got, _ := st.Get(context.Background(), done); got.Status != domain.AttemptSent {
		t.Fatalf("sent attempt status = %q", got.Status)
	}

	n, err = r.Sweep(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("second sweep = %d, %v", n, err)
	}
}

func TestScheduledSweep(t *testing.T) {
	st := storage.NewMemory()
	defer st.Close()
	seed(t, st, time.Now().Add(-time.Hour), domain.AttemptPending)

	r := NewReaper(Config{Enabled: true, Schedule: "* * * * * *", PendingTTL: time.Minute}, st, logx.Nop())
	runs := make(chan int, 8)
	r.OnRun(func(n int) { runs <- n })
	if err := r.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer r.Stop(context.Background())

	select {
	case n := <-runs:
		if n != 1 {
			t.Fatalf("first scheduled sweep closed %d", n)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no scheduled sweep")
	}
}

func TestStartDisabledIsNoop(t *testing.T) {
	r := NewReaper(Config{Enabled: false, Schedule: "not a schedule"}, storage.NewMemory(), logx.Nop())
	if err := r.Start(); err != nil {
		t.Fatalf("disabled Start error: %v", err)
	}
	r.Stop(context.Background())
}

func TestParseSchedule(t *testing.T) {
	for _, ok := range []string{"@every 30s", "*/5 * * * *", "0 */2 * * * *", "@hourly"} {
		if err := ParseSchedule(ok); err != nil {
			t.Fatalf("ParseSchedule(%q) error: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "every minute", "61 * * * *"} {
		if err := ParseSchedule(bad); err == nil {
			t.Fatalf("ParseSchedule(%q) accepted", bad)
		}
	}
}
