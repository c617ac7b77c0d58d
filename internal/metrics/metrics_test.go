package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"grievd/internal/domain"
)

func TestDispatcherHooksCount(t *testing.T) {
	m := New()
	h := m.DispatcherHooks()
	h.Delivered(domain.ChannelSMS, domain.AttemptFailed, 120*time.Millisecond)
	h.Delivered(domain.ChannelSMS, domain.AttemptFailed, 80*time.Millisecond)
	h.LogFailed("append")

	if got := testutil.ToFloat64(m.Deliveries.WithLabelValues("sms", "failed")); got != 2 {
		t.Fatalf("deliveries = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.LogWriteFailures.WithLabelValues("append")); got != 1 {
		t.Fatalf("log failures = %v, want 1", got)
	}
}

func TestFeedDropLabelsCollapseLiveSessions(t *testing.T) {
	m := New()
	h := m.FeedHooks()
	h.Dropped("live:0b6c", domain.ChangeEvent{})
	h.Dropped("live:9f1a", domain.ChangeEvent{})
	h.Published(domain.ChangeEvent{Entity: domain.EntityComplaint, Op: domain.OpCreate})

	if got := testutil.ToFloat64(m.FeedDropped.WithLabelValues("live")); got != 2 {
		t.Fatalf("live drops = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.FeedEvents.WithLabelValues("complaint", "create")); got != 1 {
		t.Fatalf("feed events = %v, want 1", got)
	}
}

func TestLiveHooksTrackSessions(t *testing.T) {
	m := New()
	h := m.LiveHooks()
	h.Sessions(3)
	h.Dropped()
	if got := testutil.ToFloat64(m.LiveSessions); got != 3 {
		t.Fatalf("sessions = %v", got)
	}
	if got := testutil.ToFloat64(m.LiveDropped); got != 1 {
		t.Fatalf("dropped = %v", got)
	}
}

func TestReaperHookAccumulates(t *testing.T) {
	m := New()
	hook := m.ReaperHook()
	hook(2)
	hook(0)
	hook(3)
	if got := testutil.ToFloat64(m.Reaped); got != 5 {
		t.Fatalf("reaped = %v, want 5", got)
	}
}
