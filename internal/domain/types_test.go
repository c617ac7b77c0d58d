package domain

import (
	"testing"
	"time"
)

func TestNormalizePhone(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "+15551234567", want: "+15551234567"},
		{raw: "+1 (555) 123-4567", want: "+15551234567"},
		{raw: "15551234567", want: "15551234567"},
		{raw: "", want: ""},
		{raw: "+0123", want: ""},
		{raw: "call me", want: ""},
		{raw: "+1234567890123456", want: ""},
	}
	for _, tt := range tests {
		if got := NormalizePhone(tt.raw); got != tt.want {
			t.Fatalf("NormalizePhone(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestAnnouncementLive(t *testing.T) {
	t.Parallel()
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	if (Announcement{IsActive: false}).Live(now) {
		t.Fatal("inactive announcement reported live")
	}
	if !(Announcement{IsActive: true}).Live(now) {
		t.Fatal("active announcement without expiry reported not live")
	}
	if (Announcement{IsActive: true, ExpiresAt: &past}).Live(now) {
		t.Fatal("expired announcement reported live")
	}
	if !(Announcement{IsActive: true, ExpiresAt: &future}).Live(now) {
		t.Fatal("unexpired announcement reported not live")
	}
}

func TestPushRole(t *testing.T) {
	t.Parallel()
	r, ok := PushRole(PushToRole(RoleAdmin))
	if !ok || r != RoleAdmin {
		t.Fatalf("PushRole = %q, %v", r, ok)
	}
	if _, ok := PushRole("user-1"); ok {
		t.Fatal("plain user id parsed as role")
	}
}

func TestComplaintPair(t *testing.T) {
	t.Parallel()
	ev := ChangeEvent{
		Entity: EntityComplaint,
		Op:     OpUpdate,
		Before: Complaint{ID: "c1", Status: StatusPending},
		After:  Complaint{ID: "c1", Status: StatusResolved},
	}
	before, after, ok := ev.ComplaintPair()
	if !ok || before == nil || after == nil {
		t.Fatalf("ComplaintPair() = %v, %v, %v", before, after, ok)
	}
	if before.Status != StatusPending || after.Status != StatusResolved {
		t.Fatalf("unexpected statuses %q -> %q", before.Status, after.Status)
	}

	if _, _, ok := (ChangeEvent{Entity: EntityAnnouncement}).ComplaintPair(); ok {
		t.Fatal("announcement event yielded complaint pair")
	}
}
