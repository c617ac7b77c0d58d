package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"grievd/internal/domain"
	logx "grievd/pkg/logx"
)

func complaintUpdate(id, owner, from, to string) domain.ChangeEvent {
	return domain.ChangeEvent{
		Entity:   domain.EntityComplaint,
		EntityID: id,
		Op:       domain.OpUpdate,
		Before:   domain.Complaint{ID: id, StudentID: owner, Status: from},
		After:    domain.Complaint{ID: id, StudentID: owner, Status: to},
	}
}

func TestHubFilterByOwnerAndEntity(t *testing.T) {
	t.Parallel()
	h := NewHub(logx.Nop(), Hooks{})
	mine := h.Subscribe("mine", Filter{Entities: []domain.EntityType{domain.EntityComplaint}, OwnerID: "s1"}, SubscribeOptions{Buffer: 4})
	defer mine.Close()

	h.Publish(context.Background(), complaintUpdate("c1", "s2", domain.StatusPending, domain.StatusResolved))
	h.Publish(context.Background(), domain.ChangeEvent{Entity: domain.EntityAnnouncement, After: domain.Announcement{ID: "a1", IsActive: true}})
	h.Publish(context.Background(), complaintUpdate("c2", "s1", domain.StatusPending, domain.StatusInReview))

	select {
	case ev := <-mine.C():
		if ev.EntityID != "c2" {
			t.Fatalf("got event for %q, want c2", ev.EntityID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected matching event")
	}
	if n := len(mine.C()); n != 0 {
		t.Fatalf("buffered = %d, want 0", n)
	}
}

func TestHubActiveOnly(t *testing.T) {
	t.Parallel()
	h := NewHub(logx.Nop(), Hooks{})
	sub := h.Subscribe("ann", Filter{ActiveOnly: true}, SubscribeOptions{Buffer: 4})
	defer sub.Close()

	h.Publish(context.Background(), domain.ChangeEvent{Entity: domain.EntityAnnouncement, Op: domain.OpCreate, After: domain.Announcement{ID: "a1", IsActive: false}})
	h.Publish(context.Background(), domain.ChangeEvent{Entity: domain.EntityAnnouncement, Op: domain.OpCreate, After: domain.Announcement{ID: "a2", IsActive: true}})

	ev := <-sub.C()
	if ev.After.Key() != "a2" {
		t.Fatalf("got %q, want a2", ev.After.Key())
	}
}

func TestHubPreservesOrder(t *testing.T) {
	t.Parallel()
	h := NewHub(logx.Nop(), Hooks{})
	sub := h.Subscribe("policy", Filter{}, SubscribeOptions{Buffer: 1, Overflow: Block})
	defer sub.Close()

	const n = 50
	go func() {
		for i := 0; i < n; i++ {
			ev := complaintUpdate("c1", "s1", domain.StatusPending, domain.StatusInReview)
			ev.ID = string(rune('A' + i))
			h.Publish(context.Background(), ev)
		}
	}()
	for i := 0; i < n; i++ {
		select {
		case ev := <-sub.C():
			if want := string(rune('A' + i)); ev.ID != want {
				t.Fatalf("event %d = %q, want %q", i, ev.ID, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out at event %d", i)
		}
	}
}

func TestHubDropPolicyDoesNotStall(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	drops := 0
	h := NewHub(logx.Nop(), Hooks{Dropped: func(string, domain.ChangeEvent) {
		mu.Lock()
		drops++
		mu.Unlock()
	}})
	slow := h.Subscribe("slow", Filter{}, SubscribeOptions{Buffer: 1, Overflow: Drop})
	defer slow.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			h.Publish(context.Background(), complaintUpdate("c1", "s1", "a", "b"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish stalled on a dropping subscriber")
	}
	if slow.Dropped() != 4 {
		t.Fatalf("dropped = %d, want 4", slow.Dropped())
	}
	mu.Lock()
	defer mu.Unlock()
	if drops != 4 {
		t.Fatalf("drop hook calls = %d, want 4", drops)
	}
}

func TestCloseUnblocksPublisherAndIsIdempotent(t *testing.T) {
	t.Parallel()
	h := NewHub(logx.Nop(), Hooks{})
	sub := h.Subscribe("blocked", Filter{}, SubscribeOptions{Buffer: 1, Overflow: Block})

	h.Publish(context.Background(), complaintUpdate("c1", "s1", "a", "b"))
	published := make(chan int)
	go func() {
		published <- h.Publish(context.Background(), complaintUpdate("c1", "s1", "b", "c"))
	}()

	time.Sleep(20 * time.Millisecond)
	sub.Close()
	sub.Close()

	select {
	case n := <-published:
		if n != 0 {
			t.Fatalf("delivered = %d after close, want 0", n)
		}
	case <-time.After(time.Second):
		t.Fatal("publisher still blocked after Close")
	}
	if _, ok := <-sub.C(); ok {
		t.Fatal("channel still open after Close")
	}
	if h.Subscribers() != 0 {
		t.Fatalf("subscribers = %d, want 0", h.Subscribers())
	}
	if n := h.Publish(context.Background(), complaintUpdate("c1", "s1", "c", "d")); n != 0 {
		t.Fatalf("delivered = %d to released subscription", n)
	}
}

func TestBlockingPublishHonoursContext(t *testing.T) {
	t.Parallel()
	h := NewHub(logx.Nop(), Hooks{})
	sub := h.Subscribe("full", Filter{}, SubscribeOptions{Buffer: 1, Overflow: Block})
	defer sub.Close()
	h.Publish(context.Background(), complaintUpdate("c1", "s1", "a", "b"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if n := h.Publish(ctx, complaintUpdate("c1", "s1", "b", "c")); n != 0 {
		t.Fatalf("delivered = %d, want 0", n)
	}
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		t.Fatalf("ctx err = %v", ctx.Err())
	}
}
