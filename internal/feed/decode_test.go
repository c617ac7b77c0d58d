package feed

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"grievd/internal/domain"
)

func TestDecodeComplaintUpdate(t *testing.T) {
	t.Parallel()
	raw := `{
		"entity_type": "complaint",
		"operation": "update",
		"before": {"id": "C1", "title": "Broken fan", "status": "Pending", "student_id": "s1", "priority": "URGENT", "marked_urgent": true},
		"after":  {"id": "C1", "title": "Broken fan", "status": "Resolved", "admin_remarks": "Issue fixed", "student_id": "s1", "priority": "urgent", "marked_urgent": true, "contact_phone": "+1 555 123 4567", "created_at": "2024-01-01T00:00:00Z"}
	}`
	ev, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if ev.EntityID != "C1" || ev.Op != domain.OpUpdate || ev.ID == "" {
		t.Fatalf("unexpected envelope: %+v", ev)
	}
	_, after, ok := ev.ComplaintPair()
	if !ok || after == nil {
		t.Fatal("expected typed complaint snapshot")
	}
	if after.ContactPhone != "+15551234567" {
		t.Fatalf("phone = %q", after.ContactPhone)
	}
	if after.Priority != domain.PriorityUrgent || !after.IsUrgent {
		t.Fatalf("urgency not decoded: %+v", after)
	}
}

func TestDecodeInvalidPhoneTreatedAsAbsent(t *testing.T) {
	t.Parallel()
	raw := `{"entity_type":"profile","operation":"create","after":{"id":"s1","email":"a@b.c","phone":"not-a-number"}}`
	ev, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	p := ev.After.(domain.Profile)
	if p.Phone != "" {
		t.Fatalf("phone = %q, want empty", p.Phone)
	}
	if p.Role != domain.RoleStudent {
		t.Fatalf("role = %q, want student default", p.Role)
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
	}{
		{name: "unknown entity", raw: `{"entity_type":"invoice","operation":"create","after":{"id":"1"}}`},
		{name: "unknown op", raw: `{"entity_type":"complaint","operation":"upsert","after":{"id":"1","student_id":"s"}}`},
		{name: "update without before", raw: `{"entity_type":"complaint","operation":"update","after":{"id":"1","student_id":"s"}}`},
		{name: "create with null after", raw: `{"entity_type":"announcement","operation":"create","after":null}`},
		{name: "id mismatch", raw: `{"entity_type":"announcement","entity_id":"a1","operation":"create","after":{"id":"a2"}}`},
		{name: "missing owner", raw: `{"entity_type":"complaint","operation":"create","after":{"id":"1"}}`},
		{name: "bad priority", raw: `{"entity_type":"complaint","operation":"create","after":{"id":"1","student_id":"s","priority":"meh"}}`},
		{name: "bad role", raw: `{"entity_type":"profile","operation":"create","after":{"id":"1","role":"root"}}`},
		{name: "unknown envelope field", raw: `{"entity_type":"announcement","operation":"create","after":{"id":"a"},"extra":1}`},
		{name: "not json", raw: `nope`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("Decode error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestLoadSnapshotYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	body := `profiles:
  - {id: s1, email: ana@uni.edu, full_name: Ana, phone: "+1 555 123 4567"}
  - {id: s2, email: bo@uni.edu, role: admin}
  - {email: nobody@uni.edu}
complaints:
  - {id: C1, title: Leak, status: Pending, student_id: s1, priority: urgent}
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	evs, err := LoadSnapshot(path)
	if err == nil || !strings.Contains(err.Error(), "profile[2]") {
		t.Fatalf("expected the id-less profile to be reported, got %v", err)
	}
	if len(evs) != 3 {
		t.Fatalf("events = %d, want 3", len(evs))
	}
	p, ok := evs[0].After.(domain.Profile)
	if !ok || evs[0].Op != domain.OpCreate || p.Phone != "+15551234567" {
		t.Fatalf("first event = %+v", evs[0])
	}
	if c, ok := evs[2].After.(domain.Complaint); !ok || c.Priority != domain.PriorityUrgent {
		t.Fatalf("complaint event = %+v", evs[2])
	}
}

func TestLoadSnapshotRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "seed.json")
	if err := os.WriteFile(path, []byte(`{"users":[]}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if evs, err := LoadSnapshot(path); err == nil || evs != nil {
		t.Fatalf("LoadSnapshot = %v, %v", evs, err)
	}
}
