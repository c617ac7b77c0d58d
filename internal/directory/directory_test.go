package directory

import (
	"reflect"
	"testing"

	"grievd/internal/domain"
)

func TestApplyProfilesAndComplaints(t *testing.T) {
	t.Parallel()
	d := New()
	d.Apply(domain.ChangeEvent{Entity: domain.EntityProfile, EntityID: "s1", Op: domain.OpCreate,
		After: domain.Profile{ID: "s1", Email: "Ana@Uni.edu", FullName: "Ana", Phone: "+15551234567", Role: domain.RoleStudent}})
	d.Apply(domain.ChangeEvent{Entity: domain.EntityProfile, EntityID: "s2", Op: domain.OpCreate,
		After: domain.Profile{ID: "s2", Email: "ana@uni.edu", Role: domain.RoleStudent}})
	d.Apply(domain.ChangeEvent{Entity: domain.EntityProfile, EntityID: "s3", Op: domain.OpCreate,
		After: domain.Profile{ID: "s3", Email: "bo@uni.edu", Role: domain.RoleAdmin}})
	d.Apply(domain.ChangeEvent{Entity: domain.EntityComplaint, EntityID: "c1", Op: domain.OpCreate,
		After: domain.Complaint{ID: "c1", StudentID: "s1"}})

	if got, want := d.Emails(), []string{"ana@uni.edu", "bo@uni.edu"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Emails() = %v, want %v", got, want)
	}
	if owner, ok := d.ComplaintOwner("c1"); !ok || owner != "s1" {
		t.Fatalf("ComplaintOwner = %q, %v", owner, ok)
	}

	d.Apply(domain.ChangeEvent{Entity: domain.EntityProfile, EntityID: "s3", Op: domain.OpDelete,
		Before: domain.Profile{ID: "s3"}})
	if p, c := d.Len(); p != 2 || c != 1 {
		t.Fatalf("Len() = %d, %d", p, c)
	}
}

func TestContactForPrefersComplaintFields(t *testing.T) {
	t.Parallel()
	d := New()
	d.Seed([]domain.Profile{{ID: "s1", Email: "profile@uni.edu", FullName: "Ana", Phone: "+15550000000"}})

	got := d.ContactFor(domain.Complaint{ID: "c1", StudentID: "s1", ContactPhone: "+15551234567"})
	want := Contact{Name: "Ana", Email: "profile@uni.edu", Phone: "+15551234567"}
	if got != want {
		t.Fatalf("ContactFor() = %+v, want %+v", got, want)
	}

	if got := d.ContactFor(domain.Complaint{ID: "c2", StudentID: "unknown"}); got != (Contact{}) {
		t.Fatalf("unknown student contact = %+v", got)
	}
}
