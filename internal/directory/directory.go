// Package directory keeps the read projection the pipeline needs about people
// and complaints: contact details per profile and the latest snapshot of each
// complaint. It is fed from change events.
package directory

import (
	"sort"
	"strings"
	"sync"

	"grievd/internal/domain"
)

// Contact is what the senders need to reach a student.
type Contact struct {
	Name  string
	Email string
	Phone string
}

type Directory struct {
	mu         sync.RWMutex
	profiles   map[string]domain.Profile
	complaints map[string]domain.Complaint
}

func New() *Directory {
	return &Directory{
		profiles:   map[string]domain.Profile{},
		complaints: map[string]domain.Complaint{},
	}
}

// Apply folds one change into the projection. Other entity types are ignored.
func (d *Directory) Apply(ev domain.ChangeEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch ev.Entity {
	case domain.EntityProfile:
		if ev.Op == domain.OpDelete {
			delete(d.profiles, ev.EntityID)
			return
		}
		if p, ok := ev.After.(domain.Profile); ok {
			d.profiles[p.ID] = p
		}
	case domain.EntityComplaint:
		if ev.Op == domain.OpDelete {
			delete(d.complaints, ev.EntityID)
			return
		}
		if c, ok := ev.After.(domain.Complaint); ok {
			d.complaints[c.ID] = c
		}
	}
}

// Seed loads profiles in bulk, e.g. from a startup export.
func (d *Directory) Seed(profiles []domain.Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range profiles {
		if p.ID != "" {
			d.profiles[p.ID] = p
		}
	}
}

func (d *Directory) Profile(id string) (domain.Profile, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.profiles[id]
	return p, ok
}

func (d *Directory) Complaint(id string) (domain.Complaint, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.complaints[id]
	return c, ok
}

// ComplaintOwner returns the student that filed the complaint, if known.
func (d *Directory) ComplaintOwner(complaintID string) (string, bool) {
	c, ok := d.Complaint(complaintID)
	if !ok || c.StudentID == "" {
		return "", false
	}
	return c.StudentID, true
}

// ContactFor resolves how to reach the complaint's owner. Values carried on
// the complaint itself win over the profile.
func (d *Directory) ContactFor(c domain.Complaint) Contact {
	out := Contact{Name: c.StudentName, Email: c.ContactEmail, Phone: c.ContactPhone}
	p, ok := d.Profile(c.StudentID)
	if !ok {
		return out
	}
	if out.Name == "" {
		out.Name = p.FullName
	}
	if out.Email == "" {
		out.Email = p.Email
	}
	if out.Phone == "" {
		out.Phone = p.Phone
	}
	return out
}

// Emails returns every known recipient address, de-duplicated and sorted.
func (d *Directory) Emails() []string {
	d.mu.RLock()
	seen := make(map[string]struct{}, len(d.profiles))
	out := make([]string, 0, len(d.profiles))
	for _, p := range d.profiles {
		e := strings.ToLower(strings.TrimSpace(p.Email))
		if e == "" {
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	d.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Len reports the number of profiles and complaints held.
func (d *Directory) Len() (profiles, complaints int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.profiles), len(d.complaints)
}
