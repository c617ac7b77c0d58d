package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"grievd/internal/domain"
)

// RawChange is the wire form of a change, as emitted by the portal database
// hook (HTTP ingest, Redis stream entry or Kafka record value).
type RawChange struct {
	ID         string          `json:"id,omitempty"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id,omitempty"`
	Operation  string          `json:"operation"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	OccurredAt *time.Time      `json:"occurred_at,omitempty"`
}

// Decode parses and validates one raw change.
func Decode(b []byte) (domain.ChangeEvent, error) {
	var raw RawChange
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("%w: decode change: %v", domain.ErrValidation, err)
	}
	return raw.Event()
}

// Event validates the raw change and converts it to a typed ChangeEvent.
func (r RawChange) Event() (domain.ChangeEvent, error) {
	ev := domain.ChangeEvent{
		ID:       strings.TrimSpace(r.ID),
		Entity:   domain.EntityType(strings.ToLower(strings.TrimSpace(r.EntityType))),
		EntityID: strings.TrimSpace(r.EntityID),
		Op:       domain.Operation(strings.ToLower(strings.TrimSpace(r.Operation))),
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if r.OccurredAt != nil {
		ev.OccurredAt = *r.OccurredAt
	}

	switch ev.Entity {
	case domain.EntityComplaint, domain.EntityAnnouncement, domain.EntityProfile, domain.EntityActivity:
	default:
		return domain.ChangeEvent{}, fmt.Errorf("%w: unknown entity_type %q", domain.ErrValidation, r.EntityType)
	}

	hasBefore, hasAfter := present(r.Before), present(r.After)
	switch ev.Op {
	case domain.OpCreate:
		if !hasAfter {
			return domain.ChangeEvent{}, fmt.Errorf("%w: create requires after", domain.ErrValidation)
		}
	case domain.OpUpdate:
		if !hasBefore || !hasAfter {
			return domain.ChangeEvent{}, fmt.Errorf("%w: update requires before and after", domain.ErrValidation)
		}
	case domain.OpDelete:
		if !hasBefore {
			return domain.ChangeEvent{}, fmt.Errorf("%w: delete requires before", domain.ErrValidation)
		}
	default:
		return domain.ChangeEvent{}, fmt.Errorf("%w: unknown operation %q", domain.ErrValidation, r.Operation)
	}

	var err error
	if hasBefore {
		if ev.Before, err = decodeSnapshot(ev.Entity, r.Before); err != nil {
			return domain.ChangeEvent{}, fmt.Errorf("before: %w", err)
		}
	}
	if hasAfter {
		if ev.After, err = decodeSnapshot(ev.Entity, r.After); err != nil {
			return domain.ChangeEvent{}, fmt.Errorf("after: %w", err)
		}
	}

	for _, s := range []domain.Snapshot{ev.Before, ev.After} {
		if s == nil {
			continue
		}
		if ev.EntityID == "" {
			ev.EntityID = s.Key()
		}
		if s.Key() != ev.EntityID {
			return domain.ChangeEvent{}, fmt.Errorf("%w: snapshot id %q does not match entity_id %q", domain.ErrValidation, s.Key(), ev.EntityID)
		}
	}
	return ev, nil
}

func present(b json.RawMessage) bool {
	s := bytes.TrimSpace(b)
	return len(s) > 0 && !bytes.Equal(s, []byte("null"))
}

func decodeSnapshot(et domain.EntityType, b json.RawMessage) (domain.Snapshot, error) {
	switch et {
	case domain.EntityComplaint:
		var c domain.Complaint
		if err := json.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("%w: complaint: %v", domain.ErrValidation, err)
		}
		return normalizeComplaint(c)
	case domain.EntityAnnouncement:
		var a domain.Announcement
		if err := json.Unmarshal(b, &a); err != nil {
			return nil, fmt.Errorf("%w: announcement: %v", domain.ErrValidation, err)
		}
		if strings.TrimSpace(a.ID) == "" {
			return nil, fmt.Errorf("%w: announcement id is required", domain.ErrValidation)
		}
		return a, nil
	case domain.EntityProfile:
		var p domain.Profile
		if err := json.Unmarshal(b, &p); err != nil {
			return nil, fmt.Errorf("%w: profile: %v", domain.ErrValidation, err)
		}
		return normalizeProfile(p)
	case domain.EntityActivity:
		var a domain.Activity
		if err := json.Unmarshal(b, &a); err != nil {
			return nil, fmt.Errorf("%w: activity: %v", domain.ErrValidation, err)
		}
		if strings.TrimSpace(a.ID) == "" || strings.TrimSpace(a.ComplaintID) == "" {
			return nil, fmt.Errorf("%w: activity requires id and complaint_id", domain.ErrValidation)
		}
		return a, nil
	}
	return nil, fmt.Errorf("%w: unknown entity %q", domain.ErrValidation, et)
}

func normalizeComplaint(c domain.Complaint) (domain.Complaint, error) {
	if strings.TrimSpace(c.ID) == "" {
		return c, fmt.Errorf("%w: complaint id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(c.StudentID) == "" {
		return c, fmt.Errorf("%w: complaint student_id is required", domain.ErrValidation)
	}
	c.Priority = domain.Priority(strings.ToLower(strings.TrimSpace(string(c.Priority))))
	switch c.Priority {
	case "", domain.PriorityLow, domain.PriorityMedium, domain.PriorityHigh, domain.PriorityUrgent:
	default:
		return c, fmt.Errorf("%w: unknown priority %q", domain.ErrValidation, c.Priority)
	}
	// An unusable number is the same as no number.
	c.ContactPhone = domain.NormalizePhone(c.ContactPhone)
	c.ContactEmail = strings.TrimSpace(c.ContactEmail)
	return c, nil
}

func normalizeProfile(p domain.Profile) (domain.Profile, error) {
	if strings.TrimSpace(p.ID) == "" {
		return p, fmt.Errorf("%w: profile id is required", domain.ErrValidation)
	}
	p.Role = domain.Role(strings.ToLower(strings.TrimSpace(string(p.Role))))
	if p.Role == "" {
		p.Role = domain.RoleStudent
	}
	if !p.Role.Valid() {
		return p, fmt.Errorf("%w: unknown role %q", domain.ErrValidation, p.Role)
	}
	p.Phone = domain.NormalizePhone(p.Phone)
	p.Email = strings.TrimSpace(p.Email)
	return p, nil
}
