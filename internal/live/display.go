package live

import (
	"fmt"
	"strings"
	"time"

	"grievd/internal/domain"
	"grievd/internal/policy"
)

// Frame types sent to clients. Toasts come from raw changes and are never
// logged; notifications come from the push channel and have an attempt id.
const (
	FrameToast        = "toast"
	FrameNotification = "notification"
	FrameRefresh      = "refresh"
)

// Notification is one client-facing frame.
type Notification struct {
	Type        string            `json:"type"`
	ID          string            `json:"id,omitempty"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	DurationMS  int64             `json:"duration_ms,omitempty"`
	Entity      domain.EntityType `json:"entity,omitempty"`
	EntityID    string            `json:"entity_id,omitempty"`
	At          time.Time         `json:"at"`
}

// Owners answers which student owns a complaint.
type Owners interface {
	ComplaintOwner(complaintID string) (string, bool)
}

const (
	announcementToast = 6 * time.Second
	newComplaintToast = 5 * time.Second
)

// Display converts a change into the frames one actor should see. It is the
// ephemeral counterpart of the policy rules and records nothing.
func Display(actor Actor, ev domain.ChangeEvent, owners Owners) []Notification {
	at := ev.OccurredAt
	switch ev.Entity {
	case domain.EntityAnnouncement:
		a, ok := ev.AnnouncementAfter()
		if ev.Op != domain.OpCreate || !ok || !a.IsActive {
			return nil
		}
		return []Notification{{
			Type:        FrameToast,
			Title:       "📢 " + a.Title,
			Description: a.Message,
			DurationMS:  announcementToast.Milliseconds(),
			Entity:      domain.EntityAnnouncement,
			EntityID:    a.ID,
			At:          at,
		}}

	case domain.EntityComplaint:
		if actor.Role == domain.RoleAdmin {
			return adminComplaint(ev, at)
		}
		return studentComplaint(actor, ev, at)

	case domain.EntityActivity:
		if actor.Role != domain.RoleStudent || ev.Op != domain.OpCreate || owners == nil {
			return nil
		}
		act, ok := ev.After.(domain.Activity)
		if !ok {
			return nil
		}
		owner, ok := owners.ComplaintOwner(act.ComplaintID)
		if !ok || owner != actor.ID || act.ActorID == actor.ID {
			return nil
		}
		return []Notification{{
			Type:        FrameToast,
			Title:       "New update on your complaint",
			Description: act.Description,
			Entity:      domain.EntityComplaint,
			EntityID:    act.ComplaintID,
			At:          at,
		}}
	}
	return nil
}

func studentComplaint(actor Actor, ev domain.ChangeEvent, at time.Time) []Notification {
	if ev.Op != domain.OpUpdate {
		return nil
	}
	before, after, _ := ev.ComplaintPair()
	if before == nil || after == nil || after.StudentID != actor.ID {
		return nil
	}
	remarks := strings.TrimSpace(after.AdminRemarks)
	if before.Status != after.Status {
		desc := remarks
		if desc == "" {
			desc = "Check your complaint for details"
		}
		return []Notification{{
			Type:        FrameToast,
			Title:       fmt.Sprintf("Complaint \"%s\" status updated to %s", after.Title, after.Status),
			Description: desc,
			Entity:      domain.EntityComplaint,
			EntityID:    after.ID,
			At:          at,
		}}
	}
	if remarks != "" && remarks != strings.TrimSpace(before.AdminRemarks) {
		return []Notification{{
			Type:        FrameToast,
			Title:       fmt.Sprintf("Admin replied to \"%s\"", after.Title),
			Description: policy.Truncate(remarks, 100),
			Entity:      domain.EntityComplaint,
			EntityID:    after.ID,
			At:          at,
		}}
	}
	return nil
}

func adminComplaint(ev domain.ChangeEvent, at time.Time) []Notification {
	_, after, _ := ev.ComplaintPair()
	switch ev.Op {
	case domain.OpCreate:
		if after == nil {
			return nil
		}
		desc := "From " + after.StudentName
		if after.StudentName == "" {
			desc = "From a student"
		}
		if after.Category != "" {
			desc += " - " + after.Category
		}
		return []Notification{{
			Type:        FrameToast,
			Title:       "New complaint: " + after.Title,
			Description: desc,
			DurationMS:  newComplaintToast.Milliseconds(),
			Entity:      domain.EntityComplaint,
			EntityID:    after.ID,
			At:          at,
		}}
	case domain.OpUpdate, domain.OpDelete:
		return []Notification{{
			Type:     FrameRefresh,
			Title:    "Complaint " + string(ev.Op) + "d",
			Entity:   domain.EntityComplaint,
			EntityID: ev.EntityID,
			At:       at,
		}}
	}
	return nil
}
