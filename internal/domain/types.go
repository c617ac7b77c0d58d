package domain

import (
	"regexp"
	"strings"
	"time"
)

type EntityType string

const (
	EntityComplaint    EntityType = "complaint"
	EntityAnnouncement EntityType = "announcement"
	EntityProfile      EntityType = "profile"
	EntityActivity     EntityType = "activity_log"
)

type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool { return r == RoleStudent || r == RoleAdmin }

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Complaint workflow states as shown to users.
const (
	StatusPending  = "Pending"
	StatusInReview = "In Review"
	StatusResolved = "Resolved"
)

// Snapshot is one of Complaint, Announcement, Profile or Activity.
type Snapshot interface {
	Entity() EntityType
	Key() string
}

type Complaint struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Category     string   `json:"category,omitempty"`
	Status       string   `json:"status"`
	AdminRemarks string   `json:"admin_remarks,omitempty"`
	IsUrgent     bool     `json:"marked_urgent"`
	Priority     Priority `json:"priority,omitempty"`
	StudentID    string   `json:"student_id"`
	StudentName  string   `json:"student_name,omitempty"`
	// Contact fields are optional; the directory fills them in when absent.
	ContactEmail string `json:"contact_email,omitempty"`
	ContactPhone string `json:"contact_phone,omitempty"`
}

func (Complaint) Entity() EntityType { return EntityComplaint }
func (c Complaint) Key() string      { return c.ID }

// Urgent reports whether either urgency signal is set.
func (c Complaint) Urgent() bool { return c.IsUrgent || c.Priority == PriorityUrgent }

type Announcement struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	IsActive  bool       `json:"is_active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedBy string     `json:"created_by,omitempty"`
}

func (Announcement) Entity() EntityType { return EntityAnnouncement }
func (a Announcement) Key() string      { return a.ID }

// Live reports whether the announcement is active and not expired at now.
func (a Announcement) Live(now time.Time) bool {
	if !a.IsActive {
		return false
	}
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

type Profile struct {
	ID       string `json:"id"`
	Email    string `json:"email,omitempty"`
	FullName string `json:"full_name,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Role     Role   `json:"role"`
}

func (Profile) Entity() EntityType { return EntityProfile }
func (p Profile) Key() string      { return p.ID }

// Activity is an entry of a complaint's activity log.
type Activity struct {
	ID          string `json:"id"`
	ComplaintID string `json:"complaint_id"`
	Action      string `json:"action"`
	Description string `json:"description,omitempty"`
	ActorID     string `json:"user_id,omitempty"`
}

func (Activity) Entity() EntityType { return EntityActivity }
func (a Activity) Key() string      { return a.ID }

// ChangeEvent is an immutable before/after pair for one entity mutation.
type ChangeEvent struct {
	ID         string
	Entity     EntityType
	EntityID   string
	Op         Operation
	Before     Snapshot
	After      Snapshot
	OccurredAt time.Time
}

// ComplaintPair returns typed snapshots when the event is about a complaint.
func (e ChangeEvent) ComplaintPair() (before, after *Complaint, ok bool) {
	if e.Entity != EntityComplaint {
		return nil, nil, false
	}
	if c, ok := e.Before.(Complaint); ok {
		before = &c
	}
	if c, ok := e.After.(Complaint); ok {
		after = &c
	}
	return before, after, true
}

func (e ChangeEvent) AnnouncementAfter() (Announcement, bool) {
	a, ok := e.After.(Announcement)
	return a, ok
}

var phoneRE = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)

// NormalizePhone strips formatting characters and returns the number when it
// is a valid E.164 string, else "".
func NormalizePhone(raw string) string {
	s := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
	if !phoneRE.MatchString(s) {
		return ""
	}
	return s
}
