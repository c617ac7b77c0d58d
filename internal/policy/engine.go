// Package policy turns change events into delivery decisions.
//
// The engine is a pure function of the event and the contact directory: no
// I/O, no clock, same input same output.
package policy

import (
	"fmt"
	"strings"

	"grievd/internal/directory"
	"grievd/internal/domain"
)

// Contacts resolves recipients. *directory.Directory satisfies it.
type Contacts interface {
	ContactFor(c domain.Complaint) directory.Contact
	Emails() []string
}

// Skip records a decision the rules wanted but could not address.
type Skip struct {
	Channel domain.Channel
	Rule    string
	Reason  string
}

// Plan is the engine's answer for one event.
type Plan struct {
	Decisions []domain.Decision
	Skipped   []Skip
}

type Engine struct {
	contacts Contacts
}

func New(contacts Contacts) *Engine {
	return &Engine{contacts: contacts}
}

// Rule names, recorded as decision metadata.
const (
	RuleStatusChange    = "status_change"
	RuleAdminReply      = "admin_reply"
	RuleUrgentSMS       = "urgent_sms"
	RuleEscalation      = "escalation"
	RuleAnnouncement    = "announcement"
	RuleComplaintOpened = "complaint_opened"
)

func (e *Engine) Decide(ev domain.ChangeEvent) Plan {
	switch ev.Entity {
	case domain.EntityComplaint:
		switch ev.Op {
		case domain.OpUpdate:
			return e.complaintUpdated(ev)
		case domain.OpCreate:
			return e.complaintCreated(ev)
		}
	case domain.EntityAnnouncement:
		if ev.Op == domain.OpCreate {
			return e.announcementCreated(ev)
		}
	}
	return Plan{}
}

func (e *Engine) complaintUpdated(ev domain.ChangeEvent) Plan {
	before, after, _ := ev.ComplaintPair()
	if before == nil || after == nil {
		return Plan{}
	}
	var p Plan
	contact := e.contact(*after)

	statusChanged := before.Status != after.Status
	remarks := strings.TrimSpace(after.AdminRemarks)
	remarksChanged := remarks != "" && remarks != strings.TrimSpace(before.AdminRemarks)

	if statusChanged {
		p.Decisions = append(p.Decisions, decision(domain.ChannelPush, after.StudentID,
			statusPushSubject(after.Title),
			statusPushBody(after.Title, before.Status, after.Status),
			*after, RuleStatusChange))

		if contact.Email != "" {
			p.Decisions = append(p.Decisions, decision(domain.ChannelEmail, contact.Email,
				statusEmailSubject(after.Title),
				render(statusEmailTmpl, statusEmail{Name: contact.Name, Title: after.Title, Status: after.Status, Remarks: remarks}),
				*after, RuleStatusChange))
		} else {
			p.Skipped = append(p.Skipped, Skip{Channel: domain.ChannelEmail, Rule: RuleStatusChange, Reason: "no email address on file"})
		}

		if after.Urgent() {
			if contact.Phone != "" {
				p.Decisions = append(p.Decisions, decision(domain.ChannelSMS, contact.Phone,
					"",
					smsText(contact.Name, after.Title, after.Status),
					*after, RuleUrgentSMS))
			} else {
				p.Skipped = append(p.Skipped, Skip{Channel: domain.ChannelSMS, Rule: RuleUrgentSMS, Reason: "no contact number on file"})
			}
		}
		return p
	}

	if remarksChanged {
		p.Decisions = append(p.Decisions, decision(domain.ChannelPush, after.StudentID,
			remarksPushSubject(after.Title),
			Truncate(remarks, 100),
			*after, RuleAdminReply))
	}
	return p
}

func (e *Engine) complaintCreated(ev domain.ChangeEvent) Plan {
	_, after, _ := ev.ComplaintPair()
	if after == nil {
		return Plan{}
	}
	return Plan{Decisions: []domain.Decision{
		decision(domain.ChannelPush, domain.PushToRole(domain.RoleAdmin),
			newComplaintPushSubject(after.Title),
			newComplaintPushBody(after.StudentName, after.Category),
			*after, RuleComplaintOpened),
	}}
}

func (e *Engine) announcementCreated(ev domain.ChangeEvent) Plan {
	a, ok := ev.AnnouncementAfter()
	if !ok || !a.IsActive {
		return Plan{}
	}
	subject := announcementSubject(a.Title)
	p := Plan{Decisions: []domain.Decision{{
		Channel:       domain.ChannelPush,
		Recipient:     domain.PushBroadcast,
		Subject:       subject,
		Body:          a.Message,
		RelatedEntity: domain.EntityAnnouncement,
		RelatedID:     a.ID,
		Metadata:      map[string]string{domain.MetaTrigger: RuleAnnouncement, domain.MetaAnnouncementTitle: a.Title},
	}}}

	var emails []string
	if e.contacts != nil {
		emails = e.contacts.Emails()
	}
	if len(emails) == 0 {
		p.Skipped = append(p.Skipped, Skip{Channel: domain.ChannelEmail, Rule: RuleAnnouncement, Reason: "no recipient addresses known"})
		return p
	}
	body := render(announcementEmailTmpl, announcementEmail{Title: a.Title, Message: a.Message})
	for _, addr := range emails {
		p.Decisions = append(p.Decisions, domain.Decision{
			Channel:       domain.ChannelEmail,
			Recipient:     addr,
			Subject:       subject,
			Body:          body,
			RelatedEntity: domain.EntityAnnouncement,
			RelatedID:     a.ID,
			Metadata:      map[string]string{domain.MetaTrigger: RuleAnnouncement, domain.MetaAnnouncementTitle: a.Title},
		})
	}
	return p
}

// Escalate admits an operator emergency call for c. The complaint must carry
// priority urgent and a reachable number.
func (e *Engine) Escalate(c domain.Complaint) (domain.Decision, error) {
	if c.Priority != domain.PriorityUrgent {
		return domain.Decision{}, fmt.Errorf("%w: complaint %s priority is %q, escalation requires urgent", domain.ErrValidation, c.ID, c.Priority)
	}
	contact := e.contact(c)
	if contact.Phone == "" {
		return domain.Decision{}, fmt.Errorf("%w: complaint %s has no contact number", domain.ErrValidation, c.ID)
	}
	return decision(domain.ChannelCall, contact.Phone, "", callText(c.ID, c.Title), c, RuleEscalation), nil
}

func (e *Engine) contact(c domain.Complaint) directory.Contact {
	if e.contacts == nil {
		return directory.Contact{Name: c.StudentName, Email: c.ContactEmail, Phone: c.ContactPhone}
	}
	return e.contacts.ContactFor(c)
}

func decision(ch domain.Channel, to, subject, body string, c domain.Complaint, rule string) domain.Decision {
	return domain.Decision{
		Channel:       ch,
		Recipient:     to,
		Subject:       subject,
		Body:          body,
		RelatedEntity: domain.EntityComplaint,
		RelatedID:     c.ID,
		Priority:      c.Priority,
		Metadata:      map[string]string{domain.MetaTrigger: rule},
	}
}
