package domain

import (
	"strings"
	"time"
)

type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelCall  Channel = "call"
)

var Channels = []Channel{ChannelPush, ChannelEmail, ChannelSMS, ChannelCall}

func ParseChannel(s string) (Channel, bool) {
	c := Channel(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Channels {
		if c == known {
			return c, true
		}
	}
	return "", false
}

type AttemptStatus string

const (
	AttemptPending AttemptStatus = "pending"
	AttemptSent    AttemptStatus = "sent"
	AttemptFailed  AttemptStatus = "failed"
)

func ParseAttemptStatus(s string) (AttemptStatus, bool) {
	switch st := AttemptStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case AttemptPending, AttemptSent, AttemptFailed:
		return st, true
	}
	return "", false
}

// Push recipients address live sessions rather than contacts.
const (
	PushBroadcast  = "*"
	pushRolePrefix = "role:"
)

func PushToRole(r Role) string { return pushRolePrefix + string(r) }

// PushRole returns the role addressed by a push recipient, if any.
func PushRole(recipient string) (Role, bool) {
	if !strings.HasPrefix(recipient, pushRolePrefix) {
		return "", false
	}
	return Role(strings.TrimPrefix(recipient, pushRolePrefix)), true
}

// Decision is one channel delivery the policy wants performed.
type Decision struct {
	Channel       Channel
	Recipient     string
	Subject       string
	Body          string
	RelatedEntity EntityType
	RelatedID     string
	Priority      Priority
	Metadata      map[string]string
}

// Attempt is the persisted record of one Decision being executed.
//
// An attempt moves from pending to sent or failed exactly once. A failed
// attempt is superseded by a new attempt on resend, never rewritten.
type Attempt struct {
	ID            string            `json:"id"`
	Channel       Channel           `json:"channel"`
	Recipient     string            `json:"recipient"`
	Subject       string            `json:"subject,omitempty"`
	Body          string            `json:"body"`
	Status        AttemptStatus     `json:"status"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	RelatedEntity EntityType        `json:"related_entity,omitempty"`
	RelatedID     string            `json:"related_id,omitempty"`
	Priority      Priority          `json:"priority,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Decision rebuilds the decision an attempt was created from.
func (a Attempt) Decision() Decision {
	return Decision{
		Channel:       a.Channel,
		Recipient:     a.Recipient,
		Subject:       a.Subject,
		Body:          a.Body,
		RelatedEntity: a.RelatedEntity,
		RelatedID:     a.RelatedID,
		Priority:      a.Priority,
		Metadata:      CopyMeta(a.Metadata),
	}
}

func CopyMeta(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Attempt metadata keys.
const (
	MetaProviderRef       = "provider_ref"
	MetaResendOf          = "resend_of"
	MetaAnnouncementTitle = "announcement_title"
	MetaSessions          = "sessions"
	MetaTrigger           = "trigger"
)

// Outcome is the result of executing one decision.
type Outcome struct {
	AttemptID   string        `json:"attempt_id"`
	Channel     Channel       `json:"channel"`
	Status      AttemptStatus `json:"status"`
	ProviderRef string        `json:"provider_ref,omitempty"`
	Error       string        `json:"error,omitempty"`
	// LogError is set when the attempt could not be persisted. It never
	// affects Status.
	LogError string `json:"log_error,omitempty"`
}
