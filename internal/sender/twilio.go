package sender

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"grievd/internal/domain"
)

const DefaultTwilioURL = "https://api.twilio.com"

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	BaseURL    string
	Client     *http.Client
}

type twilio struct {
	sid    string
	token  string
	from   string
	base   string
	client *http.Client
}

func newTwilio(cfg TwilioConfig) (*twilio, string) {
	switch {
	case strings.TrimSpace(cfg.AccountSID) == "" || strings.TrimSpace(cfg.AuthToken) == "":
		return nil, "twilio credentials missing"
	case domain.NormalizePhone(cfg.From) == "":
		return nil, "twilio from number missing or invalid"
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultTwilioURL
	}
	if u, err := url.Parse(base); err != nil || u.Host == "" {
		return nil, "invalid base url"
	}
	return &twilio{
		sid:    cfg.AccountSID,
		token:  cfg.AuthToken,
		from:   domain.NormalizePhone(cfg.From),
		base:   base,
		client: newHTTPClient(cfg.Client),
	}, ""
}

type twilioResponse struct {
	SID     string `json:"sid"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (t *twilio) post(ctx context.Context, resource string, form url.Values) (string, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/%s.json", t.base, url.PathEscape(t.sid), resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(t.sid, t.token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	raw, err := do(ctx, t.client, "twilio", req)
	var out twilioResponse
	_ = json.Unmarshal(raw, &out)
	if err != nil {
		if pe, ok := err.(*ProviderError); ok && out.Message != "" {
			pe.Message = out.Message
			if out.Code != 0 {
				pe.Code = fmt.Sprint(out.Code)
			}
		}
		return "", err
	}
	if out.SID == "" {
		return "", fmt.Errorf("%w: twilio: response without sid", domain.ErrUnavailable)
	}
	return out.SID, nil
}

func recipientPhone(d domain.Decision) (string, error) {
	to := domain.NormalizePhone(d.Recipient)
	if to == "" {
		return "", fmt.Errorf("%w: recipient is not an E.164 phone number", domain.ErrValidation)
	}
	return to, nil
}

// SMS sends text messages through Twilio.
type SMS struct{ t *twilio }

func NewSMS(cfg TwilioConfig) Sender {
	t, reason := newTwilio(cfg)
	if t == nil {
		return Disabled(domain.ChannelSMS, reason)
	}
	return &SMS{t: t}
}

func (s *SMS) Channel() domain.Channel { return domain.ChannelSMS }

func (s *SMS) Send(ctx context.Context, attemptID string, d domain.Decision) (Result, error) {
	to, err := recipientPhone(d)
	if err != nil {
		return Result{}, err
	}
	ref, err := s.t.post(ctx, "Messages", url.Values{"To": {to}, "From": {s.t.from}, "Body": {d.Body}})
	if err != nil {
		return Result{}, err
	}
	return Result{ProviderRef: ref}, nil
}

// Call places a voice call that reads the decision body aloud.
type Call struct{ t *twilio }

func NewCall(cfg TwilioConfig) Sender {
	t, reason := newTwilio(cfg)
	if t == nil {
		return Disabled(domain.ChannelCall, reason)
	}
	return &Call{t: t}
}

func (c *Call) Channel() domain.Channel { return domain.ChannelCall }

func (c *Call) Send(ctx context.Context, attemptID string, d domain.Decision) (Result, error) {
	to, err := recipientPhone(d)
	if err != nil {
		return Result{}, err
	}
	twiml, err := sayTwiML(d.Body)
	if err != nil {
		return Result{}, err
	}
	ref, err := c.t.post(ctx, "Calls", url.Values{"To": {to}, "From": {c.t.from}, "Twiml": {twiml}})
	if err != nil {
		return Result{}, err
	}
	return Result{ProviderRef: ref}, nil
}

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Say     struct {
		Voice string `xml:"voice,attr"`
		Text  string `xml:",chardata"`
	} `xml:"Say"`
}

func sayTwiML(text string) (string, error) {
	var r twimlResponse
	r.Say.Voice = "alice"
	r.Say.Text = text
	b, err := xml.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
