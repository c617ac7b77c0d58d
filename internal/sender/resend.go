package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/mail"
	"net/url"
	"strings"

	"grievd/internal/domain"
)

const DefaultResendURL = "https://api.resend.com"

type EmailConfig struct {
	APIKey  string
	From    string
	BaseURL string
	Client  *http.Client
}

// Email sends HTML mail through the Resend API.
type Email struct {
	apiKey string
	from   string
	base   string
	client *http.Client
}

// NewEmail returns a disabled sender when the API key or sender address is
// missing.
func NewEmail(cfg EmailConfig) Sender {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return Disabled(domain.ChannelEmail, "resend api key missing")
	}
	if _, err := mail.ParseAddress(cfg.From); err != nil {
		return Disabled(domain.ChannelEmail, "invalid from address")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultResendURL
	}
	if u, err := url.Parse(base); err != nil || u.Host == "" {
		return Disabled(domain.ChannelEmail, "invalid base url")
	}
	return &Email{apiKey: cfg.APIKey, from: cfg.From, base: base, client: newHTTPClient(cfg.Client)}
}

func (e *Email) Channel() domain.Channel { return domain.ChannelEmail }

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type resendResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (e *Email) Send(ctx context.Context, attemptID string, d domain.Decision) (Result, error) {
	if _, err := mail.ParseAddress(d.Recipient); err != nil {
		return Result{}, fmt.Errorf("%w: invalid recipient address", domain.ErrValidation)
	}
	body, err := json.Marshal(resendRequest{From: e.from, To: []string{d.Recipient}, Subject: d.Subject, HTML: d.Body})
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.base+"/emails", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if attemptID != "" {
		req.Header.Set("Idempotency-Key", attemptID)
	}

	raw, err := do(ctx, e.client, "resend", req)
	var out resendResponse
	_ = json.Unmarshal(raw, &out)
	if err != nil {
		if pe, ok := err.(*ProviderError); ok && out.Message != "" {
			pe.Code, pe.Message = out.Name, out.Message
		}
		return Result{}, err
	}
	if out.ID == "" {
		return Result{}, fmt.Errorf("%w: resend: response without id", domain.ErrUnavailable)
	}
	return Result{ProviderRef: out.ID}, nil
}
