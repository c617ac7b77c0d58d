package sender

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"grievd/internal/domain"
)

const (
	userAgent          = "grievd/1"
	maxResponseBody    = 64 << 10
	defaultHTTPTimeout = 30 * time.Second
)

func newHTTPClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// ProviderError is a non-2xx answer from a provider API.
type ProviderError struct {
	Provider string
	Status   int
	Code     string
	Message  string
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: HTTP %d (code %s): %s", e.Provider, e.Status, e.Code, msg)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.Status, msg)
}

// Unwrap classifies the failure: 401/403 are configuration problems, other
// 4xx mean the request itself was rejected, 429 and 5xx are transient.
func (e *ProviderError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return domain.ErrNotConfigured
	case e.Status == http.StatusTooManyRequests || e.Status >= 500:
		return domain.ErrUnavailable
	default:
		return domain.ErrValidation
	}
}

// do executes req and returns the body of a 2xx answer.
func do(ctx context.Context, client *http.Client, provider string, req *http.Request) ([]byte, error) {
	req.Header.Set("User-Agent", userAgent)
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, normalize(ctx, provider, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, normalize(ctx, provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, &ProviderError{Provider: provider, Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return body, nil
}

// normalize maps transport errors onto the domain sentinels. Deadline
// failures always carry domain.ErrTimeout.
func normalize(ctx context.Context, provider string, err error) error {
	if err == nil {
		return nil
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %s did not answer before the deadline", domain.ErrTimeout, provider)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: request canceled: %w", provider, err)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrUnavailable, provider, err)
}
