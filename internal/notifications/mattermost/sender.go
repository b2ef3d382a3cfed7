// Package mattermost posts operations alerts to a Mattermost incoming webhook.
package mattermost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/bissquit/listing-dispatch/internal/domain"
	"github.com/bissquit/listing-dispatch/internal/notifications"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultUsername = "ListingDispatch"
	alertColor      = "#E8A33D"
	maxBodyLog      = 512
)

// Config holds Mattermost sender configuration.
// The webhook URL travels in Notification.To.
type Config struct {
	Username string
	IconURL  string
	Channel  string // overrides the webhook's default channel when set
	Timeout  time.Duration
}

// Sender implements notifications.Sender via Incoming Webhooks.
type Sender struct {
	config     Config
	httpClient *http.Client
}

// NewSender creates a new Mattermost sender.
func NewSender(config Config) *Sender {
	if config.Username == "" {
		config.Username = defaultUsername
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	return &Sender{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Type returns the channel type.
func (s *Sender) Type() domain.ChannelType {
	return domain.ChannelTypeMattermost
}

type webhookPayload struct {
	Username    string       `json:"username,omitempty"`
	IconURL     string       `json:"icon_url,omitempty"`
	Channel     string       `json:"channel,omitempty"`
	Text        string       `json:"text,omitempty"`
	Attachments []attachment `json:"attachments,omitempty"`
}

type attachment struct {
	Fallback string `json:"fallback"`
	Color    string `json:"color,omitempty"`
	Title    string `json:"title,omitempty"`
	Text     string `json:"text"`
}

// buildPayload wraps a titled message in an attachment so it stands out in
// the channel. Untitled messages are posted as plain text.
func (s *Sender) buildPayload(n notifications.Notification) webhookPayload {
	p := webhookPayload{
		Username: s.config.Username,
		IconURL:  s.config.IconURL,
		Channel:  s.config.Channel,
	}
	if n.Subject == "" {
		p.Text = n.Body
		return p
	}
	p.Attachments = []attachment{{
		Fallback: n.Subject,
		Color:    alertColor,
		Title:    n.Subject,
		Text:     n.Body,
	}}
	return p
}

// Send posts notification to the webhook in notification.To.
func (s *Sender) Send(ctx context.Context, notification notifications.Notification) error {
	webhookURL := notification.To
	if webhookURL == "" {
		return &Error{Message: "webhook URL is empty"}
	}

	body, err := json.Marshal(s.buildPayload(notification))
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return &Error{Message: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &Error{Message: fmt.Sprintf("send request: %v", err), Retryable: true}
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkResponse(resp); err != nil {
		return err
	}

	slog.Debug("mattermost alert posted", "webhook", maskWebhookURL(webhookURL))
	return nil
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyLog))
	e := &Error{Code: resp.StatusCode, Message: string(bytes.TrimSpace(raw))}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		e.Message = "invalid or expired webhook"
	case resp.StatusCode == http.StatusNotFound:
		e.Message = "webhook not found"
	case resp.StatusCode == http.StatusTooManyRequests:
		e.Retryable = true
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		e.Message = "rate limited"
	case resp.StatusCode >= 500:
		e.Retryable = true
	}

	return e
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// maskWebhookURL hides the secret part of the URL for logging.
func maskWebhookURL(url string) string {
	if len(url) > 40 {
		return url[:20] + "..." + url[len(url)-10:]
	}
	return url
}

// Error is a failed webhook call.
type Error struct {
	Code       int
	Message    string
	Retryable  bool
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("mattermost error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("mattermost error: %s", e.Message)
}

// IsRetryable reports whether the call may succeed later.
func (e *Error) IsRetryable() bool { return e.Retryable }
