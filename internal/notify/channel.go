package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"observatory-ops/internal/alerts"
	"observatory-ops/internal/broker"
)

// Payload is a rendered notification bound for a single channel.
type Payload struct {
	Channel    string          `json:"channel"`
	Recipients []string        `json:"recipients,omitempty"`
	Subject    string          `json:"subject,omitempty"`
	Body       string          `json:"body"`
	Level      alerts.Severity `json:"level"`
	AlertName  string          `json:"alert_name"`
	Group      string          `json:"group,omitempty"`
}

// Channel delivers a payload to one medium.
type Channel interface {
	Name() string
	Send(ctx context.Context, payload Payload) error
}

type webhookMessage struct {
	MsgType string      `json:"msgtype"`
	Text    webhookText `json:"text"`
}

type webhookText struct {
	Content string `json:"content"`
}

// WebhookChannel posts notifications to a chat webhook endpoint.
type WebhookChannel struct {
	name   string
	url    string
	client *http.Client
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// NewWebhookChannel constructs a named webhook channel.
func NewWebhookChannel(name, url string, opts ...WebhookOption) (*WebhookChannel, error) {
	if name == "" {
		return nil, errors.New("webhook channel: empty name")
	}
	if url == "" {
		return nil, errors.New("webhook channel: empty url")
	}
	channel := &WebhookChannel{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(channel)
	}
	return channel, nil
}

// Name returns the channel identifier used for routing.
func (w *WebhookChannel) Name() string {
	if w == nil {
		return ""
	}
	return w.name
}

// Send posts the payload body as a text message. A 4xx response is a
// permanent failure: the endpoint rejected the message and retrying the
// same bytes cannot succeed.
func (w *WebhookChannel) Send(ctx context.Context, payload Payload) error {
	if w == nil || w.url == "" {
		return broker.Permanent(errors.New("webhook channel: empty url"))
	}
	content := payload.Body
	if payload.Subject != "" {
		content = payload.Subject + "\n" + content
	}
	message := webhookMessage{
		MsgType: "text",
		Text:    webhookText{Content: content},
	}
	body, err := json.Marshal(message)
	if err != nil {
		return broker.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return broker.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return broker.Permanent(fmt.Errorf("webhook channel: rejected with %d", resp.StatusCode))
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook channel: non-2xx response %d", resp.StatusCode)
	}
	return nil
}

// SMTPSender abstracts smtp.SendMail for tests.
type SMTPSender func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPChannel delivers notifications by email.
type SMTPChannel struct {
	name    string
	addr    string
	from    string
	auth    smtp.Auth
	send    SMTPSender
	timeout time.Duration
}

// SMTPOption configures the SMTP channel.
type SMTPOption func(*SMTPChannel)

// WithSMTPAuth sets the authentication used for the relay.
func WithSMTPAuth(auth smtp.Auth) SMTPOption {
	return func(ch *SMTPChannel) { ch.auth = auth }
}

// WithSMTPSender overrides the send function.
func WithSMTPSender(send SMTPSender) SMTPOption {
	return func(ch *SMTPChannel) {
		if send != nil {
			ch.send = send
		}
	}
}

// WithSMTPTimeout overrides the send timeout applied when the caller's
// context carries no deadline of its own.
func WithSMTPTimeout(timeout time.Duration) SMTPOption {
	return func(ch *SMTPChannel) {
		if timeout > 0 {
			ch.timeout = timeout
		}
	}
}

// NewSMTPChannel constructs an email channel relaying through addr.
func NewSMTPChannel(name, addr, from string, opts ...SMTPOption) (*SMTPChannel, error) {
	if name == "" {
		return nil, errors.New("smtp channel: empty name")
	}
	if addr == "" || from == "" {
		return nil, errors.New("smtp channel: relay address and from are required")
	}
	channel := &SMTPChannel{
		name:    name,
		addr:    addr,
		from:    from,
		send:    smtp.SendMail,
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(channel)
	}
	return channel, nil
}

// Name returns the channel identifier used for routing.
func (s *SMTPChannel) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// Send relays the payload as a plain-text message. smtp.SendMail carries no
// I/O deadline of its own, so a send against a hung relay is bounded by the
// context; when the caller's context has no deadline the channel applies its
// own timeout.
func (s *SMTPChannel) Send(ctx context.Context, payload Payload) error {
	if s == nil || s.addr == "" {
		return broker.Permanent(errors.New("smtp channel: not configured"))
	}
	if len(payload.Recipients) == 0 {
		return broker.Permanent(errors.New("smtp channel: no recipients"))
	}
	if _, ok := ctx.Deadline(); !ok && s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	subject := payload.Subject
	if subject == "" {
		subject = fmt.Sprintf("[%s] %s", strings.ToUpper(string(payload.Level)), payload.AlertName)
	}
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", s.from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(payload.Recipients, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(payload.Body)
	msg.WriteString("\r\n")

	done := make(chan error, 1)
	go func() {
		done <- s.send(s.addr, s.auth, s.from, payload.Recipients, msg.Bytes())
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
