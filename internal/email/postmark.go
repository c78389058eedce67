package email

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const postmarkURL = "https://api.postmarkapp.com/email"

// Message is one outbound transactional email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
	ReplyTo string
}

// Sender delivers messages. Callers treat delivery as fire-and-forget and
// only log failures.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

var ErrNotConfigured = errors.New("email client not configured: missing server token")

// APIError is a rejection reported by Postmark.
type APIError struct {
	Status  int
	Code    int    `json:"ErrorCode"`
	Message string `json:"Message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("postmark: status %d", e.Status)
	}
	return fmt.Sprintf("postmark: status %d code %d: %s", e.Status, e.Code, e.Message)
}

// Client sends through the Postmark single-email endpoint.
type Client struct {
	token    string
	from     string
	replyTo  string
	stream   string
	endpoint string
	http     *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithReplyTo sets the default Reply-To for messages that carry none.
func WithReplyTo(addr string) Option {
	return func(c *Client) { c.replyTo = addr }
}

// WithMessageStream selects a Postmark message stream other than "outbound".
func WithMessageStream(stream string) Option {
	return func(c *Client) { c.stream = stream }
}

func WithEndpoint(url string) Option {
	return func(c *Client) { c.endpoint = url }
}

func NewClient(serverToken, fromEmail string, opts ...Option) *Client {
	c := &Client{
		token:    serverToken,
		from:     fromEmail,
		stream:   "outbound",
		endpoint: postmarkURL,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Configured() bool {
	return c.token != ""
}

type postmarkEmail struct {
	From          string `json:"From"`
	To            string `json:"To"`
	ReplyTo       string `json:"ReplyTo,omitempty"`
	Subject       string `json:"Subject"`
	HtmlBody      string `json:"HtmlBody"`
	TextBody      string `json:"TextBody,omitempty"`
	MessageStream string `json:"MessageStream"`
}

func (c *Client) Send(ctx context.Context, msg Message) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	out := postmarkEmail{
		From:          c.from,
		To:            msg.To,
		ReplyTo:       cmp.Or(msg.ReplyTo, c.replyTo),
		Subject:       msg.Subject,
		HtmlBody:      msg.HTML,
		TextBody:      msg.Text,
		MessageStream: c.stream,
	}
	body, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 400 {
		return nil
	}
	apiErr := &APIError{Status: resp.StatusCode}
	// Postmark answers errors with a JSON body; a missing one still yields the status.
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(apiErr)
	return apiErr
}

// LogSender writes messages to the log instead of delivering them. It is
// used when no Postmark token is configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(_ context.Context, msg Message) error {
	s.Logger.Info("email not sent: postmark not configured", "to", msg.To, "subject", msg.Subject, "body", msg.Text)
	return nil
}
