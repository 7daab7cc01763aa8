// Package twiliosms wraps the Twilio REST API used to run triage sessions and
// deliver clinic shortlists over SMS.
package twiliosms

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Sender sends one text message.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts holds configuration options for the Twilio client.
type Opts struct {
	AccountSID string
	AuthToken  string
	From       string
}

// Option defines a configuration option for the Twilio client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token. It also validates webhook signatures.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFrom sets the sending phone number in E.164 form. A "whatsapp:" prefix
// sends through the Twilio WhatsApp sandbox instead.
func WithFrom(from string) Option {
	return func(o *Opts) { o.From = from }
}

// Client wraps the Twilio REST API for SMS
type Client struct {
	client    *twilio.RestClient
	from      string
	validator twclient.RequestValidator
}

// NewClient creates a Twilio client. Unset options fall back to TWILIO_ACCOUNT_SID,
// TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.From == "" {
		cfg.From = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("twiliosms.NewClient: config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"From_set", cfg.From != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("from number must be provided")
	}

	return &Client{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		}),
		from:      cfg.From,
		validator: twclient.NewRequestValidator(cfg.AuthToken),
	}, nil
}

// addressFor formats a recipient the way the sending number expects.
func (c *Client) addressFor(to string) string {
	if strings.HasPrefix(c.from, "whatsapp:") && !strings.HasPrefix(to, "whatsapp:") {
		return "whatsapp:" + to
	}
	return to
}

// SendMessage sends a text message via the Twilio Messages API.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(c.addressFor(to))
	params.SetFrom(c.from)
	params.SetBody(body)

	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Client.SendMessage: Twilio send failed", "error", err)
		return fmt.Errorf("failed to send message: %w", err)
	}
	if resp != nil && resp.Sid != nil {
		slog.Debug("Client.SendMessage: Twilio message sent", "sid", *resp.Sid)
	}
	return nil
}

// ValidateSignature checks the X-Twilio-Signature of a webhook request.
func (c *Client) ValidateSignature(url string, params map[string]string, signature string) bool {
	return c.validator.Validate(url, params, signature)
}

// SentMessage is a message recorded by MockClient.
type SentMessage struct {
	To   string
	Body string
}

// MockClient records messages instead of sending them.
type MockClient struct {
	mu   sync.Mutex
	sent []SentMessage
	Err  error
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, SentMessage{To: to, Body: body})
	return nil
}

// Sent returns a copy of the recorded messages.
func (m *MockClient) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}
