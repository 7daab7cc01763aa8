package twiliosms

import (
	"context"
	"strings"
	"testing"
)

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	if err := mock.SendMessage(ctx, "+15551234", "Hello Test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := mock.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sent))
	}
	if sent[0].Body != "Hello Test" {
		t.Errorf("expected body %q, got %q", "Hello Test", sent[0].Body)
	}
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(); err == nil || !strings.Contains(err.Error(), "auth token") {
		t.Errorf("expected credentials error, got %v", err)
	}
	if _, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok")); err == nil {
		t.Error("expected error without from number")
	}
}

func TestNewClient_EnvFallback(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("TWILIO_AUTH_TOKEN", "secret")
	t.Setenv("TWILIO_FROM_NUMBER", "+15550000")

	c, err := NewClient()
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.from != "+15550000" {
		t.Errorf("from = %q", c.from)
	}
	if got := c.addressFor("+15551234"); got != "+15551234" {
		t.Errorf("sms address = %q", got)
	}
}

func TestAddressFor_WhatsAppSender(t *testing.T) {
	c, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok"), WithFrom("whatsapp:+15550000"))
	if err != nil {
		t.Fatal(err)
	}
	if got := c.addressFor("+15551234"); got != "whatsapp:+15551234" {
		t.Errorf("address = %q", got)
	}
}

func TestValidateSignature_RejectsForgery(t *testing.T) {
	c, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok"), WithFrom("+15550000"))
	if err != nil {
		t.Fatal(err)
	}
	if c.ValidateSignature("https://example.com/webhooks/twilio", map[string]string{"Body": "hi"}, "forged") {
		t.Error("forged signature accepted")
	}
}
