package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/BTreeMap/TriagePipe/internal/models"
	"github.com/BTreeMap/TriagePipe/internal/twiliosms"
)

type signingClient struct {
	*twiliosms.MockClient
	valid bool
}

func (s signingClient) ValidateSignature(url string, params map[string]string, signature string) bool {
	return s.valid && signature != ""
}

func postForm(h http.HandlerFunc, form url.Values, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signature != "" {
		req.Header.Set("X-Twilio-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestTwilioService_WebhookEmitsResponse(t *testing.T) {
	svc := NewTwilioService(twiliosms.NewMockClient())
	rec := postForm(svc.TwilioWebhookHandler, url.Values{
		"From": {"+15551234567"}, "Body": {"hello"}, "MessageSid": {"SM123"},
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	select {
	case r := <-svc.Responses():
		if r.ID != "SM123" || r.From != "+15551234567" || r.Body != "hello" {
			t.Errorf("response = %+v", r)
		}
	default:
		t.Fatal("expected a response")
	}
}

func TestTwilioService_WebhookMissingFields(t *testing.T) {
	svc := NewTwilioService(twiliosms.NewMockClient())
	rec := postForm(svc.TwilioWebhookHandler, url.Values{"From": {"+15551234567"}}, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestTwilioService_WebhookSignature(t *testing.T) {
	form := url.Values{"From": {"+15551234567"}, "Body": {"hello"}}

	rejecting := NewTwilioService(signingClient{MockClient: twiliosms.NewMockClient(), valid: false})
	rejecting.SetWebhookURL("https://triage.example.org/webhooks/twilio")
	if rec := postForm(rejecting.TwilioWebhookHandler, form, "sig"); rec.Code != http.StatusForbidden {
		t.Errorf("invalid signature status = %d, want 403", rec.Code)
	}

	accepting := NewTwilioService(signingClient{MockClient: twiliosms.NewMockClient(), valid: true})
	accepting.SetWebhookURL("https://triage.example.org/webhooks/twilio")
	if rec := postForm(accepting.TwilioWebhookHandler, form, "sig"); rec.Code != http.StatusOK {
		t.Errorf("valid signature status = %d, want 200", rec.Code)
	}
}

func TestTwilioService_StatusCallback(t *testing.T) {
	svc := NewTwilioService(twiliosms.NewMockClient())
	rec := postForm(svc.TwilioStatusHandler, url.Values{"MessageStatus": {"delivered"}, "To": {"+15551234567"}}, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	select {
	case r := <-svc.Receipts():
		if r.Status != models.MessageStatusDelivered || r.To != "+15551234567" {
			t.Errorf("receipt = %+v", r)
		}
	default:
		t.Fatal("expected a receipt")
	}
}

func TestTwilioService_SendMessage(t *testing.T) {
	mock := twiliosms.NewMockClient()
	svc := NewTwilioService(mock)
	if err := svc.SendMessage(context.Background(), "whatsapp:+15551234567", "hi"); err != nil {
		t.Fatal(err)
	}
	if sent := mock.Sent(); len(sent) != 1 || sent[0].To != "+15551234567" {
		t.Errorf("sent = %+v", sent)
	}
}
