package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/TriagePipe/internal/models"
	"github.com/BTreeMap/TriagePipe/internal/twiliosms"
)

// SignatureValidator checks Twilio webhook signatures.
type SignatureValidator interface {
	ValidateSignature(url string, params map[string]string, signature string) bool
}

// TwilioService implements the Service interface over Twilio SMS. Inbound
// messages arrive through TwilioWebhookHandler.
type TwilioService struct {
	*channels
	client    twiliosms.Sender
	validator SignatureValidator
	publicURL string
}

var _ Service = (*TwilioService)(nil)

// NewTwilioService creates a new TwilioService. When client also implements
// SignatureValidator, webhook requests must carry a valid signature for the
// URL set with SetWebhookURL.
func NewTwilioService(client twiliosms.Sender) *TwilioService {
	s := &TwilioService{
		channels: newChannels("TwilioService"),
		client:   client,
	}
	if v, ok := client.(SignatureValidator); ok {
		s.validator = v
	}
	return s
}

// SetWebhookURL sets the public URL Twilio posts to, used for signature checks.
func (s *TwilioService) SetWebhookURL(url string) {
	s.publicURL = url
}

// ValidateAndCanonicalizeRecipient normalizes a phone number to "+<digits>".
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalPhone(recipient)
}

// Start is a no-op for Twilio; inbound messages arrive by webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service
func (s *TwilioService) Stop() error {
	s.stop()
	return nil
}

// SendMessage sends a message via Twilio and emits a receipt
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err)
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		return err
	}
	s.emitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

// TwilioWebhookHandler handles inbound Twilio webhook requests and emits them
// as models.Response into the Responses() channel.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioService failed to parse webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if s.validator != nil && s.publicURL != "" {
		params := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		if !s.validator.ValidateSignature(s.publicURL, params, r.Header.Get("X-Twilio-Signature")) {
			slog.Warn("TwilioService rejected webhook with invalid signature")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")
	if from == "" || body == "" {
		slog.Warn("TwilioService webhook missing fields", "from_set", from != "", "body_set", body != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	s.emitResponse(models.Response{
		ID:   r.FormValue("MessageSid"),
		From: from,
		Body: body,
		Time: time.Now().Unix(),
	})

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "<Response></Response>")
}

// TwilioStatusHandler records delivery status callbacks as receipts.
func (s *TwilioService) TwilioStatusHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	var status models.MessageStatus
	switch r.FormValue("MessageStatus") {
	case "sent":
		status = models.MessageStatusSent
	case "delivered":
		status = models.MessageStatusDelivered
	case "read":
		status = models.MessageStatusRead
	case "failed", "undelivered":
		status = models.MessageStatusFailed
	default:
		w.WriteHeader(http.StatusNoContent)
		return
	}
	to, err := canonicalPhone(r.FormValue("To"))
	if err != nil {
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	s.emitReceipt(models.Receipt{To: to, Status: status, Time: time.Now().Unix()})
	w.WriteHeader(http.StatusNoContent)
}
