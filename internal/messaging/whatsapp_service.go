package messaging

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/TriagePipe/internal/models"
	"github.com/BTreeMap/TriagePipe/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	*channels
	client   whatsapp.WhatsAppSender
	waClient *whatsapp.Client // set when event handling is available
}

var _ Service = (*WhatsAppService)(nil)

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	service := &WhatsAppService{
		channels: newChannels("WhatsAppService"),
		client:   client,
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	return service
}

// ValidateAndCanonicalizeRecipient normalizes a phone number to "+<digits>".
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalPhone(recipient)
}

// Start registers the WhatsApp event handler until ctx is done.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
		return nil
	}
	wa := s.waClient.GetClient()
	id := wa.AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(v)
		case *events.Receipt:
			s.handleMessageReceipt(v)
		}
	})
	go func() {
		<-ctx.Done()
		wa.RemoveEventHandler(id)
		slog.Debug("WhatsAppService event handler removed")
	}()
	slog.Info("WhatsAppService event handler registered")
	return nil
}

// Stop stops background processing.
func (s *WhatsAppService) Stop() error {
	s.stop()
	return nil
}

// SendMessage sends a message and emits a sent receipt.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err)
		return err
	}
	s.emitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	slog.Debug("WhatsAppService message sent and receipt emitted", "body_length", len(body))
	return nil
}

// handleIncomingMessage forwards text messages; media is ignored.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}
	var text string
	switch {
	case evt.Message.Conversation != nil:
		text = *evt.Message.Conversation
	case evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil:
		text = *evt.Message.ExtendedTextMessage.Text
	default:
		slog.Debug("WhatsAppService ignoring non-text message")
		return
	}
	s.emitResponse(models.Response{
		ID:   string(evt.Info.ID),
		From: "+" + evt.Info.Sender.User,
		Body: text,
		Time: evt.Info.Timestamp.Unix(),
	})
}

// handleMessageReceipt processes delivery and read receipts
func (s *WhatsAppService) handleMessageReceipt(evt *events.Receipt) {
	var status models.MessageStatus
	switch evt.Type {
	case events.ReceiptTypeDelivered:
		status = models.MessageStatusDelivered
	case events.ReceiptTypeRead:
		status = models.MessageStatusRead
	default:
		return
	}
	s.emitReceipt(models.Receipt{
		To:     "+" + evt.MessageSource.Sender.User,
		Status: status,
		Time:   evt.Timestamp.Unix(),
	})
}
