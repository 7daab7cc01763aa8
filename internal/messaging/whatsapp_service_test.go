package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/TriagePipe/internal/models"
	"github.com/BTreeMap/TriagePipe/internal/whatsapp"
)

// Test SendMessage canonicalizes the recipient and emits a sent receipt
func TestWhatsAppService_SendMessage_Receipt(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	if err := svc.SendMessage(context.Background(), "+1 (555) 123-4567", "hello"); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if sent := mockClient.Sent(); len(sent) != 1 || sent[0].To != "+15551234567" {
		t.Errorf("sent = %+v", sent)
	}
	select {
	case receipt := <-svc.Receipts():
		if receipt.To != "+15551234567" || receipt.Status != models.MessageStatusSent {
			t.Errorf("receipt = %+v", receipt)
		}
	default:
		t.Fatal("expected receipt, got none")
	}
}

func TestWhatsAppService_SendMessage_Errors(t *testing.T) {
	mockClient := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mockClient)
	if err := svc.SendMessage(context.Background(), "12", "hi"); err == nil {
		t.Error("expected short number to be rejected")
	}
	mockClient.Err = errors.New("offline")
	if err := svc.SendMessage(context.Background(), "+15551234567", "hi"); err == nil {
		t.Error("expected client error")
	}
	select {
	case r := <-svc.Receipts():
		t.Errorf("unexpected receipt %+v", r)
	default:
	}
}

// Test Start and Stop do not error and close channels
func TestWhatsAppService_StartStop(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
	if _, ok := <-svc.Receipts(); ok {
		t.Error("expected receipts channel closed")
	}
	if _, ok := <-svc.Responses(); ok {
		t.Error("expected responses channel closed")
	}
	if err := svc.SendMessage(context.Background(), "+15551234567", "hi"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("SendMessage after stop = %v, want ErrServiceStopped", err)
	}
}
