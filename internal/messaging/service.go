// Package messaging connects text channels (WhatsApp and SMS) to the triage
// engine: delivery services, inbound routing to text-only sessions and
// outbound formatting.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/BTreeMap/TriagePipe/internal/models"
)

// Constants for service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for receipt and response channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
	// MinPhoneDigits is the shortest accepted phone number.
	MinPhoneDigits = 6
)

var (
	// ErrServiceStopped is returned when sending through a stopped service.
	ErrServiceStopped = errors.New("messaging service stopped")
	// ErrInvalidRecipient wraps recipient validation failures.
	ErrInvalidRecipient = errors.New("invalid recipient")
)

var phoneNumberRegex = regexp.MustCompile(`\D`)

// Service defines a pluggable message delivery abstraction.
// It supports sending messages, and provides channels for receipt and response events.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., event handling).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Receipts returns a channel of receipt events (sent, delivered, read).
	Receipts() <-chan models.Receipt

	// Responses returns a channel of incoming user messages.
	Responses() <-chan models.Response
}

// canonicalPhone strips everything but digits and prefixes "+".
func canonicalPhone(recipient string) (string, error) {
	if recipient == "" {
		return "", models.ErrEmptyRecipient
	}
	digits := phoneNumberRegex.ReplaceAllString(recipient, "")
	if digits == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient")
	}
	if len(digits) < MinPhoneDigits {
		return "", fmt.Errorf("invalid phone number: too short (minimum %d digits required)", MinPhoneDigits)
	}
	return "+" + digits, nil
}
