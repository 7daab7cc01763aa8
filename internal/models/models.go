// Package models defines the core data structures for TriagePipe.
//
// It includes the triage, sentiment, clinic and consult types shared across modules,
// plus the message receipt/response types used by the text channels and the API
// response envelope.
package models

import (
	"errors"
	"strings"
)

// Locale identifies the language a session is conducted in.
type Locale string

const (
	// LocaleEnglish is the default locale.
	LocaleEnglish Locale = "en"
	// LocaleSpanish is the secondary supported locale.
	LocaleSpanish Locale = "es"
)

// DefaultLocale is used when a caller supplies an unknown or empty locale.
const DefaultLocale = LocaleEnglish

// Validation constants for input validation
const (
	// MaxAnswerLength defines the maximum accepted length of a single answer.
	MaxAnswerLength = 2000
	// MaxCountryCodeLength is the length of an ISO 3166-1 alpha-2 code.
	MaxCountryCodeLength = 2
)

// Error variables for better error handling and testability
var (
	ErrEmptyAnswer        = errors.New("answer cannot be empty")
	ErrAnswerTooLong      = errors.New("answer exceeds maximum length")
	ErrInvalidCountryCode = errors.New("country code must be a two-letter ISO code")
	ErrEmptyRecipient     = errors.New("recipient cannot be empty")
)

// IsSupportedLocale reports whether the locale has a full question and keyword set.
func IsSupportedLocale(l Locale) bool {
	switch l {
	case LocaleEnglish, LocaleSpanish:
		return true
	default:
		return false
	}
}

// NormalizeLocale lower-cases the locale, strips any region suffix ("es-MX" -> "es")
// and falls back to DefaultLocale for anything unsupported.
func NormalizeLocale(raw string) Locale {
	l := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.IndexAny(l, "-_"); i > 0 {
		l = l[:i]
	}
	if IsSupportedLocale(Locale(l)) {
		return Locale(l)
	}
	return DefaultLocale
}

// NormalizeCountryCode upper-cases and validates an ISO alpha-2 country code.
func NormalizeCountryCode(raw string) (string, error) {
	cc := strings.ToUpper(strings.TrimSpace(raw))
	if len(cc) != MaxCountryCodeLength {
		return "", ErrInvalidCountryCode
	}
	for _, r := range cc {
		if r < 'A' || r > 'Z' {
			return "", ErrInvalidCountryCode
		}
	}
	return cc, nil
}

// ValidateAnswer checks a raw answer for emptiness and length.
func ValidateAnswer(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ErrEmptyAnswer
	}
	if len(trimmed) > MaxAnswerLength {
		return ErrAnswerTooLong
	}
	return nil
}

// MessageStatus represents the delivery status of a text-channel message.
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// Receipt records a delivery event for an outbound text-channel message.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// Response represents an incoming text-channel message from a user.
type Response struct {
	// ID is the provider message id; redelivered messages share it.
	ID   string `json:"id,omitempty"`
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusFinished indicates the triage session ended with this request.
	APIStatusFinished APIStatus = "finished"
)

// API Response types for consistent JSON responses

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Finished creates a response for a request that completed the triage session.
func Finished(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusFinished).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
