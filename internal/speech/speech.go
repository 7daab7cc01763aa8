// Package speech defines the speech synthesis and capture collaborators used by
// the turn controller, and the error taxonomy they report.
package speech

import (
	"context"
	"errors"
	"fmt"

	"github.com/BTreeMap/TriagePipe/internal/models"
)

// Error kinds. Wrap one of these so Kind can classify the failure.
var (
	// ErrCapabilityUnavailable means the device or account has no such capability.
	// It is permanent for the session.
	ErrCapabilityUnavailable = errors.New("speech capability unavailable")
	// ErrTransient is a network or service failure worth retrying.
	ErrTransient = errors.New("transient speech service failure")
	// ErrRateLimited means the service refused the request due to rate limits.
	ErrRateLimited = errors.New("speech service rate limited")
)

// ErrorKind classifies a collaborator failure.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindCapabilityUnavailable
	KindTransient
	KindRateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindCapabilityUnavailable:
		return "capability_unavailable"
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Kind classifies err. Unclassified errors are treated as transient.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrCapabilityUnavailable):
		return KindCapabilityUnavailable
	default:
		return KindTransient
	}
}

// Request is one synthesis request: the text, the locale voice and the tone
// derived from the latest sentiment sample.
type Request struct {
	Text    string
	Locale  models.Locale
	VoiceID string
	Tone    models.Tone
	Params  models.VoiceParams
}

// Synthesizer turns text into audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) ([]byte, error)
}

// Transcript is a capture result. Interim transcripts may be revised; a final
// transcript is the answer.
type Transcript struct {
	Text  string
	Final bool
}

// Capture is an event-based speech recognizer. At most one capture runs at a
// time. Start delivers transcripts through sink until Stop is called or a final
// transcript is produced.
type Capture interface {
	// Available reports whether capture exists at all. A false result is not an
	// error and means typed input only for the whole session.
	Available() bool
	Start(ctx context.Context, locale models.Locale, sink func(Transcript)) error
	Stop()
}
