// Package testutil provides common test utilities and helpers for TriagePipe tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BTreeMap/TriagePipe/internal/flow"
	"github.com/BTreeMap/TriagePipe/internal/guardrail"
	"github.com/BTreeMap/TriagePipe/internal/models"
	"github.com/BTreeMap/TriagePipe/internal/sentiment"
	"github.com/BTreeMap/TriagePipe/internal/session"
	"github.com/BTreeMap/TriagePipe/internal/store"
	"github.com/BTreeMap/TriagePipe/internal/triage"
)

// NewSessionStore creates a session store with the default catalog and
// guardrail monitor.
func NewSessionStore(opts ...session.Option) *session.Store {
	return session.NewStore(flow.DefaultCatalog(triage.NewDefaultExtractor()), guardrail.NewDefaultMonitor(), opts...)
}

// CompleteFlow answers every question the flow asks from answers, recording a
// sentiment sample per answer, until the flow is finalizing. A question with
// no answer in the map fails the test.
func CompleteFlow(t testing.TB, sess *session.Session, answers map[models.QuestionKey]string) {
	t.Helper()
	classifier := sentiment.NewDefaultClassifier()
	q, err := sess.Flow.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	for {
		answer, ok := answers[q.Key]
		if !ok {
			t.Fatalf("no answer for %s", q.Key)
		}
		sess.Journey.AddSample(classifier.Classify(answer, sess.Locale))
		step, err := sess.Flow.Submit(answer)
		if err != nil {
			t.Fatalf("Submit(%s): %v", q.Key, err)
		}
		if step.Finalizing() {
			return
		}
		q = *step.Next
	}
}

// OutcomeSaver is the part of a store SeedOutcomes needs.
type OutcomeSaver interface {
	SaveOutcome(o store.Outcome) error
}

// SeedOutcomes saves n outcomes with ids "o0".."o<n-1>", one second apart,
// and returns them oldest first.
func SeedOutcomes(t testing.TB, st OutcomeSaver, n int) []store.Outcome {
	t.Helper()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]store.Outcome, 0, n)
	for i := 0; i < n; i++ {
		o := store.Outcome{
			ID:        fmt.Sprintf("o%d", i),
			SessionID: fmt.Sprintf("s%d", i),
			Locale:    models.LocaleEnglish,
			Urgency:   "routine",
			Trend:     models.TrendStable,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := st.SaveOutcome(o); err != nil {
			t.Fatalf("failed to save outcome %s: %v", o.ID, err)
		}
		out = append(out, o)
	}
	return out
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes an API envelope and validates its status field.
// The result is left raw for the caller to decode.
func AssertJSONResponse(t testing.TB, rr *httptest.ResponseRecorder, expectedStatus models.APIStatus) (string, json.RawMessage) {
	t.Helper()
	var response struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	if response.Status != string(expectedStatus) {
		t.Errorf("expected status '%s', got '%s' (%s)", expectedStatus, response.Status, response.Message)
	}
	return response.Message, response.Result
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t testing.TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	}
	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t testing.TB, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t testing.TB, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
