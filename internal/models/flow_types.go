// Package models defines flow type definitions to avoid circular imports.
package models

import "time"

// StateType represents a state of the question flow state machine.
type StateType string

// Question flow states.
const (
	StateNotStarted         StateType = "NOT_STARTED"
	StateAsking             StateType = "ASKING"
	StateAnswered           StateType = "ANSWERED"
	StateGuardrailTriggered StateType = "GUARDRAIL_TRIGGERED"
	StateFinalizing         StateType = "FINALIZING"
	StateDone               StateType = "DONE"
)

// PhaseType represents the per-question phase of the turn-taking controller.
type PhaseType string

// Turn-taking phases. At most one of speaking, listening or finalizing is active.
const (
	PhaseIdle         PhaseType = "IDLE"
	PhaseSpeaking     PhaseType = "SPEAKING"
	PhaseListening    PhaseType = "LISTENING"
	PhaseAwaitingText PhaseType = "AWAITING_TEXT"
	PhaseAcknowledge  PhaseType = "ACKNOWLEDGING"
	PhaseFinalizing   PhaseType = "FINALIZING"
	PhaseDone         PhaseType = "DONE"
)

// QuestionKey identifies a question in the static catalog.
type QuestionKey string

// Question keys for the crisis triage catalog.
const (
	KeyTimeSince          QuestionKey = "timeSince"
	KeyExposureType       QuestionKey = "exposureType"
	KeySexualRole         QuestionKey = "sexualRole"
	KeyCondomUsed         QuestionKey = "condomUsed"
	KeyOnPrep             QuestionKey = "onPrep"
	KeyKnownStatus        QuestionKey = "knownStatus"
	KeyPartnerStatus      QuestionKey = "partnerStatus"
	KeyPartnerOnTreatment QuestionKey = "partnerOnTreatment"
	KeySymptoms           QuestionKey = "symptoms"
	KeyIdentity           QuestionKey = "identity"
)

// LogEntry is one finalized question/answer exchange.
type LogEntry struct {
	Key          QuestionKey `json:"key"`
	QuestionText string      `json:"questionText"`
	AnswerText   string      `json:"answerText"`
	Timestamp    time.Time   `json:"timestamp"`
}

// ConversationMessage is a prior turn forwarded to the consult collaborator.
type ConversationMessage struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
