package models

// RiskLevel is the exposure risk assigned by the risk classifier.
type RiskLevel string

const (
	RiskHigh     RiskLevel = "high"
	RiskModerate RiskLevel = "moderate"
	RiskLow      RiskLevel = "low"
	RiskNone     RiskLevel = "none"
)

// TimeBucket groups the hours since exposure into PEP-relevant windows.
type TimeBucket string

const (
	BucketUnder24 TimeBucket = "<24"
	Bucket24To48  TimeBucket = "24-48"
	Bucket48To72  TimeBucket = "48-72"
	BucketOver72  TimeBucket = ">72"
)

// PEPWindowHours is the maximum time after exposure within which PEP can be started.
const PEPWindowHours = 72

// BucketForHours maps hours since exposure to its half-open bucket:
// [0,24) -> "<24", [24,48) -> "24-48", [48,72) -> "48-72", [72,inf) -> ">72".
func BucketForHours(hours float64) TimeBucket {
	switch {
	case hours < 24:
		return BucketUnder24
	case hours < 48:
		return Bucket24To48
	case hours < 72:
		return Bucket48To72
	default:
		return BucketOver72
	}
}

// Categorical values produced by the extractor. Every categorical field is a
// pointer in TriageData; nil means the transcript did not determine it.
const (
	ExposureAnal    = "anal"
	ExposureVaginal = "vaginal"
	ExposureOral    = "oral"
	ExposureNeedle  = "needle"

	CondomYes    = "yes"
	CondomNo     = "no"
	CondomBroken = "broken"

	PrepYes = "yes"
	PrepNo  = "no"

	PartnerPositive = "positive"
	PartnerNegative = "negative"
	PartnerUnknown  = "unknown"

	TreatmentUndetectable  = "undetectable"
	TreatmentNotSuppressed = "not_suppressed"
	TreatmentUnknown       = "unknown"

	RoleReceptive = "receptive"
	RoleInsertive = "insertive"
	RoleBoth      = "both"
)

// TriageData is the structured set of facts extracted from a session transcript.
// It is recomputed from the full transcript at finalization and never partially mutated.
type TriageData struct {
	TimeSinceHours     *float64    `json:"timeSinceHours"`
	TimeSinceBucket    *TimeBucket `json:"timeSinceBucket"`
	ExposureType       *string     `json:"exposureType"`
	CondomUsed         *string     `json:"condomUsed"`
	OnPrep             *string     `json:"onPrep"`
	PartnerStatus      *string     `json:"partnerStatus"`
	PartnerOnTreatment *string     `json:"partnerOnTreatment"`
	SexualRole         *string     `json:"sexualRole"`
	LGBTQIAPlus        bool        `json:"lgbtqiaPlus"`
	STISymptoms        bool        `json:"stiSymptoms"`
	HasInjury          bool        `json:"hasInjury"`
	NoRiskContact      bool        `json:"noRiskContact"`
	RiskLevel          *RiskLevel  `json:"riskLevel"`
}

// HoursRemaining returns the PEP window hours left, and false when the time since
// exposure is unknown. A non-positive value means the window has closed.
func (t TriageData) HoursRemaining() (float64, bool) {
	if t.TimeSinceHours == nil {
		return 0, false
	}
	return PEPWindowHours - *t.TimeSinceHours, true
}

// WindowClosed reports whether the exposure is known to be outside the PEP window.
func (t TriageData) WindowClosed() bool {
	remaining, ok := t.HoursRemaining()
	return ok && remaining <= 0
}

// Is reports whether an optional categorical field holds the given value.
func Is(field *string, value string) bool {
	return field != nil && *field == value
}

// Risk returns the risk level, or the empty string when undetermined.
func (t TriageData) Risk() RiskLevel {
	if t.RiskLevel == nil {
		return ""
	}
	return *t.RiskLevel
}

// Urgency is a derived label describing how urgently PEP should be sought.
type Urgency string

const (
	UrgencyCritical     Urgency = "CRITICAL URGENCY"
	UrgencyHigh         Urgency = "HIGH URGENCY"
	UrgencyTimeUnknown  Urgency = "URGENT - TIME UNKNOWN"
	UrgencyWindowClosed Urgency = "PEP WINDOW CLOSED"
	UrgencyRoutine      Urgency = "ROUTINE"
)

// Escalated reports whether the urgency asks the user to act immediately.
func (u Urgency) Escalated() bool {
	return u == UrgencyCritical || u == UrgencyHigh || u == UrgencyTimeUnknown
}
